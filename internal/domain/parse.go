package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// ErrRejected marks a line that produced no usable fields. Rejected lines
// are dropped and never retried.
var ErrRejected = errors.New("line rejected")

// Encoding is the wire encoding a line was classified as.
type Encoding int

const (
	EncodingNone Encoding = iota
	EncodingStructured
	EncodingKeyValue
	EncodingFixedOrder
	EncodingOpaque
)

func (e Encoding) String() string {
	switch e {
	case EncodingStructured:
		return "structured"
	case EncodingKeyValue:
		return "key_value"
	case EncodingFixedOrder:
		return "fixed_order"
	case EncodingOpaque:
		return "opaque"
	default:
		return "none"
	}
}

// RejectError describes why a line was rejected. It matches ErrRejected
// under errors.Is.
type RejectError struct {
	Encoding Encoding
	Reason   string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s: %s line: %s", ErrRejected, e.Encoding, e.Reason)
}

func (e *RejectError) Is(target error) bool {
	return target == ErrRejected
}

func reject(enc Encoding, reason string) error {
	return &RejectError{Encoding: enc, Reason: reason}
}

// Classify picks the encoding of a raw line from its structural markers, in
// fixed priority order: a leading '{' means structured, any '=' means
// key=value, any ',' means fixed-order, anything else non-empty is an opaque
// token. The first match is final; a malformed line never falls through to a
// lower-priority encoding.
func Classify(line string) Encoding {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return EncodingNone
	case strings.HasPrefix(line, "{"):
		return EncodingStructured
	case strings.Contains(line, "="):
		return EncodingKeyValue
	case strings.Contains(line, ","):
		return EncodingFixedOrder
	default:
		return EncodingOpaque
	}
}

// DefaultFieldOrder is the positional layout of fixed-order lines.
var DefaultFieldOrder = []string{"rain_in", "hum_pct", "temp_f", "level", "lat", "lon"}

// Parser converts raw lines into field maps.
type Parser struct {
	aliases  *Aliases
	order    []Field
	minFixed int
}

// NewParser builds a parser. order names the fixed-order columns by any
// recognized alias; minFixed is the fewest values a fixed-order line may
// carry before it is rejected.
func NewParser(aliases *Aliases, order []string, minFixed int) (*Parser, error) {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	if len(order) == 0 {
		order = DefaultFieldOrder
	}
	fields := make([]Field, 0, len(order))
	for _, key := range order {
		f, ok := aliases.Resolve(strings.TrimSpace(key))
		if !ok {
			return nil, fmt.Errorf("field order: unknown field %q", key)
		}
		fields = append(fields, f)
	}
	if minFixed < 1 || minFixed > len(fields) {
		return nil, fmt.Errorf("field order: minimum of %d fields is outside 1..%d", minFixed, len(fields))
	}
	return &Parser{aliases: aliases, order: fields, minFixed: minFixed}, nil
}

// Parse classifies and decodes one line. It returns the encoding used even
// when the line is rejected, so callers can attribute failures.
func (p *Parser) Parse(line string) (FieldMap, Encoding, error) {
	line = strings.TrimSpace(line)
	enc := Classify(line)

	var (
		fm  FieldMap
		err error
	)
	switch enc {
	case EncodingStructured:
		fm, err = p.parseStructured(line)
	case EncodingKeyValue:
		fm = p.parseKeyValue(line)
	case EncodingFixedOrder:
		fm, err = p.parseFixedOrder(line)
	case EncodingOpaque:
		fm = FieldMap{FieldLevel: line}
	default:
		return nil, enc, reject(enc, "empty line")
	}
	if err != nil {
		return nil, enc, err
	}
	if len(fm) == 0 {
		return nil, enc, reject(enc, "no recognized fields")
	}
	return fm, enc, nil
}

func (p *Parser) parseStructured(line string) (FieldMap, error) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, reject(EncodingStructured, "malformed document: "+err.Error())
	}
	if dec.More() {
		return nil, reject(EncodingStructured, "trailing data after document")
	}

	// Sorted so that two aliases of one field resolve deterministically.
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fm := make(FieldMap)
	for _, k := range keys {
		f, ok := p.aliases.Resolve(k)
		if !ok {
			continue
		}
		switch v := doc[k].(type) {
		case json.Number:
			fm[f] = v.String()
		case string:
			fm[f] = strings.TrimSpace(v)
		case bool:
			fm[f] = fmt.Sprint(v)
		}
	}
	return fm, nil
}

func (p *Parser) parseKeyValue(line string) FieldMap {
	tokens := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})

	fm := make(FieldMap)
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			continue
		}
		f, ok := p.aliases.Resolve(key)
		if !ok {
			continue
		}
		fm[f] = strings.Trim(value, `"'`)
	}
	return fm
}

func (p *Parser) parseFixedOrder(line string) (FieldMap, error) {
	cells := strings.Split(line, ",")
	if len(cells) < p.minFixed {
		return nil, reject(EncodingFixedOrder, fmt.Sprintf("%d values, need at least %d", len(cells), p.minFixed))
	}

	fm := make(FieldMap)
	for i, cell := range cells {
		if i >= len(p.order) {
			break
		}
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		fm[p.order[i]] = cell
	}
	return fm, nil
}

// SanitizeLine turns raw transport bytes into a line: trailing CR/LF
// removed, invalid UTF-8 replaced, NUL bytes dropped.
func SanitizeLine(raw []byte) string {
	raw = bytes.TrimRight(raw, "\r\n")
	raw = bytes.ReplaceAll(raw, []byte{0}, nil)
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), "�"))
}
