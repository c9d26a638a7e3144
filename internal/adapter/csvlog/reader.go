package csvlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/couchcryptid/flood-telemetry/internal/domain"
)

// ReadResult is the outcome of replaying a record store.
type ReadResult struct {
	Readings []domain.Reading
	// Version is the layout of the last header row seen.
	Version SchemaVersion
	// Epochs counts header rows.
	Epochs int
	// Skipped counts malformed rows that were dropped.
	Skipped int
}

// Since returns the readings with a timestamp after t, in file order.
func (r ReadResult) Since(t time.Time) []domain.Reading {
	var out []domain.Reading
	for _, rd := range r.Readings {
		if rd.Timestamp.After(t) {
			out = append(out, rd)
		}
	}
	return out
}

// ReadFile replays the record store at path. A missing file returns an error
// matching fs.ErrNotExist.
func ReadFile(path string) (ReadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReadResult{}, err
	}
	defer f.Close()
	return Read(f)
}

// Read replays a record store. Header rows switch the active column layout,
// rows shorter than their layout are accepted with trailing fields absent,
// and malformed rows are skipped and counted. Rows before the first header
// are read with the V1 layout.
func Read(r io.Reader) (ReadResult, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	var (
		res    ReadResult
		layout = SchemaV1
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("read record store: %w", err)
		}

		if v, ok := isHeader(rec); ok {
			layout = v
			res.Version = v
			res.Epochs++
			continue
		}
		rd, ok := decode(rec, layout)
		if !ok {
			res.Skipped++
			continue
		}
		res.Readings = append(res.Readings, rd)
	}
	return res, nil
}
