package pipeline

import (
	"github.com/couchcryptid/flood-telemetry/internal/domain"
)

// LineTransformer implements the parse and normalize stages for one raw
// line.
type LineTransformer struct {
	parser     *domain.Parser
	normalizer *domain.Normalizer
}

// NewTransformer creates a LineTransformer from a configured parser and
// normalizer.
func NewTransformer(parser *domain.Parser, normalizer *domain.Normalizer) *LineTransformer {
	return &LineTransformer{
		parser:     parser,
		normalizer: normalizer,
	}
}

// Transform decodes a line into a Reading. The detected encoding is returned
// even on rejection so the caller can attribute the failure.
func (t *LineTransformer) Transform(line string) (domain.Reading, domain.Encoding, error) {
	fm, enc, err := t.parser.Parse(line)
	if err != nil {
		return domain.Reading{}, enc, err
	}
	return t.normalizer.Normalize(fm), enc, nil
}
