package transport

import (
	"path/filepath"
	"slices"
)

// CandidateLister enumerates serial devices worth trying in AUTO mode, in
// preference order.
type CandidateLister interface {
	Candidates() ([]string, error)
}

// SystemLister lists the devices typical for the running platform. See the
// candidates_*.go files for the per-platform patterns.
type SystemLister struct{}

// StaticLister returns a fixed candidate list.
type StaticLister []string

func (l StaticLister) Candidates() ([]string, error) {
	return slices.Clone(l), nil
}

// globCandidates expands patterns in order, dropping duplicates.
func globCandidates(patterns ...string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, err
		}
		slices.Sort(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}
