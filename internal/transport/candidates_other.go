//go:build !linux && !darwin && !windows

package transport

func (SystemLister) Candidates() ([]string, error) {
	return nil, nil
}
