//go:build windows

package transport

import "strconv"

// Candidates lists COM1 through COM32. Windows offers no cheap enumeration
// without the registry, and opening an absent port fails fast.
func (SystemLister) Candidates() ([]string, error) {
	out := make([]string, 0, 32)
	for i := 1; i <= 32; i++ {
		out = append(out, "COM"+strconv.Itoa(i))
	}
	return out, nil
}
