//go:build darwin

package transport

func (SystemLister) Candidates() ([]string, error) {
	return globCandidates("/dev/tty.usbserial*", "/dev/tty.usbmodem*", "/dev/cu.usb*")
}
