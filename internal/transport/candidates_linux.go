//go:build linux

package transport

// Candidates lists USB serial adapters, CDC-ACM boards, Jetson UARTs and the
// Raspberry Pi primary UART.
func (SystemLister) Candidates() ([]string, error) {
	return globCandidates("/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyTHS*", "/dev/serial0")
}
