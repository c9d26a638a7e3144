//go:build !unix

package transport

import "errors"

// ErrDeviceBusy means another process holds the device lock.
var ErrDeviceBusy = errors.New("device is locked by another process")

// lockDevice is a no-op: Windows serial ports are already opened
// exclusively by the OS.
func lockDevice(string) (func(), error) {
	return func() {}, nil
}
