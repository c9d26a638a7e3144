//go:build unix

package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockDevice_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ttyFAKE0")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	unlock, err := lockDevice(path)
	require.NoError(t, err)

	_, err = lockDevice(path)
	require.ErrorIs(t, err, ErrDeviceBusy)

	unlock()
	unlock2, err := lockDevice(path)
	require.NoError(t, err)
	unlock2()
}

func TestLockDevice_Missing(t *testing.T) {
	_, err := lockDevice(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeviceBusy)
}
