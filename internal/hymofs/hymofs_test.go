package hymofs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) (*Client, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "hymofs-test-*")
	require.NoError(t, err)
	return New(), func() { os.RemoveAll(dir) }
}

func TestCheckStatusNotPresentWhenDeviceMissing(t *testing.T) {
	c, cleanup := setupTestClient(t)
	defer cleanup()
	c.devicePath = filepath.Join(t.TempDir(), "does-not-exist")

	require.Equal(t, StatusNotPresent, c.CheckStatus())
	require.False(t, c.IsAvailable())
}

func TestInjectDirectorySkipsMissingModuleDir(t *testing.T) {
	c, cleanup := setupTestClient(t)
	defer cleanup()

	err := c.InjectDirectory(context.Background(), "/system", filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
}

func TestStatusStringValues(t *testing.T) {
	require.Equal(t, "available", StatusAvailable.String())
	require.Equal(t, "kernel_too_old", StatusKernelTooOld.String())
	require.Equal(t, "module_too_old", StatusModuleTooOld.String())
}
