package umount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T) *Queue {
	t.Helper()
	return New()
}

func TestRegisterDeferredUnmountDedupes(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.RegisterDeferredUnmount(ctx, "/system/vendor"))
	require.NoError(t, q.RegisterDeferredUnmount(ctx, "/system/vendor"))

	require.Equal(t, 1, q.Len())
}

func TestRegisterDeferredUnmountEmptyPathIsNoop(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.RegisterDeferredUnmount(ctx, ""))
	require.Equal(t, 0, q.Len())
}

func TestRegisterDeferredUnmountCanonicalizesPath(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.RegisterDeferredUnmount(ctx, "/system/vendor/"))
	require.NoError(t, q.RegisterDeferredUnmount(ctx, "/system/vendor"))

	require.Equal(t, 1, q.Len())
}
