package overlay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meta-hybrid/hymount/internal/umount"
)

func TestBuildMountOptionsJoinsLayersHighestPriorityFirstWithTargetLast(t *testing.T) {
	opts := buildMountOptions("/system", []string{"/z", "/a"})
	require.Equal(t, "lowerdir=/z:/a:/system", opts)
}

func TestPartitionTarget(t *testing.T) {
	require.Equal(t, "/vendor", PartitionTarget("vendor"))
}

func TestMountPartitionSkipsWhenNoLayers(t *testing.T) {
	q := umount.New()
	err := MountPartition(context.Background(), q, "/system", nil, false)
	require.NoError(t, err)
	require.Zero(t, q.Len())
}
