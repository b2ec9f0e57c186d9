// Package overlay is the thin collaborator that actually invokes the
// kernel's overlay filesystem: combining an ordered list of module
// content directories as lowerdirs over a live system partition.
package overlay

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/meta-hybrid/hymount/internal/logger"
	"github.com/meta-hybrid/hymount/internal/paths"
	"github.com/meta-hybrid/hymount/internal/umount"
)

const selinuxContext = "u:object_r:system_file:s0"

// MountPartition overlay-mounts target (e.g. "/system") using lowerdirs
// in highest-priority-first order — the same convention the planner's
// Plan.OverlayOps use and the one overlayfs's own lowerdir= option
// expects, so the first entry wins a same-path conflict. When
// disableUmount is false, any previous mount at target is queued for
// deferred unmount via q once the new mount is established; when true,
// no deferred unmount is registered, leaving the previous mount's
// lifetime to the caller.
func MountPartition(ctx context.Context, q *umount.Queue, target string, lowerdirs []string, disableUmount bool) error {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemOverlay)

	if len(lowerdirs) == 0 {
		log.Debug("no layers for partition, skipping overlay mount", "target", target)
		return nil
	}

	options := buildMountOptions(target, lowerdirs)

	if err := unix.Mount("overlay", target, "overlay", 0, options); err != nil {
		return fmt.Errorf("overlay: mounting %s: %w", target, err)
	}

	if err := setSELinuxContext(target); err != nil {
		log.Warn("failed to set selinux context on overlay target", "target", target, "error", err)
	}

	if !disableUmount {
		if err := q.RegisterDeferredUnmount(ctx, target); err != nil {
			log.Warn("failed to register deferred unmount", "target", target, "error", err)
		}
	}

	log.Info("mounted overlay partition", "target", target, "layers", len(lowerdirs))
	return nil
}

// buildMountOptions renders the overlay mount option string. lowerdirs
// already arrive highest-priority-first, matching overlayfs's own
// lowerdir= convention, so they're joined as-is with target appended
// last as the base layer.
func buildMountOptions(target string, lowerdirs []string) string {
	return fmt.Sprintf("lowerdir=%s:%s", strings.Join(lowerdirs, ":"), target)
}

func setSELinuxContext(path string) error {
	return unix.Lsetxattr(path, "security.selinux", []byte(selinuxContext), 0)
}

// IsSymlink reports whether path exists and is a symlink, used to
// decide whether a synthetic partition (vendor/system_ext/product)
// should be re-parented under /system rather than mounted standalone.
func IsSymlink(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// PartitionTarget returns the absolute mount target for a partition
// name, e.g. "vendor" -> "/vendor".
func PartitionTarget(partition string) string {
	return paths.PartitionTarget(partition)
}
