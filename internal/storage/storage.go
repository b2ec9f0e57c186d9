// Package storage implements the Writable Storage Provisioner:
// preferring a tmpfs backing for the module content mount point and
// falling back to a loopback ext4 image when tmpfs lacks xattr
// support (required for SELinux labeling), including ext4 image
// creation and fsck-based repair of a corrupt image.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/meta-hybrid/hymount/internal/logger"
)

const (
	defaultSELinuxContext = "u:object_r:system_file:s0"
	selinuxXattrKey       = "security.selinux"
	ext4ImageSize         = "2G"
)

// ErrRepairFailed is returned when an ext4 image mount fails and the
// subsequent e2fsck repair attempt also fails.
var ErrRepairFailed = errors.New("storage: failed to repair modules image")

// Mode names the backing store actually provisioned.
type Mode string

const (
	ModeTmpfs Mode = "tmpfs"
	ModeExt4  Mode = "ext4"
)

// Handle describes a provisioned writable mount.
type Handle struct {
	MountPoint string
	Mode       Mode
}

// Setup mounts mountPoint on tmpfs, unless forceExt4 is set or the
// tmpfs lacks SELinux xattr support, in which case it provisions a
// loopback ext4 image at imgPath instead. Any existing mount at
// mountPoint is lazily detached first.
func Setup(ctx context.Context, mountPoint, imgPath string, forceExt4 bool) (*Handle, error) {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemStorage)

	if isMounted(mountPoint) {
		_ = unix.Unmount(mountPoint, unix.MNT_DETACH)
	}
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return nil, fmt.Errorf("storage: creating mount point: %w", err)
	}

	if !forceExt4 {
		ok, err := tryTmpfs(mountPoint)
		if err != nil {
			log.Warn("tmpfs mount attempt failed", "error", err)
		}
		if ok {
			log.Info("provisioned tmpfs storage", "mount_point", mountPoint)
			return &Handle{MountPoint: mountPoint, Mode: ModeTmpfs}, nil
		}
		log.Info("tmpfs unavailable or lacks xattr support, falling back to ext4")
	}

	return setupExt4(ctx, mountPoint, imgPath)
}

func tryTmpfs(target string) (bool, error) {
	if err := unix.Mount("tmpfs", target, "tmpfs", 0, "mode=0755"); err != nil {
		return false, err
	}
	if isXattrSupported(target) {
		return true, nil
	}
	_ = unix.Unmount(target, unix.MNT_DETACH)
	return false, nil
}

func isXattrSupported(base string) bool {
	testFile := filepath.Join(base, ".xattr_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return false
	}
	defer os.Remove(testFile)
	return setSELinuxContext(testFile, defaultSELinuxContext) == nil
}

func setupExt4(ctx context.Context, target, imgPath string) (*Handle, error) {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemStorage)

	if _, err := os.Stat(imgPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(imgPath), 0755); err != nil {
			return nil, fmt.Errorf("storage: creating image parent dir: %w", err)
		}
		if err := createImage(imgPath); err != nil {
			return nil, fmt.Errorf("storage: creating modules image: %w", err)
		}
	}

	if err := mountImage(imgPath, target); err != nil {
		log.Warn("mounting modules image failed, attempting repair", "error", err)
		if !repairImage(imgPath) {
			return nil, ErrRepairFailed
		}
		if err := mountImage(imgPath, target); err != nil {
			return nil, fmt.Errorf("storage: mounting modules image after repair: %w", err)
		}
	}

	return &Handle{MountPoint: target, Mode: ModeExt4}, nil
}

func mountImage(imgPath, target string) error {
	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}
	out, err := exec.Command("mount", "-o", "loop,rw,noatime", imgPath, target).CombinedOutput()
	if err != nil {
		return fmt.Errorf("mount command failed: %w: %s", err, out)
	}
	return nil
}

// repairImage runs e2fsck -y -f against the image, treating any exit
// code of 2 or below as a recoverable state (filesystem errors were
// corrected).
func repairImage(imgPath string) bool {
	cmd := exec.Command("e2fsck", "-y", "-f", imgPath)
	err := cmd.Run()
	if err == nil {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() <= 2 {
		return true
	}
	return false
}

func createImage(path string) error {
	if out, err := exec.Command("truncate", "-s", ext4ImageSize, path).CombinedOutput(); err != nil {
		return fmt.Errorf("allocating image file: %w: %s", err, out)
	}
	if out, err := exec.Command("mkfs.ext4", "-O", "^has_journal", path).CombinedOutput(); err != nil {
		return fmt.Errorf("formatting image file: %w: %s", err, out)
	}
	return nil
}

// FinalizePermissions sets root:root 0755 ownership and the default
// SELinux context on the storage root, so overlay-mounted content
// underneath is not rejected by the platform's MAC policy.
func FinalizePermissions(ctx context.Context, target string) {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemStorage)

	if err := os.Chmod(target, 0755); err != nil {
		log.Warn("failed to chmod storage root", "error", err)
	}
	if err := os.Chown(target, 0, 0); err != nil {
		log.Warn("failed to chown storage root", "error", err)
	}
	if err := setSELinuxContext(target, defaultSELinuxContext); err != nil {
		log.Warn("failed to set selinux context", "error", err)
	}
}

func setSELinuxContext(path, context string) error {
	return unix.Lsetxattr(path, selinuxXattrKey, []byte(context), 0)
}

// isMounted reports whether path appears as a distinct mount point by
// comparing its device number against its parent's.
func isMounted(path string) bool {
	var pathStat, parentStat unix.Stat_t
	if err := unix.Stat(path, &pathStat); err != nil {
		return false
	}
	if err := unix.Stat(filepath.Dir(path), &parentStat); err != nil {
		return false
	}
	return pathStat.Dev != parentStat.Dev
}
