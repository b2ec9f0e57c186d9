// Package driver implements the Driver Gate and Driver Version Probe:
// acquiring the privileged kernel driver file descriptor via the
// reboot-syscall handshake, and issuing the GET_INFO ioctl to confirm
// the host kernel supports the driver before orchestration proceeds.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/meta-hybrid/hymount/internal/ioctlnr"
	"github.com/meta-hybrid/hymount/internal/logger"
)

const (
	installMagic1 = 0xDEADBEEF
	installMagic2 = 0xCAFEBABE

	driverIOCType = uint32('K')
)

// getInfoNr, addTryUmountNr, and nukeExt4SysfsNr are derived once via
// the shared _IOC macros rather than hardcoded, per the ABI contract.
var (
	getInfoNr       = ioctlnr.IOR(driverIOCType, 1, 8) // {u32 version; u32 flags}
	addTryUmountNr  = ioctlnr.IOW(driverIOCType, 18, 0)
	nukeExt4SysfsNr = ioctlnr.IOW(driverIOCType, 19, 0)
)

// ErrUnsupportedHost is returned by Probe when the driver is absent or
// the GET_INFO ioctl fails; the orchestrator treats this as fatal.
var ErrUnsupportedHost = errors.New("driver: only supported on the target kernel-assisted environment")

// Info is the payload of the GET_INFO ioctl.
type Info struct {
	Version uint32
	Flags   uint32
}

// addTryUmount mirrors the KsuAddTryUmount C struct.
type addTryUmount struct {
	Arg   uint64
	Flags uint32
	Mode  uint8
	_     [3]byte // struct padding to match the C ABI
}

// nukeExt4Sysfs mirrors the NukeExt4SysfsCmd C struct.
type nukeExt4Sysfs struct {
	Arg uint64
}

var (
	fdOnce sync.Once
	fd     int32 = -1
)

// Gate acquires and memoizes the privileged kernel driver file
// descriptor for the life of the process, via the reboot-syscall
// handshake. A negative return means the driver is unavailable; this
// is not itself fatal — Probe decides.
func Gate() int32 {
	fdOnce.Do(func() {
		var out int32 = -1
		_, _, _ = unix.Syscall6(unix.SYS_REBOOT, installMagic1, installMagic2, 0, uintptr(unsafe.Pointer(&out)), 0, 0)
		fd = out
	})
	return fd
}

// Probe issues the GET_INFO ioctl and returns the driver's reported
// version and flags. Returns ErrUnsupportedHost if the gate could not
// acquire an FD or the ioctl failed; callers should treat that as a
// fatal startup error.
func Probe(ctx context.Context) (Info, error) {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemDriver)

	driverFD := Gate()
	if driverFD < 0 {
		log.Error("driver fd unavailable")
		return Info{}, ErrUnsupportedHost
	}

	var info Info
	if err := ioctl(uintptr(driverFD), getInfoNr, uintptr(unsafe.Pointer(&info))); err != nil {
		log.Error("GET_INFO ioctl failed", "error", err)
		return Info{}, ErrUnsupportedHost
	}

	log.Info("driver version probed", "version", info.Version, "flags", info.Flags)
	return info, nil
}

// RegisterDeferredUnmount issues KSU_IOCTL_ADD_TRY_UMOUNT for the given
// path. If the driver FD is unavailable the call is silently dropped
// (the host may be mid-boot); any other ioctl error is logged but not
// fatal. Callers are expected to have already deduplicated path.
func RegisterDeferredUnmount(ctx context.Context, path string) error {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemDriver)

	driverFD := Gate()
	if driverFD < 0 {
		return nil
	}

	pathBytes, err := unix.BytePtrFromString(path)
	if err != nil {
		return fmt.Errorf("driver: invalid path %q: %w", path, err)
	}

	cmd := addTryUmount{
		Arg:   uint64(uintptr(unsafe.Pointer(pathBytes))),
		Flags: 2,
		Mode:  1,
	}

	if err := ioctl(uintptr(driverFD), addTryUmountNr, uintptr(unsafe.Pointer(&cmd))); err != nil {
		log.Warn("deferred unmount registration failed", "path", path, "error", err)
		return nil
	}
	return nil
}

// NukeExt4Sysfs issues KSU_IOCTL_NUKE_EXT4_SYSFS against the named
// sysfs path. Unlike RegisterDeferredUnmount this is a deliberate,
// user-invoked operation and its errors propagate to the caller.
func NukeExt4Sysfs(target string) error {
	driverFD := Gate()
	if driverFD < 0 {
		return errors.New("driver: not available")
	}

	pathBytes, err := unix.BytePtrFromString(target)
	if err != nil {
		return fmt.Errorf("driver: invalid sysfs path %q: %w", target, err)
	}

	cmd := nukeExt4Sysfs{Arg: uint64(uintptr(unsafe.Pointer(pathBytes)))}
	if err := ioctl(uintptr(driverFD), nukeExt4SysfsNr, uintptr(unsafe.Pointer(&cmd))); err != nil {
		return fmt.Errorf("driver: nuke ext4 sysfs ioctl failed: %w", err)
	}
	return nil
}

func ioctl(fd uintptr, nr uint32, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(nr), arg)
	if errno != 0 {
		return errno
	}
	return nil
}
