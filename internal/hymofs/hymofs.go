// Package hymofs implements the Companion FS Client: opening the
// rewrite-filesystem control device at /dev/hymo_ctl, probing its
// protocol version, and issuing add-rule / hide-path / clear /
// set-debug / list / delete commands.
package hymofs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"unsafe"

	securejoin "github.com/cyphar/filepath-securejoin"
	"golang.org/x/sys/unix"

	"github.com/meta-hybrid/hymount/internal/ioctlnr"
	"github.com/meta-hybrid/hymount/internal/logger"
)

const (
	devicePath     = "/dev/hymo_ctl"
	ioctlMagic     = 0xE0
	protocolVersion = 2
)

var (
	addRuleNr    = ioctlnr.IOW(ioctlMagic, 1, ruleArgSize)
	delRuleNr    = ioctlnr.IOW(ioctlMagic, 2, ruleArgSize)
	hideRuleNr   = ioctlnr.IOW(ioctlMagic, 3, ruleArgSize)
	clearAllNr   = ioctlnr.IO(ioctlMagic, 5)
	getVersionNr = ioctlnr.IOR(ioctlMagic, 6, 4)
	listRulesNr  = ioctlnr.IOWR(ioctlMagic, 7, listArgSize)
	setDebugNr   = ioctlnr.IOW(ioctlMagic, 8, 4)
)

const (
	ruleArgSize = 24 // {src *char; target *char; type int32} on a 64-bit ABI
	listArgSize = 16 // {buf *char; size usize}
	listBufSize = 128 * 1024
)

// ruleArg mirrors the HymoIoctlArg C struct: two NUL-terminated string
// pointers and a rule type.
type ruleArg struct {
	Src    uintptr
	Target uintptr
	Type   int32
	_      int32 // padding to match the C struct's alignment
}

// listArg mirrors the HymoIoctlListArg C struct.
type listArg struct {
	Buf  uintptr
	Size uint64
}

// Status is the Companion FS's availability classification.
type Status int

const (
	StatusAvailable Status = iota
	StatusNotPresent
	StatusProtocolMismatch
	StatusKernelTooOld
	StatusModuleTooOld
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusNotPresent:
		return "not_present"
	case StatusProtocolMismatch:
		return "protocol_mismatch"
	case StatusKernelTooOld:
		return "kernel_too_old"
	case StatusModuleTooOld:
		return "module_too_old"
	default:
		return "unknown"
	}
}

// Client talks to the companion filesystem control device.
type Client struct {
	devicePath string
}

// New creates a Client bound to the default control device path.
func New() *Client {
	return &Client{devicePath: devicePath}
}

// NewWithDevice creates a Client bound to an explicit control device
// path, for callers that source it from internal/paths rather than
// the package default.
func NewWithDevice(path string) *Client {
	return &Client{devicePath: path}
}

func (c *Client) openDev() (*os.File, error) {
	f, err := os.OpenFile(c.devicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("hymofs: failed to open %s: %w", c.devicePath, err)
	}
	return f, nil
}

// CheckStatus probes device presence and protocol version. NotPresent
// if the device node does not exist; a version lower than the compiled
// protocol yields KernelTooOld, higher yields ModuleTooOld, equal
// yields Available, and any ioctl failure yields ProtocolMismatch.
func (c *Client) CheckStatus() Status {
	if _, err := os.Stat(c.devicePath); err != nil {
		return StatusNotPresent
	}

	version, err := c.GetVersion()
	if err != nil {
		return StatusProtocolMismatch
	}

	switch {
	case version == protocolVersion:
		return StatusAvailable
	case version < protocolVersion:
		return StatusKernelTooOld
	default:
		return StatusModuleTooOld
	}
}

// IsAvailable reports whether CheckStatus returns Available.
func (c *Client) IsAvailable() bool {
	return c.CheckStatus() == StatusAvailable
}

// GetVersion issues the GET_VERSION ioctl.
func (c *Client) GetVersion() (int32, error) {
	f, err := c.openDev()
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var version int32
	if err := ioctl(f.Fd(), getVersionNr, uintptr(unsafe.Pointer(&version))); err != nil {
		return 0, fmt.Errorf("hymofs: get_version ioctl failed: %w", err)
	}
	return version, nil
}

// Clear issues CLEAR_ALL, removing every active rewrite rule.
func (c *Client) Clear(ctx context.Context) error {
	logger.FromContext(ctx).With("subsystem", logger.SubsystemHymoFS).Debug("clearing all rules")
	f, err := c.openDev()
	if err != nil {
		return err
	}
	defer f.Close()

	if err := ioctl(f.Fd(), clearAllNr, 0); err != nil {
		return fmt.Errorf("hymofs: clear failed: %w", err)
	}
	return nil
}

// SetDebug toggles the companion filesystem's debug logging.
func (c *Client) SetDebug(enable bool) error {
	f, err := c.openDev()
	if err != nil {
		return err
	}
	defer f.Close()

	var val int32
	if enable {
		val = 1
	}
	if err := ioctl(f.Fd(), setDebugNr, uintptr(unsafe.Pointer(&val))); err != nil {
		return fmt.Errorf("hymofs: set_debug failed: %w", err)
	}
	return nil
}

// AddRule registers a rewrite rule redirecting opens of target to src.
func (c *Client) AddRule(ctx context.Context, src, target string, ruleType int32) error {
	logger.FromContext(ctx).With("subsystem", logger.SubsystemHymoFS).
		Debug("add_rule", "src", src, "target", target, "type", ruleType)
	return c.submitRule(addRuleNr, src, target, ruleType)
}

// DeleteRule removes a previously registered rule for src.
func (c *Client) DeleteRule(ctx context.Context, src string) error {
	logger.FromContext(ctx).With("subsystem", logger.SubsystemHymoFS).Debug("del_rule", "src", src)
	return c.submitRule(delRuleNr, src, "", 0)
}

// HidePath registers a whiteout-equivalent hide rule for path.
func (c *Client) HidePath(ctx context.Context, path string) error {
	logger.FromContext(ctx).With("subsystem", logger.SubsystemHymoFS).Debug("hide_rule", "path", path)
	return c.submitRule(hideRuleNr, path, "", 0)
}

func (c *Client) submitRule(nr uint32, src, target string, ruleType int32) error {
	f, err := c.openDev()
	if err != nil {
		return err
	}
	defer f.Close()

	srcPtr, err := unix.BytePtrFromString(src)
	if err != nil {
		return fmt.Errorf("hymofs: invalid src %q: %w", src, err)
	}

	var targetPtr *byte
	if target != "" {
		targetPtr, err = unix.BytePtrFromString(target)
		if err != nil {
			return fmt.Errorf("hymofs: invalid target %q: %w", target, err)
		}
	}

	arg := ruleArg{
		Src:  uintptr(unsafe.Pointer(srcPtr)),
		Type: ruleType,
	}
	if targetPtr != nil {
		arg.Target = uintptr(unsafe.Pointer(targetPtr))
	}

	if err := ioctl(f.Fd(), nr, uintptr(unsafe.Pointer(&arg))); err != nil {
		return fmt.Errorf("hymofs: rule ioctl failed for %q: %w", src, err)
	}
	return nil
}

// ListActiveRules issues LIST_RULES and returns the driver's NUL-terminated report.
func (c *Client) ListActiveRules() (string, error) {
	f, err := c.openDev()
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, listBufSize)
	arg := listArg{Buf: uintptr(unsafe.Pointer(&buf[0])), Size: uint64(len(buf))}

	if err := ioctl(f.Fd(), listRulesNr, uintptr(unsafe.Pointer(&arg))); err != nil {
		return "", fmt.Errorf("hymofs: list_rules failed: %w", err)
	}

	end := 0
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	return string(buf[:end]), nil
}

// InjectDirectory recursively walks moduleDir (minimum depth 1); for
// each regular file or symlink it emits an add-rule redirecting the
// corresponding path under targetBase to the module's content. For
// character-device whiteouts (device number zero) it emits a hide-path
// instead. Walk errors and individual ioctl failures are logged and
// skipped — injection is best-effort.
func (c *Client) InjectDirectory(ctx context.Context, targetBase, moduleDir string) error {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemHymoFS)

	info, err := os.Stat(moduleDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(moduleDir, func(currentPath string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn("walk error", "path", currentPath, "error", err)
			return nil
		}
		if currentPath == moduleDir {
			return nil
		}

		rel, err := filepath.Rel(moduleDir, currentPath)
		if err != nil {
			return nil
		}
		targetPath, err := securejoin.SecureJoin(targetBase, rel)
		if err != nil {
			log.Warn("secure join failed", "path", rel, "error", err)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Warn("stat failed", "path", currentPath, "error", err)
			return nil
		}

		switch {
		case info.Mode().IsRegular(), info.Mode()&os.ModeSymlink != 0:
			if err := c.AddRule(ctx, currentPath, targetPath, 0); err != nil {
				log.Warn("add rule failed", "path", targetPath, "error", err)
			}
		case info.Mode()&os.ModeCharDevice != 0:
			if isWhiteout(info) {
				if err := c.HidePath(ctx, targetPath); err != nil {
					log.Warn("hide path failed", "path", targetPath, "error", err)
				}
			}
		}
		return nil
	})
}

// DeleteDirectoryRules removes the rules previously emitted by
// InjectDirectory for moduleDir.
func (c *Client) DeleteDirectoryRules(ctx context.Context, targetBase, moduleDir string) error {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemHymoFS)

	info, err := os.Stat(moduleDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	return filepath.WalkDir(moduleDir, func(currentPath string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn("walk error", "path", currentPath, "error", err)
			return nil
		}
		if currentPath == moduleDir {
			return nil
		}
		rel, err := filepath.Rel(moduleDir, currentPath)
		if err != nil {
			return nil
		}
		targetPath, err := securejoin.SecureJoin(targetBase, rel)
		if err != nil {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() || info.Mode()&os.ModeSymlink != 0 || info.Mode()&os.ModeCharDevice != 0 {
			if err := c.DeleteRule(ctx, targetPath); err != nil {
				log.Warn("delete rule failed", "path", targetPath, "error", err)
			}
		}
		return nil
	})
}

func ioctl(fd uintptr, nr uint32, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(nr), arg)
	if errno != 0 {
		return errno
	}
	return nil
}
