package hymofs

import (
	"os"
	"syscall"
)

// isWhiteout reports whether info describes an overlayfs-convention
// whiteout: a character-device file with device number zero.
func isWhiteout(info os.FileInfo) bool {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0 && stat.Rdev == 0
}
