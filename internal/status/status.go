// Package status implements the Status Reporter: a single-line JSON
// snapshot of the writable storage mount's usage and the companion
// filesystem's availability, suitable for scripted consumption.
package status

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/c2h5oh/datasize"
	"golang.org/x/sys/unix"

	"github.com/meta-hybrid/hymount/internal/hymofs"
)

// Report is the JSON-serializable status snapshot.
type Report struct {
	Mode            string `json:"mode"`
	MountPoint      string `json:"mount_point"`
	UsagePercent    uint8  `json:"usage_percent"`
	TotalSize       uint64 `json:"total_size"`
	UsedSize        uint64 `json:"used_size"`
	HymofsAvailable bool   `json:"hymofs_available"`
}

// Collect builds a Report for mountPoint. Mode is "active" when
// mountPoint is a real, statvfs-queryable mount, "unknown" otherwise
// (e.g. orchestrator not running). hymoDevice names the companion
// filesystem control device to probe for availability.
func Collect(mountPoint, hymoDevice string) Report {
	report := Report{
		Mode:            "unknown",
		MountPoint:      mountPoint,
		HymofsAvailable: hymofs.NewWithDevice(hymoDevice).IsAvailable(),
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(mountPoint, &stat); err != nil {
		return report
	}
	if !isMounted(mountPoint) {
		return report
	}

	report.Mode = "active"
	total := uint64(stat.Blocks) * uint64(stat.Bsize)
	free := uint64(stat.Bfree) * uint64(stat.Bsize)
	used := total - free

	report.TotalSize = total
	report.UsedSize = used
	if total > 0 {
		report.UsagePercent = uint8(used * 100 / total)
	}
	return report
}

// Human renders the usage figures as a short human-readable summary,
// e.g. "512MB / 2GB (25%)", for interactive display alongside the
// machine-readable JSON line. Each size is printed in the largest unit
// that divides it exactly, so an uneven size prints in plain bytes.
func (r Report) Human() string {
	used := datasize.ByteSize(r.UsedSize)
	total := datasize.ByteSize(r.TotalSize)
	return fmt.Sprintf("%s / %s (%d%%)", used.String(), total.String(), r.UsagePercent)
}

// String renders the report as a single compact JSON line.
func (r Report) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(data)
}

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
