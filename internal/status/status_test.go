package status

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectUnknownModeForUnmountedPath(t *testing.T) {
	report := Collect(t.TempDir(), "/dev/hymo_ctl")
	require.Equal(t, "unknown", report.Mode)
	require.Zero(t, report.TotalSize)
}

func TestReportHumanIncludesPercent(t *testing.T) {
	report := Report{UsedSize: 1024, TotalSize: 2048, UsagePercent: 50}
	require.Contains(t, report.Human(), "(50%)")
}

func TestReportStringIsValidSingleLineJSON(t *testing.T) {
	report := Report{Mode: "active", MountPoint: "/mnt", UsagePercent: 42}
	line := report.String()

	var decoded Report
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	require.Equal(t, report, decoded)
	require.NotContains(t, line, "\n")
}
