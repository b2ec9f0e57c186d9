package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meta-hybrid/hymount/internal/config"
	"github.com/meta-hybrid/hymount/internal/scanner"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestGenerateAssignsOverlayModulesByPartition(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "alpha", "system", "bin", "foo"), "alpha")
	writeFile(t, filepath.Join(dir, "beta", "system", "bin", "bar"), "beta")

	records := []scanner.Record{
		{ID: "alpha", Path: filepath.Join(dir, "alpha")},
		{ID: "beta", Path: filepath.Join(dir, "beta")},
	}

	cfg := &config.Config{}
	plan := Generate(context.Background(), cfg, records, nil)

	require.Len(t, plan.OverlayOps, 1)
	require.Equal(t, "/system", plan.OverlayOps[0].Target)
	require.ElementsMatch(t, []string{"alpha", "beta"}, plan.OverlayModuleIDs)
	require.Empty(t, plan.MagicModuleIDs)
}

func TestGenerateOverlayLayerOrderIsReverseLexicographic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "aaa", "system", "f"), "a")
	writeFile(t, filepath.Join(dir, "zzz", "system", "f"), "z")

	records := []scanner.Record{
		{ID: "aaa", Path: filepath.Join(dir, "aaa")},
		{ID: "zzz", Path: filepath.Join(dir, "zzz")},
	}

	plan := Generate(context.Background(), &config.Config{}, records, nil)
	require.Len(t, plan.OverlayOps, 1)
	require.Equal(t, []string{filepath.Join(dir, "zzz"), filepath.Join(dir, "aaa")}, plan.OverlayOps[0].Layers)
}

func TestGenerateRoutesMagicMountModeToMagicList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "magicmod", "system", "f"), "x")

	records := []scanner.Record{
		{ID: "magicmod", Path: filepath.Join(dir, "magicmod"), MagicMount: true},
	}

	plan := Generate(context.Background(), &config.Config{}, records, nil)
	require.Empty(t, plan.OverlayOps)
	require.Equal(t, []string{filepath.Join(dir, "magicmod")}, plan.MagicModulePaths)
	require.Equal(t, []string{"magicmod"}, plan.MagicModuleIDs)
}

func TestGenerateRoutesConfiguredModeOverride(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "mod1", "system", "f"), "x")

	records := []scanner.Record{
		{ID: "mod1", Path: filepath.Join(dir, "mod1")},
	}
	modes := map[string]config.ModuleMode{"mod1": config.ModeMagic}

	plan := Generate(context.Background(), &config.Config{}, records, modes)
	require.Empty(t, plan.OverlayOps)
	require.Equal(t, []string{"mod1"}, plan.MagicModuleIDs)
}

func TestGenerateDetectsConflictingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "aaa", "system", "bin", "same"), "aaa")
	writeFile(t, filepath.Join(dir, "mmm", "system", "bin", "same"), "mmm")
	writeFile(t, filepath.Join(dir, "zzz", "system", "bin", "same"), "zzz")

	records := []scanner.Record{
		{ID: "aaa", Path: filepath.Join(dir, "aaa")},
		{ID: "mmm", Path: filepath.Join(dir, "mmm")},
		{ID: "zzz", Path: filepath.Join(dir, "zzz")},
	}

	plan := Generate(context.Background(), &config.Config{}, records, nil)
	require.Len(t, plan.Conflicts, 1)
	require.Equal(t, filepath.Join("system", "bin", "same"), plan.Conflicts[0].Path)
	require.Equal(t, []string{"aaa", "mmm", "zzz"}, plan.Conflicts[0].Modules)
}

func TestGenerateWithExtraPartitions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "vmod", "vendor", "f"), "v")

	records := []scanner.Record{
		{ID: "vmod", Path: filepath.Join(dir, "vmod")},
	}

	plan := Generate(context.Background(), &config.Config{Partitions: []string{"vendor"}}, records, nil)
	require.Len(t, plan.OverlayOps, 1)
	require.Equal(t, "/vendor", plan.OverlayOps[0].Target)
}

func TestGenerateEmptyModuleListProducesEmptyPlan(t *testing.T) {
	plan := Generate(context.Background(), &config.Config{}, nil, nil)
	require.Empty(t, plan.OverlayOps)
	require.Empty(t, plan.MagicModulePaths)
	require.Empty(t, plan.Conflicts)
}
