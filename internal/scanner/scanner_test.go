package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestModuleDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "scanner-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func writeModule(t *testing.T, moduleDir, id string, partitions []string, markers ...string) string {
	t.Helper()
	root := filepath.Join(moduleDir, id)
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "module.prop"), []byte("id="+id+"\nname=Test\nversion=v1\n"), 0644))
	for _, p := range partitions {
		require.NoError(t, os.MkdirAll(filepath.Join(root, p), 0755))
	}
	for _, m := range markers {
		require.NoError(t, os.WriteFile(filepath.Join(root, m), nil, 0644))
	}
	return root
}

func TestScanEmptyDirReturnsNoRecords(t *testing.T) {
	dir := setupTestModuleDir(t)

	records, err := Scan(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestScanSkipsModuleMarkedSkipMount(t *testing.T) {
	dir := setupTestModuleDir(t)
	writeModule(t, dir, "kept", []string{"system"})
	writeModule(t, dir, "skipped", []string{"system"}, skipMountFileName)

	records, err := Scan(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "kept", records[0].ID)
}

func TestScanSkipsDisabledAndRemovedModules(t *testing.T) {
	dir := setupTestModuleDir(t)
	writeModule(t, dir, "disabled-mod", []string{"system"}, disableFileName)
	writeModule(t, dir, "removed-mod", []string{"system"}, removeFileName)

	records, err := Scan(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestScanExcludesModuleWithNoTargetPartition(t *testing.T) {
	dir := setupTestModuleDir(t)
	writeModule(t, dir, "no-partitions", nil)

	records, err := Scan(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestScanHonorsExtraPartitions(t *testing.T) {
	dir := setupTestModuleDir(t)
	writeModule(t, dir, "vendor-mod", []string{"vendor"})

	records, err := Scan(context.Background(), dir, []string{"vendor"})
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestScanExcludesLostAndFoundAndReservedNames(t *testing.T) {
	dir := setupTestModuleDir(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, lostAndFound), 0755))
	writeModule(t, dir, reservedToolName, []string{"system"})

	records, err := Scan(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestScanRejectsModulePropIDMismatch(t *testing.T) {
	dir := setupTestModuleDir(t)
	root := filepath.Join(dir, "mymodule")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "system"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "module.prop"), []byte("id=someone-else\n"), 0644))

	records, err := Scan(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestScanSetsMagicMountAndOverlayfsMarkers(t *testing.T) {
	dir := setupTestModuleDir(t)
	writeModule(t, dir, "magic-mod", []string{"system"}, magicMountMarker)
	writeModule(t, dir, "overlay-mod", []string{"system"}, overlayfsMarker)

	records, err := Scan(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[string]Record{}
	for _, r := range records {
		byID[r.ID] = r
	}
	require.True(t, byID["magic-mod"].MagicMount)
	require.False(t, byID["magic-mod"].Overlayfs)
	require.True(t, byID["overlay-mod"].Overlayfs)
	require.False(t, byID["overlay-mod"].MagicMount)
}

func TestScanIsIdempotent(t *testing.T) {
	dir := setupTestModuleDir(t)
	writeModule(t, dir, "alpha", []string{"system"})
	writeModule(t, dir, "beta", []string{"vendor"})

	first, err := Scan(context.Background(), dir, []string{"vendor"})
	require.NoError(t, err)
	second, err := Scan(context.Background(), dir, []string{"vendor"})
	require.NoError(t, err)
	require.ElementsMatch(t, first, second)
}

func TestScanDescriptorFieldsArePopulated(t *testing.T) {
	dir := setupTestModuleDir(t)
	root := filepath.Join(dir, "full-mod")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "system"), 0755))
	prop := "id=full-mod\nname=Full Module\nversion=1.2.3\nversionCode=4\nauthor=someone\ndescription=a test module\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "module.prop"), []byte(prop), 0644))

	records, err := Scan(context.Background(), dir, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Descriptor)
	require.Equal(t, "Full Module", records[0].Descriptor.Name)
	require.Equal(t, "1.2.3", records[0].Descriptor.Version)
	require.Equal(t, "4", records[0].Descriptor.VersionCode)
	require.Equal(t, "someone", records[0].Descriptor.Author)
	require.Equal(t, "a test module", records[0].Descriptor.Description)
}
