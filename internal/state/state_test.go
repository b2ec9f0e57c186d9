package state

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	record := New("tmpfs", "/data/adb/meta-hybrid/mnt", []string{"aaa", "bbb"}, []string{"mmm"}, true)
	require.NoError(t, Save(path, record))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, record, loaded)
}

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	loaded, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	require.Equal(t, Record{}, loaded)
}
