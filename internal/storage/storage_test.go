package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMountedFalseForOrdinaryDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "child")
	require.NoError(t, os.MkdirAll(sub, 0755))

	require.False(t, isMounted(sub))
}

func TestRepairImageTreatsExitCodeTwoAsRecoverable(t *testing.T) {
	// e2fsck isn't available in the test sandbox; this only exercises
	// the ExitError classification path via a stand-in script.
	dir := t.TempDir()
	script := filepath.Join(dir, "e2fsck")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 2\n"), 0755))

	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	require.True(t, repairImage("irrelevant"))
}

func TestRepairImageFailsOnFatalExitCode(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "e2fsck")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexit 8\n"), 0755))

	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
	require.False(t, repairImage("irrelevant"))
}
