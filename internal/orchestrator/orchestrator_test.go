package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meta-hybrid/hymount/internal/config"
)

func TestCheckZygiskSUEnforceStatusFalseWhenGetpropMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	require.False(t, checkZygiskSUEnforceStatus())
}

func TestApplyZygiskSUOverrideRespectsCoexistenceFlag(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "getprop")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 1\n"), 0755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	cfg := &config.Config{AllowUmountCoexistence: true}
	applyZygiskSUOverride(context.Background(), cfg)

	require.False(t, cfg.DisableUmount)
}

func TestApplyZygiskSUOverrideForcesDisableUmount(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "getprop")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 1\n"), 0755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	cfg := &config.Config{}
	applyZygiskSUOverride(context.Background(), cfg)

	require.True(t, cfg.DisableUmount)
}
