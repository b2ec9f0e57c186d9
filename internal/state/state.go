// Package state persists the singleton runtime record describing the
// orchestrator's last successful mount: when it ran, under which pid,
// which storage backing it chose, and which modules ended up in each
// mount strategy.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Record is the runtime state JSON document, round-tripped verbatim.
type Record struct {
	Timestamp        int64    `json:"timestamp"`
	PID              int      `json:"pid"`
	StorageMode      string   `json:"storage_mode"`
	MountPoint       string   `json:"mount_point"`
	OverlayModuleIDs []string `json:"overlay_module_ids"`
	MagicModuleIDs   []string `json:"magic_module_ids"`
	NukeActive       bool     `json:"nuke_active"`
}

// New builds a Record stamped with the current time and pid.
func New(storageMode, mountPoint string, overlayIDs, magicIDs []string, nukeActive bool) Record {
	return Record{
		Timestamp:        time.Now().Unix(),
		PID:              os.Getpid(),
		StorageMode:      storageMode,
		MountPoint:       mountPoint,
		OverlayModuleIDs: overlayIDs,
		MagicModuleIDs:   magicIDs,
		NukeActive:       nukeActive,
	}
}

// Save writes r as pretty-printed JSON to path, creating parent
// directories as needed.
func Save(path string, r Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Load reads the record at path, returning a zero-value Record (not an
// error) when the file does not exist.
func Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}
