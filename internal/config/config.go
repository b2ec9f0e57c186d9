// Package config loads the orchestrator's runtime configuration from
// environment variables.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the recognized fields named by the external-interfaces
// contract: module directory, mount source label, verbosity, the extra
// partition list, an optional tmpfs override directory, the umount/
// disable-umount toggle, and the ZygiskSU-coexistence override.
type Config struct {
	ModuleDir              string   // moduledir
	MountSource            string   // mountsource
	Verbose                bool     // verbose
	Partitions             []string // partitions (extra, beyond the five built-ins)
	TmpfsDir               string   // tmpfsdir (optional override)
	DisableUmount          bool     // umount / disable_umount
	AllowUmountCoexistence bool     // allow_umount_coexistence
	ForceExt4              bool     // force the ext4 branch, skipping the tmpfs attempt
	MountPoint             string   // writable storage mount point
	Ext4ImagePath          string   // backing ext4 loop image path
	StateFile              string   // runtime state JSON path
	ModuleModesFile        string   // optional id->mode JSON map
	MetricsAddr            string   // optional listen address for /metrics
}

// ModuleMode is one of "auto", "overlay", "magic".
type ModuleMode string

const (
	ModeAuto    ModuleMode = "auto"
	ModeOverlay ModuleMode = "overlay"
	ModeMagic   ModuleMode = "magic"
)

// Load loads configuration from environment variables, applying the
// defaults named in the external-interfaces contract. It first attempts
// to load a .env file, failing silently if one is not present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ModuleDir:              getEnv("HYMOUNT_MODULEDIR", "/data/adb/modules/"),
		MountSource:            getEnv("HYMOUNT_MOUNTSOURCE", "KSU"),
		Verbose:                getEnvBool("HYMOUNT_VERBOSE", false),
		Partitions:             getEnvStringSlice("HYMOUNT_PARTITIONS", nil),
		TmpfsDir:               getEnv("HYMOUNT_TMPFSDIR", ""),
		DisableUmount:          getEnvBool("HYMOUNT_DISABLE_UMOUNT", false),
		AllowUmountCoexistence: getEnvBool("HYMOUNT_ALLOW_UMOUNT_COEXISTENCE", false),
		ForceExt4:              getEnvBool("HYMOUNT_FORCE_EXT4", false),
		MountPoint:             getEnv("HYMOUNT_MOUNT_POINT", "/data/adb/meta-hybrid/mnt"),
		Ext4ImagePath:          getEnv("HYMOUNT_EXT4_IMAGE", "/data/adb/meta-hybrid/modules.img"),
		StateFile:              getEnv("HYMOUNT_STATE_FILE", "/data/adb/meta-hybrid/state.json"),
		ModuleModesFile:        getEnv("HYMOUNT_MODULE_MODES_FILE", ""),
		MetricsAddr:            getEnv("HYMOUNT_METRICS_ADDR", ""),
	}
}

// LoadModuleModes reads the optional id->mode JSON map named by
// ModuleModesFile. A missing or empty path yields an empty map, not an
// error.
func LoadModuleModes(path string) (map[string]ModuleMode, error) {
	modes := make(map[string]ModuleMode)
	if path == "" {
		return modes, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return modes, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &modes); err != nil {
		return nil, err
	}
	return modes, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
