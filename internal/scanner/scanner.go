// Package scanner implements the Module Scanner: enumerating module
// roots, filtering by disable/remove/skip marker files and by presence
// of any target partition subdirectory, and returning stable module
// records.
package scanner

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/meta-hybrid/hymount/internal/logger"
)

const (
	reservedToolName = "meta-hybrid"
	lostAndFound     = "lost+found"

	disableFileName   = "disable"
	removeFileName    = "remove"
	skipMountFileName = "skip_mount"
	magicMountMarker  = ".magic_mount"
	overlayfsMarker   = ".overlayfs"
)

var moduleIDPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Descriptor is the optional module.prop content, supplemental to the
// directory-name identifier.
type Descriptor struct {
	ID          string
	Name        string
	Version     string
	VersionCode string
	Author      string
	Description string
}

// Record is one discovered, non-excluded module.
type Record struct {
	ID         string
	Path       string
	MagicMount bool // presence of .magic_mount marker
	Overlayfs  bool // presence of .overlayfs marker
	Descriptor *Descriptor
}

// Scan enumerates direct children of moduleDir, applying the filter
// rules from the component contract: non-directories are skipped; a
// module is "modified" only if it has a subdirectory named "system" or
// one of extraPartitions, otherwise it is excluded; any of disable/
// remove/skip_mount excludes the module; identifiers must match
// [A-Za-z0-9_][A-Za-z0-9_.-]* and must not be "lost+found" nor the
// tool's own reserved name; a module.prop whose id field disagrees
// with the directory name rejects the module.
func Scan(ctx context.Context, moduleDir string, extraPartitions []string) ([]Record, error) {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemScanner)

	entries, err := os.ReadDir(moduleDir)
	if err != nil {
		return nil, err
	}

	candidatePartitions := append([]string{"system"}, extraPartitions...)

	var records []Record
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()

		if err := validateModuleID(id); err != nil {
			log.Warn("skipping module", "id", id, "error", err)
			continue
		}

		modulePath := filepath.Join(moduleDir, id)

		desc, err := readDescriptor(modulePath)
		if err != nil {
			log.Warn("failed to read module.prop", "id", id, "error", err)
		}
		if desc != nil && desc.ID != "" && desc.ID != id {
			log.Warn("module.prop id disagrees with directory name, excluding",
				"id", id, "prop_id", desc.ID, "error", ErrInvalidModuleID)
			continue
		}

		if hasMarker(modulePath, disableFileName) || hasMarker(modulePath, removeFileName) {
			log.Debug("skipping disabled/removed module", "id", id)
			continue
		}
		if hasMarker(modulePath, skipMountFileName) {
			log.Debug("skipping module marked skip_mount", "id", id)
			continue
		}

		modified := lo.SomeBy(candidatePartitions, func(p string) bool {
			return isDir(filepath.Join(modulePath, p))
		})
		if !modified {
			log.Debug("skipping module with no target partition", "id", id)
			continue
		}

		records = append(records, Record{
			ID:         id,
			Path:       modulePath,
			MagicMount: hasMarker(modulePath, magicMountMarker),
			Overlayfs:  hasMarker(modulePath, overlayfsMarker),
			Descriptor: desc,
		})
	}

	return records, nil
}

// Partitions returns the subset of candidatePartitions that exist as
// subdirectories of the module's root.
func (r Record) Partitions(candidatePartitions []string) []string {
	return lo.Filter(candidatePartitions, func(p string, _ int) bool {
		return isDir(filepath.Join(r.Path, p))
	})
}

// validateModuleID rejects reserved directory names and identifiers
// that do not match the required pattern.
func validateModuleID(id string) error {
	if id == lostAndFound || id == reservedToolName {
		return ErrReservedModuleID
	}
	if !moduleIDPattern.MatchString(id) {
		return ErrInvalidModuleID
	}
	return nil
}

func hasMarker(moduleRoot, name string) bool {
	_, err := os.Stat(filepath.Join(moduleRoot, name))
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// readDescriptor reads module.prop's id/name/version/versionCode/
// author/description key=value lines, if the file is present.
func readDescriptor(moduleRoot string) (*Descriptor, error) {
	propPath := filepath.Join(moduleRoot, "module.prop")
	f, err := os.Open(propPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	desc := &Descriptor{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "id":
			desc.ID = value
		case "name":
			desc.Name = value
		case "version":
			desc.Version = value
		case "versionCode":
			desc.VersionCode = value
		case "author":
			desc.Author = value
		case "description":
			desc.Description = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return desc, nil
}
