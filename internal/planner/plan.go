// Package planner implements the Conflict & Plan Builder: assigning
// each discovered module to overlay or magic-mount handling, detecting
// cross-module file conflicts, and providing the merge-tree node type
// (node.go) for magic-mount module contents.
package planner

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/meta-hybrid/hymount/internal/config"
	"github.com/meta-hybrid/hymount/internal/logger"
	"github.com/meta-hybrid/hymount/internal/paths"
	"github.com/meta-hybrid/hymount/internal/scanner"
)

// builtinPartitions are always considered for overlay participation, in
// addition to any partitions named in configuration.
var builtinPartitions = []string{"system", "vendor", "system_ext", "product", "odm"}

// FileConflict records a relative path claimed by more than one module.
type FileConflict struct {
	Path    string
	Modules []string
}

// OverlayOperation describes one overlay mount: the absolute partition
// target and the ordered layer directories contributing to it, highest
// priority first — this is the same order overlayfs's own lowerdir=
// option expects, so the layers need no reordering before mounting.
type OverlayOperation struct {
	Target string
	Layers []string
}

// Plan is the complete output of planning: overlay operations, the set
// of modules requiring magic mount, detected conflicts, and the module
// ID sets for state tracking.
type Plan struct {
	OverlayOps       []OverlayOperation
	MagicModulePaths []string
	Conflicts        []FileConflict
	OverlayModuleIDs []string
	MagicModuleIDs   []string
}

// partitionSet returns the deduplicated union of the builtin partitions
// and any extra partitions from configuration, in first-seen order.
func partitionSet(extra []string) []string {
	seen := map[string]struct{}{}
	var all []string
	for _, p := range append(append([]string{}, builtinPartitions...), extra...) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		all = append(all, p)
	}
	return all
}

// Generate classifies the given module records into overlay and magic
// mount groups, per the module mode table in cfg (default: auto,
// meaning "overlay if the module touches a known partition"), and
// detects cross-module file conflicts among all the given modules,
// magic-mount ones included. Modules are processed in
// reverse-lexicographic order by ID, so that an earlier (alphabetically
// larger) module's overlay layer sits above a later one's — this
// ordering must match the one applied when the overlay mounts are
// actually constructed.
func Generate(ctx context.Context, cfg *config.Config, records []scanner.Record, modes map[string]config.ModuleMode) Plan {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemPlanner)

	sorted := make([]scanner.Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID > sorted[j].ID })

	partitions := partitionSet(cfg.Partitions)

	partitionLayers := map[string][]string{}
	var magicPaths []string
	overlayIDs := map[string]struct{}{}
	magicIDs := map[string]struct{}{}

	for _, rec := range sorted {
		mode := modes[rec.ID]
		if mode == "" {
			mode = config.ModeAuto
		}
		if rec.MagicMount {
			mode = config.ModeMagic
		}

		if mode == config.ModeMagic {
			magicPaths = append(magicPaths, rec.Path)
			magicIDs[rec.ID] = struct{}{}
			log.Info("module assigned to magic mount", "id", rec.ID)
			continue
		}

		participates := false
		for _, part := range partitions {
			if isDir(filepath.Join(rec.Path, part)) {
				partitionLayers[part] = append(partitionLayers[part], rec.Path)
				participates = true
			}
		}
		if participates {
			overlayIDs[rec.ID] = struct{}{}
		}
	}

	plan := Plan{}

	plan.Conflicts = detectConflicts(sorted, partitions)
	if len(plan.Conflicts) > 0 {
		log.Warn("detected file conflicts between modules", "count", len(plan.Conflicts))
		for _, c := range plan.Conflicts {
			log.Warn("conflict", "path", c.Path, "modules", c.Modules)
		}
	}

	for part, layers := range partitionLayers {
		plan.OverlayOps = append(plan.OverlayOps, OverlayOperation{
			Target: paths.PartitionTarget(part),
			Layers: layers,
		})
	}
	sort.Slice(plan.OverlayOps, func(i, j int) bool { return plan.OverlayOps[i].Target < plan.OverlayOps[j].Target })

	plan.MagicModulePaths = magicPaths
	plan.OverlayModuleIDs = sortedKeys(overlayIDs)
	plan.MagicModuleIDs = sortedKeys(magicIDs)

	return plan
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// detectConflicts walks every candidate partition of every module and
// reports relative paths claimed by more than one module.
func detectConflicts(sortedModules []scanner.Record, partitions []string) []FileConflict {
	fileMap := map[string][]string{}

	for _, rec := range sortedModules {
		for _, part := range partitions {
			partDir := filepath.Join(rec.Path, part)
			if !isDir(partDir) {
				continue
			}
			walkAndMap(rec.Path, part, rec.ID, fileMap)
		}
	}

	var conflicts []FileConflict
	for path, modules := range fileMap {
		if len(modules) > 1 {
			sort.Strings(modules)
			conflicts = append(conflicts, FileConflict{Path: path, Modules: modules})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Path < conflicts[j].Path })
	return conflicts
}

// walkAndMap recursively maps every non-directory entry under
// basePath/relative to moduleID in fileMap, keyed by its path relative
// to basePath (so the key starts with the partition name).
func walkAndMap(basePath, relative, moduleID string, fileMap map[string][]string) {
	currentFull := filepath.Join(basePath, relative)

	entries, err := os.ReadDir(currentFull)
	if err != nil {
		return
	}
	for _, entry := range entries {
		nextRelative := filepath.Join(relative, entry.Name())
		if entry.IsDir() {
			walkAndMap(basePath, nextRelative, moduleID, fileMap)
			continue
		}
		fileMap[nextRelative] = append(fileMap[nextRelative], moduleID)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
