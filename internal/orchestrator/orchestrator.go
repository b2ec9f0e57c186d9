// Package orchestrator drives the full mount sequence: probe the
// driver, provision writable storage, scan modules, build a plan,
// realize overlay partitions and magic-mount rules, and persist
// runtime state.
package orchestrator

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meta-hybrid/hymount/internal/config"
	"github.com/meta-hybrid/hymount/internal/driver"
	"github.com/meta-hybrid/hymount/internal/hymofs"
	"github.com/meta-hybrid/hymount/internal/logger"
	"github.com/meta-hybrid/hymount/internal/metrics"
	"github.com/meta-hybrid/hymount/internal/overlay"
	"github.com/meta-hybrid/hymount/internal/paths"
	"github.com/meta-hybrid/hymount/internal/planner"
	"github.com/meta-hybrid/hymount/internal/scanner"
	"github.com/meta-hybrid/hymount/internal/state"
	"github.com/meta-hybrid/hymount/internal/storage"
	"github.com/meta-hybrid/hymount/internal/umount"
)

// Run executes one full mount cycle against cfg. It never returns an
// error for a single module or a single partition failing to mount —
// those are logged and skipped, per the transient-ignored error
// taxonomy — but it returns an error for fatal-startup conditions:
// an unsupported host, or a storage image that cannot be mounted even
// after repair.
func Run(ctx context.Context, cfg *config.Config) error {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemOrchestrator)

	start := time.Now()
	defer func() { metrics.MountDurationSeconds.Observe(time.Since(start).Seconds()) }()

	p := paths.New(cfg.ModuleDir, cfg.MountPoint, cfg.Ext4ImagePath, cfg.StateFile)

	applyZygiskSUOverride(ctx, cfg)

	if _, err := driver.Probe(ctx); err != nil {
		metrics.MountRunsTotal.WithLabelValues("fatal_driver").Inc()
		return fmt.Errorf("orchestrator: driver probe failed: %w", err)
	}

	storageHandle, err := storage.Setup(ctx, p.MountPoint(), p.Ext4Image(), cfg.ForceExt4)
	if err != nil {
		metrics.MountRunsTotal.WithLabelValues("fatal_storage").Inc()
		return fmt.Errorf("orchestrator: storage setup failed: %w", err)
	}
	storage.FinalizePermissions(ctx, storageHandle.MountPoint)

	records, err := scanner.Scan(ctx, p.ModuleDir(), cfg.Partitions)
	if err != nil {
		metrics.MountRunsTotal.WithLabelValues("fatal_scan").Inc()
		return fmt.Errorf("orchestrator: module scan failed: %w", err)
	}
	if len(records) == 0 {
		log.Info("no modules need mount")
		metrics.MountRunsTotal.WithLabelValues("noop").Inc()
		return nil
	}

	modes, err := config.LoadModuleModes(cfg.ModuleModesFile)
	if err != nil {
		log.Warn("failed to load module mode overrides, proceeding with auto for all", "error", err)
		modes = map[string]config.ModuleMode{}
	}

	plan := planner.Generate(ctx, cfg, records, modes)
	metrics.ModulesOverlayGauge.Set(float64(len(plan.OverlayModuleIDs)))
	metrics.ModulesMagicGauge.Set(float64(len(plan.MagicModuleIDs)))
	metrics.ConflictsGauge.Set(float64(len(plan.Conflicts)))

	q := umount.New()

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return mountOverlays(gctx, q, plan.OverlayOps, cfg.DisableUmount)
	})
	if err := grp.Wait(); err != nil {
		log.Warn("overlay mount batch reported an error", "error", err)
	}

	injectMagicModules(ctx, p.HymoCtlDevice(), plan.MagicModulePaths)

	record := state.New(string(storageHandle.Mode), storageHandle.MountPoint, plan.OverlayModuleIDs, plan.MagicModuleIDs, false)
	if err := state.Save(p.StateFile(), record); err != nil {
		log.Warn("failed to save runtime state", "error", err)
	}

	metrics.MountRunsTotal.WithLabelValues("success").Inc()
	log.Info("mount orchestration complete",
		"overlay_modules", len(plan.OverlayModuleIDs),
		"magic_modules", len(plan.MagicModuleIDs),
		"conflicts", len(plan.Conflicts))
	return nil
}

// mountOverlays realizes every planned overlay operation in sequence.
// Run calls it on a single helper goroutine and waits for it before
// magic injection. A single partition's failure is logged and does not
// abort the batch.
func mountOverlays(ctx context.Context, q *umount.Queue, ops []planner.OverlayOperation, disableUmount bool) error {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemOverlay)
	for _, op := range ops {
		if err := overlay.MountPartition(ctx, q, op.Target, op.Layers, disableUmount); err != nil {
			log.Warn("mount partition failed", "target", op.Target, "error", err)
		}
	}
	return nil
}

// injectMagicModules walks every magic-mount module and pushes its
// rewrite rules through the companion filesystem client reached at
// hymoDevice. A module that fails to inject is logged and skipped; the
// run still succeeds.
func injectMagicModules(ctx context.Context, hymoDevice string, magicModulePaths []string) {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemHymoFS)
	client := hymofs.NewWithDevice(hymoDevice)

	if !client.IsAvailable() {
		if len(magicModulePaths) > 0 {
			log.Warn("companion filesystem unavailable, skipping magic mount modules", "count", len(magicModulePaths))
		}
		return
	}

	for _, modulePath := range magicModulePaths {
		if err := client.InjectDirectory(ctx, "/", modulePath); err != nil {
			log.Warn("magic mount injection failed", "module", modulePath, "error", err)
		}
	}
}

// applyZygiskSUOverride forces DisableUmount on when ZygiskSU's enforce
// mode is active, unless the user has explicitly opted into umount
// coexistence.
func applyZygiskSUOverride(ctx context.Context, cfg *config.Config) {
	log := logger.FromContext(ctx).With("subsystem", logger.SubsystemOrchestrator)

	if !checkZygiskSUEnforceStatus() {
		return
	}
	if cfg.AllowUmountCoexistence {
		log.Info("zygisksu enforce detected, but umount coexistence is enabled, respecting configuration")
		return
	}
	log.Info("zygisksu enforce detected, forcing disable_umount")
	cfg.DisableUmount = true
}

// checkZygiskSUEnforceStatus reports whether the ZygiskSU module is
// installed in enforcing mode, queried via the platform property
// store (there being no portable /proc or /sys interface for it).
func checkZygiskSUEnforceStatus() bool {
	out, err := exec.Command("getprop", "persist.zygisksu.enforce").Output()
	if err != nil {
		return false
	}
	value := strings.TrimSpace(string(out))
	return value != "" && value != "0"
}
