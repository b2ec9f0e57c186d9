package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/meta-hybrid/hymount/internal/config"
	"github.com/meta-hybrid/hymount/internal/logger"
	"github.com/meta-hybrid/hymount/internal/metrics"
	"github.com/meta-hybrid/hymount/internal/orchestrator"
	"github.com/meta-hybrid/hymount/internal/paths"
	"github.com/meta-hybrid/hymount/internal/status"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hymount",
		Short:         "Userspace mount orchestrator for overlay and magic-mount modules",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMountCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd(root))
	return root
}

func newMountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mount",
		Short: "Run one full module discovery and mount cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			log := logger.New(logger.NewConfig())
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logger.WithContext(ctx, log)

			go func() {
				if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
					log.Warn("metrics server exited with error", "error", err)
				}
			}()

			return orchestrator.Run(ctx, cfg)
		},
	}
}

func newStatusCmd() *cobra.Command {
	var human bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a single-line JSON storage status snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			p := paths.New(cfg.ModuleDir, cfg.MountPoint, cfg.Ext4ImagePath, cfg.StateFile)
			report := status.Collect(p.MountPoint(), p.HymoCtlDevice())
			if human {
				fmt.Println(report.Human())
				return nil
			}
			fmt.Println(report.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&human, "human", false, "print a human-readable summary instead of JSON")
	return cmd
}

func newVersionCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(root.OutOrStdout(), version)
			return nil
		},
	}
}

