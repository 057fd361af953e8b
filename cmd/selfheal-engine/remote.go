package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-selfheal/internal/api"
	"github.com/miradorstack/mirador-selfheal/internal/config"
	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

// newRunCmd runs a single pass in-process, without a daemon.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one collect, classify, fix and validate pass locally",
		Long: `Run one pass of the pipeline in this process and print the run summary.

Fixes are applied for real; deferred restarts scheduled by the pass are canceled
when the command exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := utils.NewLoggerTo(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.JSON)
			parts, err := buildComponents(cfg, logger)
			if err != nil {
				return err
			}
			defer parts.Close()

			summary := parts.coordinator.Run(cmd.Context())
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Ask the daemon to run now, or join the run in progress",
		Args:  cobra.NoArgs,
		RunE: remote(0, func(ctx context.Context, c *api.Client, cmd *cobra.Command, _ []string) error {
			summary, err := c.TriggerRun(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		}),
	}
}

func newBackupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: remote(30*time.Second, func(ctx context.Context, c *api.Client, cmd *cobra.Command, _ []string) error {
			refs, err := c.ListBackups(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), refs)
		}),
	}
}

func newRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <backup-id>",
		Short: "Restore the files of a backup",
		Args:  cobra.ExactArgs(1),
		RunE: remote(30*time.Second, func(ctx context.Context, c *api.Client, cmd *cobra.Command, args []string) error {
			ok, err := c.Rollback(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rollback %s: %t\n", args[0], ok)
			return nil
		}),
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show fix success rates from the learning ledger",
		Args:  cobra.NoArgs,
		RunE: remote(30*time.Second, func(ctx context.Context, c *api.Client, cmd *cobra.Command, _ []string) error {
			stats, err := c.LearningStats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		}),
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show learning stats, recent backups, the last run and pending restarts",
		Args:  cobra.NoArgs,
		RunE: remote(30*time.Second, func(ctx context.Context, c *api.Client, cmd *cobra.Command, _ []string) error {
			report, err := c.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		}),
	}
}

type remoteFunc func(ctx context.Context, c *api.Client, cmd *cobra.Command, args []string) error

// remote dials --addr and bounds the call by timeout; zero means no deadline.
func remote(timeout time.Duration, fn remoteFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, conn, err := api.Dial(controlAddr)
		if err != nil {
			return err
		}
		defer conn.Close()

		ctx := cmd.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return fn(ctx, client, cmd, args)
	}
}
