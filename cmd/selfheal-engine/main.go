// Package main implements selfheal-engine, the self-healing daemon and its operator CLI.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	controlAddr string
	version     = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "selfheal-engine",
		Short: "Autonomous health monitoring and self-healing",
		Long: `selfheal-engine collects health signals from a managed application, classifies
recurring errors, applies reversible fixes and rolls them back when validation fails.

Run "selfheal-engine serve" to start the daemon; the remaining commands talk to a
running daemon over gRPC.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (defaults to $MIRADOR_SELFHEAL_CONFIG)")
	root.PersistentFlags().StringVar(&controlAddr, "addr", "localhost:50061", "control plane address used by remote commands")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newTriggerCmd())
	root.AddCommand(newBackupsCmd())
	root.AddCommand(newRollbackCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newStatusCmd())
	return root
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
