// Package main provides the drip command line: one-off runs and migrations.
//
// It reads the same environment as cmd/server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gitauto-ai/drip/app"
	"github.com/gitauto-ai/drip/drip"
	"github.com/gitauto-ai/drip/storage/postgres"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "drip",
	Short:         "GitAuto lifecycle emails",
	Long:          `Decide and send GitAuto onboarding, coverage milestone and salvage emails.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Send today's onboarding and coverage emails",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *drip.Engine) (*drip.Summary, error) {
			return e.Run(ctx)
		})
	},
}

var salvageCmd = &cobra.Command{
	Use:   "salvage",
	Short: "Send win-back emails to churned owners",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e *drip.Engine) (*drip.Summary, error) {
			return e.RunSalvage(ctx)
		})
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the tables the engine reads and writes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := app.LoadEnv()
		if err != nil {
			return err
		}
		store, err := postgres.NewFromDSN(env.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Migrate(cmd.Context()); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		newLogger().Info("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "engine config file (overrides CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log per-owner decisions")
	rootCmd.AddCommand(runCmd, salvageCmd, migrateCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func withEngine(ctx context.Context, run func(context.Context, *drip.Engine) (*drip.Summary, error)) error {
	logger := newLogger()

	env, err := app.LoadEnv()
	if err != nil {
		return err
	}
	if configPath != "" {
		env.ConfigPath = configPath
	}

	a, err := app.New(ctx, env, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := run(ctx, a.Engine)
	if summary != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(summary)
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
