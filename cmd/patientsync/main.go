package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/patientsync/internal/admin"
	"github.com/JonMunkholm/patientsync/internal/config"
	"github.com/JonMunkholm/patientsync/internal/core"
	"github.com/JonMunkholm/patientsync/internal/logging"
	"github.com/JonMunkholm/patientsync/internal/store"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:           "patientsync",
		Short:         "Reconcile partner patient exports against the patient store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(reconcileCmd(), insertCmd())

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "patientsync: %s\n", core.FormatUserError(err))
		slog.Error("run failed", "error", err, "code", core.ErrorCode(err))
		os.Exit(1)
	}
}

// setup loads configuration, configures logging and tags the context
// with a run id.
func setup(cmd *cobra.Command) (*config.Config, context.Context, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, runID := logging.WithRunID(cmd.Context())
	slog.Info("configuration loaded",
		"command", cmd.Name(),
		"run_id", runID,
		"db_max_conns", cfg.Database.MaxConns,
	)
	slog.Debug("effective configuration", "config", cfg.String())
	return cfg, ctx, nil
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match the export against the store and write the annotated CSV and pending batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, err := setup(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("input"); v != "" {
				cfg.Reconcile.Input = v
			}
			if v, _ := cmd.Flags().GetString("output"); v != "" {
				cfg.Reconcile.OutputCSV = v
			}
			if v, _ := cmd.Flags().GetString("batch"); v != "" {
				cfg.Reconcile.BatchFile = v
			}

			if err := cfg.RequireReconcile(); err != nil {
				return fmt.Errorf("%w: %v", core.ErrMissingConfig, err)
			}

			src, err := os.Open(cfg.Reconcile.Input)
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", core.ErrInputMissing, cfg.Reconcile.Input)
			}
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			defer src.Close()

			return store.WithPool(ctx, cfg.Database, func(pool *pgxpool.Pool) error {
				if err := admin.Preflight(ctx, pool); err != nil {
					return err
				}

				reconciler := &core.Reconciler{
					Repo:          store.NewPatientRepo(pool),
					TenantID:      cfg.Reconcile.TenantID,
					CreatedByID:   cfg.Reconcile.CreatedByID,
					ProgressEvery: cfg.Reconcile.ProgressEvery,
				}

				logger := logging.WithFields(ctx, "stage", "reconcile", "input", cfg.Reconcile.Input)
				logger.Info("reconcile started")

				result, err := reconciler.Reconcile(ctx, src)
				if err != nil {
					return err
				}
				if err := core.WriteArtifacts(cfg.Reconcile.OutputCSV, cfg.Reconcile.BatchFile, result); err != nil {
					return err
				}

				logger.Info("reconcile complete",
					"processed", result.Processed,
					"matched", result.Matched,
					"new", result.New,
					"duration", result.Duration,
				)
				printReconcileSummary(cmd.OutOrStdout(), result, cfg.Reconcile.OutputCSV, cfg.Reconcile.BatchFile)
				return nil
			})
		},
	}
	cmd.Flags().String("input", "", "Partner export CSV (overrides RECONCILE_INPUT)")
	cmd.Flags().String("output", "", "Annotated CSV path (overrides RECONCILE_OUTPUT_CSV)")
	cmd.Flags().String("batch", "", "Pending batch path (overrides RECONCILE_BATCH_FILE)")
	return cmd
}

func insertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert the pending batch, skipping patients that already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, ctx, err := setup(cmd)
			if err != nil {
				return err
			}
			if v, _ := cmd.Flags().GetString("batch"); v != "" {
				cfg.Insert.BatchFile = v
			}

			records, err := core.LoadBatch(cfg.Insert.BatchFile)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, cfg.Insert.Timeout)
			defer cancel()

			return store.WithPool(ctx, cfg.Database, func(pool *pgxpool.Pool) error {
				if err := admin.Preflight(ctx, pool); err != nil {
					return err
				}

				logger := logging.WithFields(ctx, "stage", "insert", "batch", cfg.Insert.BatchFile)
				logger.Info("insert started", "records", len(records))

				inserter := &core.Inserter{Repo: store.NewPatientRepo(pool)}
				result, err := inserter.Run(ctx, records)
				if result != nil {
					logger.Info("insert complete",
						"inserted", result.Inserted,
						"duplicates", result.Duplicates,
						"failed", len(result.Failed),
						"duration", result.Duration,
					)
					printInsertSummary(cmd.OutOrStdout(), result)
				}
				return err
			})
		},
	}
	cmd.Flags().String("batch", "", "Pending batch path (overrides INSERT_BATCH_FILE)")
	return cmd
}
