package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-billing-reconciler/internal/repo"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention pass over webhook logs and the idempotency ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), "sweep", func(ctx context.Context, rt *runtime) error {
				rep, err := rt.engine.Sweeper.Run(ctx)
				if err != nil {
					return fmt.Errorf("sweep: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), rep)
			})
		},
	}
}

func probeCmd() *cobra.Command {
	var failOnError bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run one probe cycle and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), "probe", func(ctx context.Context, rt *runtime) error {
				rep := rt.engine.Prober.RunAll(ctx)
				if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
				if n := rep.Failed(); n > 0 && failOnError {
					return fmt.Errorf("%d probes failed", n)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&failOnError, "fail-on-error", false, "exit non-zero when a probe errors")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report customers sharing an email address as conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), "check", func(ctx context.Context, rt *runtime) error {
				n, err := rt.engine.Conflicts.DetectDuplicateCustomers(ctx)
				if err != nil {
					return fmt.Errorf("consistency check: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reported %d duplicate customer conflicts\n", n)
				return nil
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	var driver, dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the record store schema",
		Long: `Apply the schema to the configured store, or to the one given by flags.

Examples:
  reconciler migrate
  reconciler migrate --driver postgres --dsn "postgres://reconciler@localhost/billing?sslmode=disable"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if driver == "" {
				driver = os.Getenv("DB_DRIVER")
			}
			if dsn == "" {
				dsn = os.Getenv("DB_DSN")
			}
			if dsn == "" {
				dsn = os.Getenv("DB_PATH")
			}
			if dsn == "" {
				dsn = "reconciler.db"
			}
			db, err := repo.Open(driver, dsn, false)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repo.AutoMigrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info().Str("driver", driver).Msg("schema up to date")
			return nil
		},
	}
	cmd.Flags().StringVar(&driver, "driver", "", "sqlite|postgres|mysql (default $DB_DRIVER or sqlite)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "connection string (default $DB_DSN or $DB_PATH)")
	return cmd
}

func withRuntime(ctx context.Context, role string, fn func(context.Context, *runtime) error) error {
	rt, err := newRuntime(ctx, role)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())
	return fn(ctx, rt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
