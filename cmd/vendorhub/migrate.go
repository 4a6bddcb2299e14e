// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 VendorHub Contributors

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/vendorhub/vendorhub/internal/config"
	"github.com/vendorhub/vendorhub/internal/store"
)

// SchemaMigrator wraps the methods used from store.Migrator.
type SchemaMigrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Close() error
}

// migratorFactory opens the migrator; replaced in tests.
var migratorFactory = func(dsn string) (SchemaMigrator, error) {
	return store.NewMigrator(dsn)
}

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Apply, roll back and inspect the schema migrations.
With no subcommand all pending migrations are applied.`,
		RunE: runMigrateUp,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp,
	})
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE:  runMigrateVersion,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE:  runMigrateStatus,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Record VERSION as applied and clear the dirty flag. Use after a
failed migration has been repaired by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: runMigrateForce,
	})

	return cmd
}

func newMigrateDownCmd() *cobra.Command {
	var steps int
	var all bool

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long:  `Roll back the last migration, the last --steps migrations, or with --all every migration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return oops.Code("INVALID_STEPS").Errorf("steps must be at least 1, got %d", steps)
			}
			return withMigrator(cmd, func(m SchemaMigrator) error {
				if all {
					cmd.Println("Rolling back all migrations...")
					if err := m.Down(); err != nil {
						return oops.Code("MIGRATION_FAILED").With("operation", "roll back all").Wrap(err)
					}
				} else {
					cmd.Printf("Rolling back %d migration(s)...\n", steps)
					if err := m.Steps(-steps); err != nil {
						return oops.Code("MIGRATION_FAILED").With("operation", "roll back").With("steps", steps).Wrap(err)
					}
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return cmd
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m SchemaMigrator) error {
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
		}
		cmd.Println("Migrations completed successfully")
		return nil
	})
}

func runMigrateVersion(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m SchemaMigrator) error {
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		cmd.Println(formatVersion(v, dirty))
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m SchemaMigrator) error {
		current, dirty, err := m.Version()
		if err != nil {
			return err
		}
		pending, err := m.Pending()
		if err != nil {
			return err
		}
		all, err := store.Versions()
		if err != nil {
			return err
		}
		cmd.Print(formatMigrationStatus(all, current, dirty, pending))
		return nil
	})
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := parseForceVersion(args[0])
	if err != nil {
		return err
	}
	return withMigrator(cmd, func(m SchemaMigrator) error {
		if err := m.Force(version); err != nil {
			return err
		}
		cmd.Printf("Forced schema version to %d\n", version)
		return nil
	})
}

// withMigrator resolves the database URL, opens a migrator, runs fn and
// closes the migrator.
func withMigrator(cmd *cobra.Command, fn func(SchemaMigrator) error) error {
	cfg, err := config.Load(config.ResolvePath(configFile, os.Getenv), nil, os.Getenv)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("%s is required", config.EnvDatabaseURL)
	}

	m, err := migratorFactory(cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migrator: %v\n", closeErr)
		}
	}()

	return fn(m)
}

// parseForceVersion reads a leading integer. Anything after the digits is ignored.
func parseForceVersion(s string) (int, error) {
	var v int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &v); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Errorf("version must be an integer")
	}
	return v, nil
}

func formatVersion(v uint, dirty bool) string {
	if v == 0 {
		return "No migrations applied"
	}
	out := fmt.Sprintf("Version %d (%s)", v, store.MigrationName(v))
	if dirty {
		out += " [dirty]"
	}
	return out
}

// formatMigrationStatus renders one line per known migration.
func formatMigrationStatus(all []uint, current uint, dirty bool, pending []uint) string {
	var b strings.Builder
	for _, v := range all {
		state := "applied"
		switch {
		case v == current && dirty:
			state = "dirty"
		case v > current:
			state = "pending"
		}
		fmt.Fprintf(&b, "%-8s %s\n", state, store.MigrationName(v))
	}
	fmt.Fprintf(&b, "%d pending\n", len(pending))
	return b.String()
}
