package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/itshen/AI-message-hook/internal/config"
	"github.com/itshen/AI-message-hook/internal/database"
)

// newMigrateCmd is the parent command for migration operations
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Database migration management commands for applying, rolling back, and checking migration status.`,
	}
	cmd.PersistentFlags().String("db", "", "Path to SQLite database (overrides DATABASE_PATH)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  runMigrateUp,
		},
		&cobra.Command{
			Use:   "down",
			Short: "Rollback the last migration",
			RunE:  runMigrateDown,
		},
		&cobra.Command{
			Use:     "status",
			Aliases: []string{"version"},
			Short:   "Show current migration version",
			Long:    `Display the current migration version. Returns 0 if no migrations have been applied.`,
			RunE:    runMigrateStatus,
		},
	)
	return cmd
}

// runMigrateUp applies all pending migrations
func runMigrateUp(cmd *cobra.Command, _ []string) error {
	db, err := openForMigration(cmd)
	if err != nil {
		return err
	}
	defer closeQuietly(cmd, db)

	if err := db.Migrations().Up(); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied successfully")
	return err
}

// runMigrateDown rolls back the last migration
func runMigrateDown(cmd *cobra.Command, _ []string) error {
	db, err := openForMigration(cmd)
	if err != nil {
		return err
	}
	defer closeQuietly(cmd, db)

	if err := db.Migrations().Down(); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), "Migration rolled back successfully")
	return err
}

// runMigrateStatus shows the current migration version
func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	db, err := openForMigration(cmd)
	if err != nil {
		return err
	}
	defer closeQuietly(cmd, db)

	runner := db.Migrations()
	version, err := runner.Status()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := runner.Latest()
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Current migration version: %d (latest: %d, dialect: %s)\n",
		version, latest, runner.Dialect())
	return err
}

// openForMigration connects using DB_DRIVER / DATABASE_URL / DATABASE_PATH without
// applying migrations on open.
func openForMigration(cmd *cobra.Command) (*database.DB, error) {
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if path, _ := cmd.Flags().GetString("db"); path != "" {
		cfg.DatabasePath = path
	}

	dbConfig, err := buildDatabaseConfig(cfg)
	if err != nil {
		return nil, err
	}
	dbConfig.SkipMigrations = true

	db, err := database.NewFromConfig(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	if err := db.Ping(cmd.Context()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func closeQuietly(cmd *cobra.Command, db *database.DB) {
	if err := db.Close(); err != nil {
		// Log but don't fail the command if close fails
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: Failed to close database connection: %v\n", err)
	}
}
