package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand dispatching. Output
// goes to w.
func RunMigrateCommand(w io.Writer, args []string, dbPath string) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("missing migrate action")
	}

	// Open without migrating; the subcommand manages the schema itself.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	migrationsFS := MigrationsFS()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(w, "All migrations applied")
		return printVersion(w, database)

	case "down":
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(w, "Rolled back one migration")
		return printVersion(w, database)

	case "status":
		version, dirty, err := database.MigrateVersion(migrationsFS)
		if err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		latest, err := GetLatestMigrationVersion(migrationsFS)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Current version: %d (dirty: %v)\n", version, dirty)
		fmt.Fprintf(w, "Latest version:  %d\n", latest)
		if version < latest {
			fmt.Fprintf(w, "Outstanding migrations: %d\n", latest-version)
		}
		return nil

	case "version":
		if len(args) < 2 {
			return fmt.Errorf("usage: meshpca migrate version <version_number>")
		}
		target, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number %q: %w", args[1], err)
		}
		if err := database.MigrateTo(migrationsFS, uint(target)); err != nil {
			return err
		}
		return printVersion(w, database)

	case "help":
		PrintMigrateHelp(w)
		return nil

	default:
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func printVersion(w io.Writer, database *DB) error {
	version, dirty, err := database.MigrateVersion(MigrationsFS())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

// PrintMigrateHelp displays help for the migrate subcommand.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: meshpca migrate <action> [args]

Actions:
  up              Apply all pending migrations
  down            Roll back the most recent migration
  status          Show current and latest migration versions
  version <N>     Migrate up or down to version N
  help            Show this help
`)
}
