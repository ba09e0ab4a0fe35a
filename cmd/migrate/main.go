package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/wolfman30/medspa-telehealth/migrations"
	"github.com/wolfman30/medspa-telehealth/pkg/logging"
)

const usage = `usage: migrate [up | down <steps> | force <version> | version]
  up               apply all pending telehealth schema migrations (default)
  down <steps>     roll back the given number of migrations
  force <version>  mark the schema as clean at version after a failed run
  version          print the applied schema version`

// telehealthTables must exist once the schema is fully applied.
var telehealthTables = []string{
	"appointments",
	"patient_credentials",
	"telemedicine_sessions",
	"session_transcript_segments",
	"session_notes",
	"session_chat_messages",
	"outbox",
	"compliance_audit_events",
}

type command struct {
	name string
	arg  int
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{name: "up"}, nil
	}
	switch args[0] {
	case "up", "version":
		if len(args) > 1 {
			return command{}, fmt.Errorf("%s takes no arguments", args[0])
		}
		return command{name: args[0]}, nil
	case "down", "force":
		if len(args) != 2 {
			return command{}, fmt.Errorf("%s requires one numeric argument", args[0])
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return command{}, fmt.Errorf("%s: invalid number %q", args[0], args[1])
		}
		if args[0] == "down" && n <= 0 {
			return command{}, errors.New("down: steps must be positive")
		}
		return command{name: args[0], arg: n}, nil
	}
	return command{}, fmt.Errorf("unknown command %q", args[0])
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"))

	cmd, err := parseCommand(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := run(ctx, db, cmd, logger); err != nil {
		logger.Error("telehealth schema migration failed", "command", cmd.name, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, db *sql.DB, cmd command, logger *logging.Logger) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("database driver: %w", err)
	}
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	switch cmd.name {
	case "force":
		if err := m.Force(cmd.arg); err != nil {
			return fmt.Errorf("force version %d: %w", cmd.arg, err)
		}
		logger.Info("telehealth schema version forced", "version", cmd.arg)
		return nil
	case "down":
		if err := m.Steps(-cmd.arg); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("roll back %d steps: %w", cmd.arg, err)
		}
	case "version":
	default:
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", err)
		}
		if err := verifySchema(ctx, db); err != nil {
			return err
		}
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info("telehealth schema is empty", "command", cmd.name)
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		logger.Info("telehealth schema ready", "command", cmd.name, "version", version, "dirty", dirty)
	}
	return nil
}

// verifySchema confirms every table the services query is present.
func verifySchema(ctx context.Context, db *sql.DB) error {
	var missing []string
	for _, table := range telehealthTables {
		var found sql.NullString
		if err := db.QueryRowContext(ctx, `SELECT to_regclass($1)::text`, "public."+table).Scan(&found); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !found.Valid {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("schema incomplete, missing tables: %s", strings.Join(missing, ", "))
	}
	return nil
}
