// Command tutordex is the pipeline entrypoint. One binary carries the
// Telegram collector, the extraction worker, the reprocessor and the schema
// migrator; the subcommand selects the role so deployments ship a single
// image.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/database"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/version"
)

func main() {
	app := &cli.App{
		Name:    "tutordex",
		Usage:   "tuition assignment ingest and extraction pipeline",
		Version: version.GitCommit,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "load environment from `FILE` before reading configuration",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			collectorCommand(),
			workerCommand(),
			reprocessCommand(),
			migrateCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "tutordex:", err)
		os.Exit(1)
	}
}

// setup loads the env file, installs the process logger and resolves the
// shared configuration. Every command action calls it first; configuration
// problems exit with code 2 so wrappers can tell them from runtime failures.
func setup(c *cli.Context) (*config.Config, *slog.Logger, error) {
	if path := c.String("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil {
			if !os.IsNotExist(err) {
				return nil, nil, cli.Exit(fmt.Sprintf("env file %s: %v", path, err), 2)
			}
		}
	}

	logger := newLogger()
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, cli.Exit(fmt.Sprintf("configuration: %v", err), 2)
	}
	return cfg, logger, nil
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the slog default.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// signalContext derives a context cancelled by SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// parseTimeFlag reads an optional time flag, accepting RFC3339 or a bare
// date. The zero time means the flag was not set.
func parseTimeFlag(c *cli.Context, name string) (time.Time, error) {
	v := c.String(name)
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, cli.Exit(fmt.Sprintf("invalid --%s %q: want RFC3339 or YYYY-MM-DD", name, v), 2)
}

// loadTaxonomy resolves the tutor-type and agency taxonomy, falling back to
// the built-in table when TAXONOMY_FILE is unset or missing.
func loadTaxonomy(cfg *config.Config, logger *slog.Logger) (*config.Taxonomy, error) {
	tax, err := config.LoadTaxonomy(cfg.TaxonomyFile)
	if err != nil {
		return nil, fmt.Errorf("loading taxonomy %s: %w", cfg.TaxonomyFile, err)
	}
	if cfg.TaxonomyFile != "" {
		logger.Info("Taxonomy loaded", "path", cfg.TaxonomyFile, "agencies", len(tax.Agencies))
	}
	return tax, nil
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the build version",
		Action: func(*cli.Context) error {
			fmt.Println(version.Full())
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply or roll back the embedded schema migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "postgres connection `DSN`; falls back to DB_* settings",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.IntFlag{
				Name:  "down",
				Usage: "roll back `N` migrations instead of applying pending ones",
			},
		},
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	_, logger, err := setup(c)
	if err != nil {
		return err
	}

	dsn := c.String("dsn")
	dbName := "tutordex"
	if dsn == "" {
		dbCfg, err := database.LoadConfigFromEnv()
		if err != nil {
			return cli.Exit(fmt.Sprintf("database configuration: %v", err), 2)
		}
		if err := dbCfg.Validate(); err != nil {
			return cli.Exit(fmt.Sprintf("database configuration: %v", err), 2)
		}
		dsn = dbCfg.DSN()
		if dbCfg.Database != "" {
			dbName = dbCfg.Database
		}
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx, stop := signalContext(c.Context)
	defer stop()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	if n := c.Int("down"); n > 0 {
		if err := database.MigrateDown(db, dbName, n); err != nil {
			return err
		}
		logger.Info("Rolled back migrations", "steps", n)
		return nil
	}

	if err := database.RunMigrations(db, dbName); err != nil {
		return err
	}
	applied, dirty, err := database.MigrationVersion(db, dbName)
	if err != nil {
		return err
	}
	logger.Info("Migrations applied", "version", applied, "dirty", dirty)
	return nil
}
