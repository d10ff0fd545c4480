package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"sweepbot/migrations"
)

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/bot.db"), "path to sqlite database")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-db path] <command>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Commands:")
		fmt.Fprintln(os.Stderr, "  up          Migrate to the latest version")
		fmt.Fprintln(os.Stderr, "  up-one      Migrate one version up")
		fmt.Fprintln(os.Stderr, "  down        Roll back one version")
		fmt.Fprintln(os.Stderr, "  status      Show migration status")
		fmt.Fprintln(os.Stderr, "  version     Show current version")
		fmt.Fprintln(os.Stderr, "  reset       Roll back all migrations")
		os.Exit(1)
	}

	log, _ := zap.NewDevelopment()
	defer func() { _ = log.Sync() }()

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Fatal("open database", zap.String("path", *dbPath), zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	p, err := migrations.NewProvider(db)
	if err != nil {
		log.Fatal("create provider", zap.Error(err))
	}

	ctx := context.Background()
	cmd := args[0]
	if err := run(ctx, p, cmd, log); err != nil {
		log.Fatal(cmd, zap.Error(err))
	}
}

func run(ctx context.Context, p *goose.Provider, cmd string, log *zap.Logger) error {
	switch cmd {
	case "up":
		results, err := p.Up(ctx)
		logResults(log, results...)
		return err
	case "up-one":
		res, err := p.UpByOne(ctx)
		if errors.Is(err, goose.ErrNoNextVersion) {
			log.Info("already at the latest version")
			return nil
		}
		logResults(log, res)
		return err
	case "down":
		res, err := p.Down(ctx)
		if errors.Is(err, goose.ErrNoNextVersion) {
			log.Info("nothing to roll back")
			return nil
		}
		logResults(log, res)
		return err
	case "reset":
		results, err := p.DownTo(ctx, 0)
		logResults(log, results...)
		return err
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "pending"
			if s.State == goose.StateApplied {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-24s %s\n", applied, s.Source.Path)
		}
		return nil
	case "version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("version %d\n", v)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func logResults(log *zap.Logger, results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil {
			continue
		}
		log.Info("migration",
			zap.String("direction", r.Direction),
			zap.Int64("version", r.Source.Version),
			zap.Duration("took", r.Duration),
		)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
