package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"pingup/internal/database"
	"pingup/internal/migrations"
	"pingup/internal/security"

	"github.com/sirupsen/logrus"
)

func main() {
	dbPath := flag.String("db", "./pingup.db", "Path to the database file")
	statusOnly := flag.Bool("status", false, "Print the schema version without applying migrations")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := migrate(ctx, *dbPath, *statusOnly, logger); err != nil {
		logger.Fatalf("Migration failed: %v", err)
	}
}

func migrate(ctx context.Context, dbPath string, statusOnly bool, logger *logrus.Logger) error {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return fmt.Errorf("invalid database path: %w", err)
	}
	if statusOnly {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}
	}

	db, err := database.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	before, err := migrations.CurrentVersion(ctx, db)
	if err != nil {
		return err
	}

	if statusOnly {
		fmt.Printf("Schema version: %d\n", before)
		return nil
	}

	applied, err := migrations.Apply(ctx, db)
	for _, m := range applied {
		logger.WithFields(logrus.Fields{
			"version": m.Version,
			"name":    m.Name,
		}).Info("Applied migration")
	}
	if err != nil {
		return err
	}

	after, err := migrations.CurrentVersion(ctx, db)
	if err != nil {
		return err
	}

	if len(applied) == 0 {
		fmt.Printf("Schema is up to date at version %d\n", after)
		return nil
	}
	fmt.Printf("Schema migrated from version %d to %d\n", before, after)
	return nil
}
