package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"orchard-platform/internal/config"
	"orchard-platform/pkg/database"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	dbConfig := &database.Config{
		Driver:   cfg.Store.Driver,
		Host:     cfg.Store.Host,
		Port:     cfg.Store.Port,
		User:     cfg.Store.User,
		Password: cfg.Store.Password,
		Database: cfg.Store.Database,
		SSLMode:  cfg.Store.SSLMode,
		Path:     cfg.Store.Path,
	}

	dsn, err := dbConfig.DSN()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build connection string: %v\n", err)
		os.Exit(1)
	}

	db, err := sql.Open(cfg.Store.Driver, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to ping database: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Connected to %s store successfully\n", cfg.Store.Driver)

	// Read driver-specific migration file
	var migrationFile string
	if *direction == "up" {
		migrationFile = "001_create_schema.up.sql"
	} else {
		migrationFile = "001_create_schema.down.sql"
	}

	migrationPath := filepath.Join("migrations", cfg.Store.Driver, migrationFile)
	content, err := os.ReadFile(migrationPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read migration file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running migration: %s\n", migrationPath)

	// Execute migration
	_, err = db.Exec(string(content))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Migration completed successfully")
}
