package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"roombroker/internal/config"
	"roombroker/pkg/database"

	"github.com/joho/godotenv"
)

const usage = `
roombroker - Database CLI Tool

Usage:
  migrate [command] [flags]

Commands:
  up          Run all migrations (SQL + GORM)
  status      Show database connection status

Flags:
  -migrations string   Path to migrations directory (default "migrations")

Examples:
  go run cmd/migrate/main.go up
  go run cmd/migrate/main.go status
`

func main() {
	migrationsDir := flag.String("migrations", "migrations", "Path to migrations directory")

	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	_ = godotenv.Load()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	switch flag.Arg(0) {
	case "up":
		if err := database.ApplyRawMigrations(db, *migrationsDir); err != nil {
			log.Fatalf("Raw migrations failed: %v", err)
		}
		if err := database.Migrate(db); err != nil {
			log.Fatalf("GORM migrations failed: %v", err)
		}
		log.Println("Migrations applied")
	case "status":
		sqlDB, err := db.DB()
		if err != nil {
			log.Fatalf("Failed to get database handle: %v", err)
		}
		if err := sqlDB.Ping(); err != nil {
			log.Fatalf("Database unreachable: %v", err)
		}
		log.Println("Database connection OK")
	default:
		flag.Usage()
		os.Exit(1)
	}
}
