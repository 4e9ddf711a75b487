package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"sort"

	"crash-game/internal/config"
	"crash-game/internal/database"
)

func main() {
	dir := flag.String("dir", "migrations", "directory of .sql files applied after AutoMigrate (postgres only)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	if err := database.Connect(cfg.Database.Driver, cfg.GetDSN()); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	if cfg.Database.Driver == "sqlite" {
		log.Println("SQLite: skipping SQL migrations")
		return
	}

	files, err := filepath.Glob(filepath.Join(*dir, "*.sql"))
	if err != nil {
		log.Fatalf("Failed to list migrations: %v", err)
	}
	sort.Strings(files)

	db := database.GetDB()
	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("Failed to read migration file: %v", err)
		}

		log.Printf("Applying migration: %s", filepath.Base(file))
		if err := db.Exec(string(sqlBytes)).Error; err != nil {
			log.Fatalf("Failed to apply %s: %v", filepath.Base(file), err)
		}
	}

	log.Printf("Applied %d SQL migrations", len(files))
}
