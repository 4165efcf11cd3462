package main

import (
	"flag"
	"log"

	"ingestd/internal/config"
	"ingestd/internal/database"
)

func main() {
	var (
		direction = flag.String("direction", "up", "Migration direction: up or down")
		steps     = flag.Int("steps", 0, "Number of steps to rollback (only for down)")
		source    = flag.String("source", database.DefaultMigrationsSource, "Migrations source URL")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch *direction {
	case "up":
		log.Println("Running migrations...")
		if err := database.RunMigrations(cfg.DatabaseUrl, *source); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("✅ Migrations completed successfully")
	case "down":
		log.Printf("Rolling back %d migrations...\n", *steps)
		if err := database.RollbackMigrations(cfg.DatabaseUrl, *source, *steps); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("✅ Rollback completed successfully")
	default:
		log.Fatalf("Unknown direction %q (want up or down)", *direction)
	}
}
