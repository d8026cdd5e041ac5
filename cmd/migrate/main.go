// The migrate binary applies or rolls back the embedded database migrations.
//
// Usage: migrate [up|down]
package main

import (
	"fmt"
	"log"
	"os"

	"citizen-access-plane/internal/config"
	"citizen-access-plane/internal/db/migrate"
)

func main() {
	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := migrate.Run(cfg.DatabaseURL, direction); err != nil {
		log.Fatalf("migrate %s: %v", direction, err)
	}
	fmt.Printf("migrations %s: done\n", direction)
}
