// migrate applies the embedded schema migrations to the configured postgres database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/tranzio/tranzio-api/internal/db/migrate"
	"github.com/tranzio/tranzio-api/internal/infra/config"
	"github.com/tranzio/tranzio-api/internal/infra/database"
)

func main() {
	directionFlag := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	_ = godotenv.Load()

	direction, err := migrate.ParseDirection(*directionFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := migrate.EnsureSchema(ctx, database.DSN(cfg.Postgres), database.Schema(cfg.Postgres)); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}

	if err := migrate.Run(database.MigrationDSN(cfg.Postgres), direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
