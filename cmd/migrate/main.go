package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"campusgrid.org/internal/auth"
	"campusgrid.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	var (
		dsn           = flag.String("dsn", os.Getenv("CAMPUSGRID_AUTH__POSTGRES_DSN"), "PostgreSQL DSN")
		migrationsDir = flag.String("migrations", "db/migrations", "Path to SQL migrations")
		seedsDir      = flag.String("seeds", "db/seeds", "Path to SQL seeds")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or CAMPUSGRID_AUTH__POSTGRES_DSN")
	}
	if flag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := auth.OpenDB(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	runner := migrate.NewRunner(db, *migrationsDir, *seedsDir)

	switch cmd := flag.Arg(0); cmd {
	case "up":
		err = runner.Apply(ctx)
	case "down":
		err = runner.Rollback(ctx)
	case "seed":
		err = runner.Seed(ctx)
	case "status":
		var applied []string
		applied, err = runner.Applied(ctx)
		if err == nil {
			for _, name := range applied {
				fmt.Println(name)
			}
		}
	default:
		log.Fatalf("unknown command %q", cmd)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
