// Command authgraph-migrate applies the authgraph schema migrations to the
// configured database and exits.
package main

import (
	"context"
	"os"
	"time"

	"github.com/quartzcms/authgraph/pkg/config"
	"github.com/quartzcms/authgraph/pkg/store"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("authgraph-migrate: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := cfg.NewLogger()

	db, err := store.Open(cfg.Database.URL)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := store.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("migration failed")
	}
	log.Info("schema is up to date")
}
