// Package main is the operator CLI for a SchemaFlow deployment. It talks to
// the database directly, so it runs wherever the server's DSN is reachable.
//
// Usage:
//
//	schemaflowctl migrate
//	schemaflowctl create-tenant -name "Acme Corp" -slug acme
//	schemaflowctl create-user -tenant acme -email admin@acme.io -password ... -role admin
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/schemaflow/platform/internal/app/domain/tenant"
	"github.com/schemaflow/platform/internal/app/services/tenants"
	"github.com/schemaflow/platform/internal/app/storage/postgres"
	"github.com/schemaflow/platform/internal/config"
	"github.com/schemaflow/platform/internal/platform/migrations"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	_ = godotenv.Load() // optional .env for local runs

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "migrate":
		err = runMigrate(ctx, os.Args[2:])
	case "create-tenant":
		err = runCreateTenant(ctx, os.Args[2:])
	case "create-user":
		err = runCreateUser(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		log.Printf("unknown command %q", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: schemaflowctl <migrate|create-tenant|create-user> [flags]")
}

func openStore(ctx context.Context) (*postgres.Store, *sqlx.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.DSN == "" {
		return nil, nil, fmt.Errorf("no database configured; set SCHEMAFLOW_DB_DSN or DATABASE_URL")
	}

	db, err := sqlx.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return postgres.New(db), db, nil
}

func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.Apply(ctx, db.DB); err != nil {
		return err
	}
	log.Println("migrations applied")
	return nil
}

func runCreateTenant(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-tenant", flag.ExitOnError)
	name := fs.String("name", "", "display name")
	slug := fs.String("slug", "", "URL slug, lowercase letters, digits and dashes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := tenants.New(store, store, nil, nil)
	created, err := svc.CreateTenant(ctx, *name, *slug)
	if err != nil {
		return err
	}
	log.Printf("created tenant %s (%s)", created.Slug, created.ID)
	return nil
}

func runCreateUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ExitOnError)
	slug := fs.String("tenant", "", "tenant slug")
	email := fs.String("email", "", "login email")
	password := fs.String("password", "", "login password, at least 8 characters")
	role := fs.String("role", string(tenant.RoleViewer), "admin, editor or viewer")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	ten, err := store.GetTenantBySlug(ctx, *slug)
	if err != nil {
		return fmt.Errorf("tenant %q: %w", *slug, err)
	}

	svc := tenants.New(store, store, nil, nil)
	created, err := svc.CreateUser(ctx, ten.ID, *email, *password, tenant.Role(*role))
	if err != nil {
		return err
	}
	log.Printf("created user %s (%s) in %s", created.Email, created.Role, ten.Slug)
	return nil
}
