// Command bootstrap provisions the control plane's first API key. Every
// route except status requires a bearer key, so the first one has to be
// minted against the database directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sunray-sh/sunray-api/internal/config"
	"github.com/sunray-sh/sunray-api/internal/db"
	"github.com/sunray-sh/sunray-api/internal/mailer"
	"github.com/sunray-sh/sunray-api/internal/service/control"
	"github.com/sunray-sh/sunray-api/internal/store"
	"github.com/sunray-sh/sunray-api/internal/workerrpc"
)

var (
	keyName     = flag.String("name", "bootstrap admin", "Name for the new API key")
	keyScopes   = flag.String("scopes", "all", "Comma-separated scopes for the new API key")
	list        = flag.Bool("list", false, "List existing API keys instead of creating one")
	showVersion = flag.Bool("version", false, "Show version information")
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("sunray-bootstrap version %s\n", version)
		os.Exit(0)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to apply migrations: %v\n", err)
		os.Exit(1)
	}

	if *list {
		if err := listKeys(ctx, pool); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list API keys: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctl := control.New(pool, workerrpc.New(), mailer.Disabled{})
	created, err := ctl.CreateAPIKey(ctx, *keyName, *keyScopes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key %q created (id %s, scopes %s)\n\n", created.Name, created.ID, created.Scopes)
	fmt.Printf("    %s\n\n", created.Key)
	fmt.Println("The full value is shown only here; listings carry a prefix.")
}

func listKeys(ctx context.Context, pool *pgxpool.Pool) error {
	keys, err := store.New(pool).ListAPIKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No API keys yet. Run without -list to create the first one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tSCOPES\tACTIVE\tUSES\tCREATED")
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n",
			k.KeyDisplay, k.Name, k.Scopes, k.IsActive, k.UsageCount,
			k.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}
