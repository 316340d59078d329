// Command router is the authentik front door: it supervises the backend
// worker and reverse-proxies HTTP, HTTPS and WebSocket traffic to it.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"goauthentik.io/router/internal/backend"
	"goauthentik.io/router/internal/config"
	"goauthentik.io/router/internal/metrics"
	"goauthentik.io/router/internal/oauth2"
	"goauthentik.io/router/internal/signalbus"
	"goauthentik.io/router/internal/telemetry"
	"goauthentik.io/router/internal/web"
)

// TODO: source the DSN from the settings loader once the backend's database
// section is modeled there.
const databaseDSN = "postgres://postgres@localhost/authentik?sslmode=disable"

func backendURI(cfg *config.Settings) (*url.URL, error) {
	if cfg.Debug {
		return url.Parse("http://localhost:8000")
	}
	return url.Parse("unix://" + filepath.Join(os.TempDir(), "authentik-core.sock"))
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, flush, err := telemetry.Init(cfg)
	if err != nil {
		return err
	}
	defer flush()

	uri, err := backendURI(cfg)
	if err != nil {
		return fmt.Errorf("build backend uri: %w", err)
	}

	spec, err := backend.NewSpec(cfg.Debug)
	if err != nil {
		return err
	}
	supervisor := backend.NewSupervisor(uri, spec, log)
	client := backend.NewClient(uri)

	db := oauth2.OpenDB(databaseDSN, cfg.Debug)
	defer db.Close()
	introspector := oauth2.NewIntrospector(db, log)

	router := web.NewRouter(cfg, uri, client, introspector, log)

	webBus := signalbus.New()
	backendBus := signalbus.New()

	// The process lives as long as the group: any task returning an error
	// tears the whole router down, on the principle that partial
	// degradation is worse than a restart by the process manager.
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		return metrics.Run(ctx, cfg.Listen.Metrics, webBus.Subscribe(), log)
	})
	g.Go(func() error {
		return supervisor.Run(ctx, backendBus.Subscribe())
	})
	g.Go(func() error {
		return web.RunPlain(ctx, cfg, router, webBus, backendBus, log)
	})
	g.Go(func() error {
		return web.RunTLS(ctx, cfg, router, webBus, log)
	})
	g.Go(func() error {
		return signalbus.Pump(ctx, webBus, backendBus)
	})

	log.Info("router started",
		"http", cfg.Listen.HTTP,
		"https", cfg.Listen.HTTPS,
		"metrics", cfg.Listen.Metrics,
		"backend", uri.String(),
	)
	return g.Wait()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "router: %v\n", err)
		os.Exit(1)
	}
}
