// Package web is the dual-socket front end: it composes the router (static
// assets, token introspection, catch-all proxy fallback) and runs the plain
// HTTP and TLS listeners against the web signal bus.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"

	"goauthentik.io/router/internal/backend"
	"goauthentik.io/router/internal/config"
	"goauthentik.io/router/internal/crypto"
	"goauthentik.io/router/internal/listen"
	"goauthentik.io/router/internal/oauth2"
	"goauthentik.io/router/internal/signalbus"
)

// NewRouter builds the front-end handler. The introspector receives its store
// via its own constructor; the proxy core has no database dependency.
func NewRouter(cfg *config.Settings, backendURI *url.URL, client *backend.Client, intro *oauth2.Introspector, log *slog.Logger) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ErrorReporting.Enabled {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}
	r.Use(RequestID(), RequestLogger(log))
	if err := r.SetTrustedProxies(cfg.Listen.TrustedProxyCIDRs); err != nil {
		log.Warn("invalid trusted proxy configuration", "err", err)
	}

	registerAssets(r, cfg)

	if intro != nil {
		r.POST("/application/o/introspect/", intro.Handler)
	}

	proxy := NewProxy(backendURI, client, log)
	r.NoRoute(func(c *gin.Context) {
		proxy.Handle(c.Writer, c.Request)
	})

	return r
}

// RunPlain serves the router over plain HTTP. Its shutdown coordinator
// additionally forwards Terminate to the backend bus so the backend drains in
// parallel with the front-end.
func RunPlain(ctx context.Context, cfg *config.Settings, handler http.Handler, webBus, backendBus *signalbus.Bus, log *slog.Logger) error {
	srv := &http.Server{
		Addr:    cfg.Listen.HTTP,
		Handler: handler,
	}
	return listen.Serve(ctx, srv, nil, webBus.Subscribe(), backendBus, log)
}

// RunTLS serves the router over HTTPS with a certificate generated at
// listener construction and discarded on exit.
func RunTLS(ctx context.Context, cfg *config.Settings, handler http.Handler, webBus *signalbus.Bus, log *slog.Logger) error {
	cert, err := crypto.GenerateSelfSigned()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:      cfg.Listen.HTTPS,
		Handler:   handler,
		TLSConfig: crypto.TLSConfig(cert),
	}
	return listen.ServeTLS(ctx, srv, nil, webBus.Subscribe(), log)
}
