// Package listen runs the router's HTTP servers with a shutdown coordinator
// attached to the web signal bus. Interrupt and Quit close a server
// immediately; Terminate stops accepting and lets open connections finish
// within the drain window.
package listen

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"goauthentik.io/router/internal/signalbus"
)

// DrainTimeout bounds the graceful shutdown window on Terminate.
const DrainTimeout = 30 * time.Second

// Serve listens on srv.Addr (or ln when non-nil) until a terminating token
// arrives on signals. When forward is non-nil, a Terminate token is passed on
// to it as the drain window begins, so the backend drains in parallel with
// the front-end.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, signals <-chan signalbus.Signal, forward *signalbus.Bus, log *slog.Logger) error {
	return run(ctx, srv, func() error {
		if ln != nil {
			return srv.Serve(ln)
		}
		return srv.ListenAndServe()
	}, signals, forward, log)
}

// ServeTLS is Serve for a server whose TLSConfig is already populated.
func ServeTLS(ctx context.Context, srv *http.Server, ln net.Listener, signals <-chan signalbus.Signal, log *slog.Logger) error {
	return run(ctx, srv, func() error {
		if ln != nil {
			return srv.ServeTLS(ln, "", "")
		}
		return srv.ListenAndServeTLS("", "")
	}, signals, nil, log)
}

func run(ctx context.Context, srv *http.Server, serve func() error, signals <-chan signalbus.Signal, forward *signalbus.Bus, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		coordinate(ctx, srv, signals, forward, log)
	}()

	err := serve()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	// Unblock the coordinator on a bind failure, then wait for any drain in
	// progress before returning.
	cancel()
	<-done
	return err
}

func coordinate(ctx context.Context, srv *http.Server, signals <-chan signalbus.Signal, forward *signalbus.Bus, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			_ = srv.Close()
			return
		case sig := <-signals:
			switch sig {
			case signalbus.Interrupt, signalbus.Quit:
				log.Debug("shutting down listener", "addr", srv.Addr)
				_ = srv.Close()
				return
			case signalbus.Terminate:
				log.Debug("draining listener", "addr", srv.Addr, "timeout", DrainTimeout)
				if forward != nil {
					forward.Send(signalbus.Terminate)
				}
				sctx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
				if err := srv.Shutdown(sctx); err != nil {
					log.Warn("listener drain ended early", "addr", srv.Addr, "err", err)
					_ = srv.Close()
				}
				cancel()
				return
			default:
				// Token is not for us.
			}
		}
	}
}
