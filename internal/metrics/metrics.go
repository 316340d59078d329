// Package metrics serves the process-global Prometheus registry on a
// dedicated listener in the text exposition format.
package metrics

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"goauthentik.io/router/internal/listen"
	"goauthentik.io/router/internal/signalbus"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// Handler snapshots the default registry and encodes it. Gather or encode
// failures, and non-UTF-8 output, yield 500.
func Handler(log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		families, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			log.Error("could not gather prometheus metrics", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var buf bytes.Buffer
		for _, family := range families {
			if _, err := expfmt.MetricFamilyToText(&buf, family); err != nil {
				log.Error("could not encode prometheus metrics", "err", err)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		if !utf8.Valid(buf.Bytes()) {
			log.Error("prometheus metrics are not valid UTF-8")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	})
}

// Run serves GET /metrics on addr until a terminating token arrives on the
// web signal bus.
func Run(ctx context.Context, addr string, signals <-chan signalbus.Signal, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(log))

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return listen.Serve(ctx, srv, nil, signals, nil, log)
}
