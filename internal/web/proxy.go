package web

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"goauthentik.io/router/internal/backend"
	"goauthentik.io/router/internal/constants"
)

var proxiedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "authentik_router_proxied_requests_total",
	Help: "Requests forwarded to the backend worker, by kind and outcome.",
}, []string{"kind", "outcome"})

// Proxy is the catch-all fallback: it forwards unary HTTP requests to the
// backend and transparently relays WebSocket upgrades.
type Proxy struct {
	backendURI *url.URL
	client     *backend.Client
	dialer     *websocket.Dialer
	upgrader   websocket.Upgrader
	log        *slog.Logger
}

func NewProxy(backendURI *url.URL, client *backend.Client, log *slog.Logger) *Proxy {
	return &Proxy{
		backendURI: backendURI,
		client:     client,
		dialer:     newDialer(backendURI),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// TLS and origin policy terminate at this hop; the backend
			// sees every upgrade.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// rewriteURL overlays the incoming path and query onto the backend
// scheme/authority. The path is copied, never concatenated, so trailing
// slashes and percent-encoding round-trip byte for byte.
func rewriteURL(base, in *url.URL) *url.URL {
	out := *base
	out.Path = in.Path
	out.RawPath = in.RawPath
	out.RawQuery = in.RawQuery
	out.ForceQuery = in.ForceQuery
	return &out
}

// rewriteHeaders applies the proxy's only response mutations: drop Server,
// assert X-Powered-By. It is idempotent.
func rewriteHeaders(h http.Header) {
	h.Del("Server")
	h.Set("X-Powered-By", constants.PoweredBy)
}

// Handle serves the fallback route, branching on WebSocket upgrades.
func (p *Proxy) Handle(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		p.handleWS(w, r)
		return
	}
	p.handleHTTP(w, r)
}

func (p *Proxy) handleHTTP(w http.ResponseWriter, r *http.Request) {
	out := r.Clone(r.Context())
	out.URL = rewriteURL(p.backendURI, r.URL)
	out.RequestURI = ""
	out.Host = r.Host

	resp, err := p.client.Do(out)
	if err != nil {
		proxiedRequestsTotal.WithLabelValues("http", "error").Inc()
		p.log.Warn("backend request failed", "err", err, "path", r.URL.EscapedPath())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer resp.Body.Close()
	proxiedRequestsTotal.WithLabelValues("http", "ok").Inc()

	header := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	rewriteHeaders(header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
