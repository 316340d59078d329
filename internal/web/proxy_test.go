package web

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goauthentik.io/router/internal/backend"
	"goauthentik.io/router/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSettings() *config.Settings {
	return &config.Settings{
		Debug: true,
		Listen: config.ListenSettings{
			TrustedProxyCIDRs: []string{"127.0.0.0/8"},
		},
		Storage: config.StorageSettings{
			Media: config.StorageMediaSettings{Backend: "file", File: config.StorageMediaFileSettings{Path: "./media"}},
		},
	}
}

func newTestRouter(t *testing.T, backendURL string) http.Handler {
	t.Helper()
	u, err := url.Parse(backendURL)
	require.NoError(t, err)
	return NewRouter(testSettings(), u, backend.NewClient(u), nil, testLogger())
}

func TestRewriteURL(t *testing.T) {
	base, err := url.Parse("http://127.0.0.1:18000")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "/x?a=1", "http://127.0.0.1:18000/x?a=1"},
		{"trailing slash kept", "/x/", "http://127.0.0.1:18000/x/"},
		{"percent encoding kept", "/a%2Fb/c?q=%20x", "http://127.0.0.1:18000/a%2Fb/c?q=%20x"},
		{"empty query kept", "/x?", "http://127.0.0.1:18000/x?"},
		{"root", "/", "http://127.0.0.1:18000/"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in, err := url.Parse("http://client.example" + tc.in)
			require.NoError(t, err)
			out := rewriteURL(base, in)
			assert.Equal(t, tc.want, out.String())
			// The authority is the backend's, untouched.
			assert.Equal(t, base.Host, out.Host)
			assert.Equal(t, base.Scheme, out.Scheme)
		})
	}
}

func TestRewriteHeadersIdempotent(t *testing.T) {
	h := http.Header{}
	h.Set("Server", "gunicorn")
	h.Add("Server", "something-else")
	h.Set("Content-Type", "application/json")

	for i := 0; i < 3; i++ {
		rewriteHeaders(h)
	}

	assert.Empty(t, h.Values("Server"))
	assert.Equal(t, []string{"authentik"}, h.Values("X-Powered-By"))
	assert.Equal(t, "application/json", h.Get("Content-Type"))
}

func TestProxyUnaryRequest(t *testing.T) {
	var gotURI, gotHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.RequestURI()
		gotHost = r.Host
		w.Header().Set("Server", "gunicorn")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream.URL)
	front := httptest.NewServer(router)
	defer front.Close()

	resp, err := http.Get(front.URL + "/x?a=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "authentik", resp.Header.Get("X-Powered-By"))
	assert.Empty(t, resp.Header.Values("Server"))
	assert.Equal(t, "/x?a=1", gotURI)
	// The inbound Host header passes through untouched.
	frontURL, _ := url.Parse(front.URL)
	assert.Equal(t, frontURL.Host, gotHost)
}

func TestProxyStreamsBodyUnaltered(t *testing.T) {
	payload := "payload: \x00\x01 unaltered"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(payload + string(body)))
	}))
	defer upstream.Close()

	front := httptest.NewServer(newTestRouter(t, upstream.URL))
	defer front.Close()

	resp, err := http.Post(front.URL+"/submit", "application/octet-stream", io.NopCloser(io.LimitReader(neverEnding('z'), 6)))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload+"zzzzzz", string(body))
}

type neverEnding byte

func (b neverEnding) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(b)
	}
	return len(p), nil
}

func TestProxyTransportErrorYields500(t *testing.T) {
	// A closed port: dialing fails per request.
	front := httptest.NewServer(newTestRouter(t, "http://127.0.0.1:1"))
	defer front.Close()

	resp, err := http.Get(front.URL + "/x")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestProxyOverUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "router")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	sock := dir + "/s.sock"
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		_ = http.Serve(ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", "gunicorn")
			w.WriteHeader(http.StatusNoContent)
		}))
	}()

	front := httptest.NewServer(newTestRouter(t, "unix://"+sock))
	defer front.Close()

	resp, err := http.Get(front.URL + "/x?a=1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "authentik", resp.Header.Get("X-Powered-By"))
	assert.Empty(t, resp.Header.Values("Server"))
}

func TestStaticRoutesCarryVersionHeaders(t *testing.T) {
	front := httptest.NewServer(newTestRouter(t, "http://127.0.0.1:1"))
	defer front.Close()

	resp, err := http.Get(front.URL + "/robots.txt")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "public, no-transform", resp.Header.Get("Cache-Control"))
	assert.NotEmpty(t, resp.Header.Get("X-authentik-version"))
	assert.Equal(t, "X-authentik-version, Etag", resp.Header.Get("Vary"))
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "User-agent")
}
