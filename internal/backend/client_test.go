package backend

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPath(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"unix:///tmp/authentik-core.sock", "/tmp/authentik-core.sock"},
		{"unix://authentik-core.sock", "authentik-core.sock"},
		{"unix://run/authentik.sock", "run/authentik.sock"},
	}
	for _, tc := range tests {
		u, err := url.Parse(tc.uri)
		require.NoError(t, err)
		assert.Equal(t, tc.want, SocketPath(u))
	}
}

func TestClientTCP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client := NewClient(u)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/x?a=1", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestClientUnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "router")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	sock := filepath.Join(dir, "s.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()

	var gotPath string
	go func() {
		_ = http.Serve(ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.RequestURI()
			w.WriteHeader(http.StatusNoContent)
		}))
	}()

	u, err := url.Parse("unix://" + sock)
	require.NoError(t, err)
	client := NewClient(u)

	req, err := http.NewRequest(http.MethodGet, "http://localhost/x?a=1", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "/x?a=1", gotPath)
}

func TestClientDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client := NewClient(u)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/elsewhere", resp.Header.Get("Location"))
}
