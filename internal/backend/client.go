package backend

import (
	"context"
	"net"
	"net/http"
	"net/url"
)

// SocketPath extracts the unix socket path from a unix:// URI. Both host-form
// (unix://sock) and path-form (unix:///tmp/sock) URIs are accepted.
func SocketPath(u *url.URL) string {
	if u.Host != "" {
		return u.Host + u.Path
	}
	return u.Path
}

// Client dispatches requests to the backend worker over TCP or a unix domain
// socket, selected once from the URI scheme at construction. It is cheap to
// copy and safe for concurrent use; pooling is handled by the underlying
// transport.
type Client struct {
	hc   *http.Client
	unix bool
}

// NewClient builds a client for the given backend URI. The "unix" scheme
// dials the socket path carried by the URI; "http" and "https" use TCP.
func NewClient(backendURI *url.URL) *Client {
	var transport *http.Transport
	unix := backendURI.Scheme == "unix"
	if unix {
		path := SocketPath(backendURI)
		dialer := &net.Dialer{}
		transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", path)
			},
		}
	} else {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	return &Client{
		hc: &http.Client{
			Transport: transport,
			// The proxy is transparent: pass redirects through to the
			// caller instead of following them.
			CheckRedirect: func(*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		unix: unix,
	}
}

// Do sends the request and returns the response with a streaming body. For
// unix transports the request URL is normalized to a dialable http URL; the
// socket is selected by the transport, not the URL.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.unix {
		u := *req.URL
		u.Scheme = "http"
		u.Host = "localhost"
		req.URL = &u
	}
	return c.hc.Do(req)
}
