package web

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"goauthentik.io/router/internal/backend"
)

const wsWriteWait = 10 * time.Second

// newDialer builds the upstream WebSocket dialer matching the backend
// transport. The backend hop is always plain ws; TLS terminates here.
func newDialer(backendURI *url.URL) *websocket.Dialer {
	if backendURI.Scheme != "unix" {
		return &websocket.Dialer{}
	}
	path := backend.SocketPath(backendURI)
	netDialer := &net.Dialer{}
	return &websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return netDialer.DialContext(ctx, "unix", path)
		},
	}
}

func (p *Proxy) handleWS(w http.ResponseWriter, r *http.Request) {
	client, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the handshake.
		return
	}
	defer client.Close()

	u := rewriteURL(p.backendURI, r.URL)
	u.Scheme = "ws"
	if p.backendURI.Scheme == "unix" {
		// The socket is selected by the dialer; the URL only needs a
		// dialable shape.
		u.Host = "localhost"
	}

	upstream, resp, err := p.dialer.DialContext(r.Context(), u.String(), nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		proxiedRequestsTotal.WithLabelValues("ws", "error").Inc()
		// Protocol abort: close the client handshake without a body.
		return
	}
	defer upstream.Close()
	proxiedRequestsTotal.WithLabelValues("ws", "ok").Inc()

	errc := make(chan error, 2)
	go func() {
		errc <- relayFrames(upstream, client)
	}()
	go func() {
		errc <- relayFrames(client, upstream)
	}()

	// First half to finish cancels the other: closing both sockets unblocks
	// the peer read. Close frames are best-effort.
	<-errc
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	deadline := time.Now().Add(wsWriteWait)
	_ = client.WriteControl(websocket.CloseMessage, closeMsg, deadline)
	_ = upstream.WriteControl(websocket.CloseMessage, closeMsg, deadline)
}

// relayFrames copies data frames from src to dst until src closes, errors or
// dst rejects a write. Ping and pong frames pass through 1:1 via the control
// handlers; a Close ends the loop. Fragment reassembly happens inside the
// websocket library, so protocol-internal raw frames never reach the peer.
func relayFrames(dst, src *websocket.Conn) error {
	src.SetPingHandler(func(data string) error {
		return dst.WriteControl(websocket.PingMessage, []byte(data), time.Now().Add(wsWriteWait))
	})
	src.SetPongHandler(func(data string) error {
		return dst.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteWait))
	})

	for {
		msgType, msg, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(msgType, msg); err != nil {
			return err
		}
	}
}
