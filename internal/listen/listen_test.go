package listen_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goauthentik.io/router/internal/listen"
	"goauthentik.io/router/internal/signalbus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startServer(t *testing.T, handler http.Handler, signals <-chan signalbus.Signal, forward *signalbus.Bus) (string, chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{Handler: handler}
	done := make(chan error, 1)
	go func() {
		done <- listen.Serve(context.Background(), srv, ln, signals, forward, testLogger())
	}()
	return "http://" + ln.Addr().String(), done
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestServeInterruptClosesImmediately(t *testing.T) {
	bus := signalbus.New()
	url, done := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), bus.Subscribe(), nil)

	resp, _ := get(t, url)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	bus.Send(signalbus.Interrupt)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not close on Interrupt")
	}
}

func TestServeTerminateDrainsInFlightRequests(t *testing.T) {
	bus := signalbus.New()
	backendBus := signalbus.New()
	backendCh := backendBus.Subscribe()

	started := make(chan struct{})
	url, done := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte("slow-ok"))
	}), bus.Subscribe(), backendBus)

	type result struct {
		status int
		body   string
	}
	resc := make(chan result, 1)
	go func() {
		resp, body := get(t, url)
		resc <- result{resp.StatusCode, body}
	}()

	<-started
	bus.Send(signalbus.Terminate)

	// The backend bus hears Terminate no later than the drain window opens.
	select {
	case sig := <-backendCh:
		assert.Equal(t, signalbus.Terminate, sig)
	case <-time.After(time.Second):
		t.Fatal("Terminate was not forwarded to the backend bus")
	}

	// The request in flight completes.
	select {
	case res := <-resc:
		assert.Equal(t, http.StatusOK, res.status)
		assert.Equal(t, "slow-ok", res.body)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight request was aborted during drain")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after drain")
	}
}

func TestServeIgnoresUnrelatedTokens(t *testing.T) {
	bus := signalbus.New()
	url, done := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), bus.Subscribe(), nil)

	bus.Send(signalbus.Hangup)
	bus.Send(signalbus.UserDefined2)
	time.Sleep(100 * time.Millisecond)

	// Still serving.
	resp, _ := get(t, url)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	bus.Send(signalbus.Quit)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not close on Quit")
	}
}

func TestServeBindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := &http.Server{Addr: ln.Addr().String()}
	bus := signalbus.New()
	err = listen.Serve(context.Background(), srv, nil, bus.Subscribe(), nil, testLogger())
	assert.Error(t, err)
}
