// Package backend owns the child worker process: spawning, the startup
// health gate, hot reload, zero-downtime restart and shutdown, driven by
// tokens from the signal bus. It also provides the transport-polymorphic
// client used by the proxy data plane.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"goauthentik.io/router/internal/constants"
	"goauthentik.io/router/internal/signalbus"
)

const (
	healthPath = "/-/health/live/"

	// successorSuffix is appended to the PID file path; gunicorn writes the
	// replacement master's PID there during a USR2 re-exec.
	successorSuffix = ".2"
)

var (
	healthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "authentik_router_backend_health_checks_total",
		Help: "Liveness probes issued against the backend worker.",
	}, []string{"result"})
	restartsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "authentik_router_backend_restarts_total",
		Help: "Completed zero-downtime backend restarts.",
	})
)

// Supervisor runs the backend worker. Its state is owned by the single task
// running Run; other components interact with it only through signal tokens.
type Supervisor struct {
	spec   Spec
	uri    *url.URL
	client *Client
	log    *slog.Logger

	// pid is authoritative for signal delivery. The on-disk PID file is
	// read only during the restart handshake to discover the successor.
	pid int

	ready chan struct{}

	healthInterval  time.Duration
	restartInterval time.Duration
	maxHealthFails  int
}

func NewSupervisor(uri *url.URL, spec Spec, log *slog.Logger) *Supervisor {
	return &Supervisor{
		spec:            spec,
		uri:             uri,
		client:          NewClient(uri),
		log:             log,
		ready:           make(chan struct{}),
		healthInterval:  time.Second,
		restartInterval: time.Second,
		maxHealthFails:  100,
	}
}

// Ready is closed once the backend first answers the liveness probe.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

// Run spawns the worker and then drives the health gate and the signal loop
// concurrently, so early termination signals take effect during startup. It
// returns when a terminating token arrives, or with an error when the spawn
// fails or the worker never becomes healthy.
func (s *Supervisor) Run(ctx context.Context, signals <-chan signalbus.Signal) error {
	if err := s.start(); err != nil {
		return fmt.Errorf("backend: spawn: %w", err)
	}

	stopped := make(chan struct{})
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.waitHealthy(ctx, stopped)
	})
	g.Go(func() error {
		defer close(stopped)
		return s.handleSignals(ctx, signals)
	})
	return g.Wait()
}

func (s *Supervisor) start() error {
	s.log.Debug("starting backend")
	cmd := exec.Command(s.spec.Command, s.spec.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	s.pid = cmd.Process.Pid
	// Reap the child when it exits so it does not linger as a zombie.
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

func (s *Supervisor) waitHealthy(ctx context.Context, stopped <-chan struct{}) error {
	failed := 0
	for failed < s.maxHealthFails {
		s.log.Debug("waiting for backend to be healthy")
		if err := s.healthcheck(ctx); err == nil {
			healthChecksTotal.WithLabelValues("ok").Inc()
			close(s.ready)
			return nil
		}
		healthChecksTotal.WithLabelValues("failed").Inc()
		failed++

		select {
		case <-ctx.Done():
			return nil
		case <-stopped:
			return nil
		case <-time.After(s.healthInterval):
		}
	}
	return fmt.Errorf("backend: failed to start within %d seconds", s.maxHealthFails)
}

func (s *Supervisor) healthcheck(ctx context.Context) error {
	u := *s.uri
	u.Path = healthPath
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Host = "localhost"
	req.Header.Set("User-Agent", constants.HealthUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend: healthcheck returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

func (s *Supervisor) handleSignals(ctx context.Context, signals <-chan signalbus.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-signals:
			s.log.Debug("received signal", "signal", sig.String())
			switch sig {
			case signalbus.Hangup:
				s.reload()
			case signalbus.Interrupt, signalbus.Quit:
				s.quickShutdown()
				return nil
			case signalbus.Terminate:
				s.gracefulShutdown()
				return nil
			case signalbus.UserDefined2:
				s.restart()
			}
		}
	}
}

// kill delivers sig to the current worker. A missing worker and a failed
// delivery are both logged and swallowed.
func (s *Supervisor) kill(sig unix.Signal, action string) {
	if s.pid == 0 {
		s.log.Warn("no gunicorn process launched, ignoring")
		return
	}
	if err := unix.Kill(s.pid, sig); err != nil {
		s.log.Warn("failed to "+action+" gunicorn", "err", err)
	}
}

func (s *Supervisor) reload() {
	s.log.Debug("reloading backend")
	s.kill(unix.SIGHUP, "reload")
}

func (s *Supervisor) quickShutdown() {
	s.log.Debug("quickly shutting down backend")
	s.kill(unix.SIGTERM, "shutdown")
}

func (s *Supervisor) gracefulShutdown() {
	s.log.Debug("gracefully shutting down backend")
	s.kill(unix.SIGTERM, "shutdown")
}

// restart performs the zero-downtime handshake: ask the running master to
// re-exec (SIGUSR2), wait for the successor's PID file to appear, then retire
// the predecessor. Any abort leaves the current PID in place.
//
// The wait has no upper bound; the handshake is cooperative with gunicorn
// and callers who need a timeout layer one above via process termination.
func (s *Supervisor) restart() {
	s.log.Debug("restarting backend")
	if s.pid == 0 {
		s.log.Warn("no gunicorn process launched, ignoring")
		return
	}
	if s.spec.PIDFile == "" {
		s.log.Warn("no pid file configured, cannot restart")
		return
	}

	if err := unix.Kill(s.pid, unix.SIGUSR2); err != nil {
		s.log.Warn("failed to restart gunicorn", "err", err)
		return
	}

	successor := s.spec.PIDFile + successorSuffix
	for {
		s.log.Debug("waiting for new gunicorn pidfile to appear", "path", successor)
		_, err := os.Stat(successor)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("failed to find the new gunicorn process, aborting", "err", err)
			return
		}
		time.Sleep(s.restartInterval)
	}

	b, err := os.ReadFile(successor)
	if err != nil {
		s.log.Warn("failed to find the new gunicorn process, aborting", "err", err)
		return
	}
	newPID, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		s.log.Warn("failed to find the new gunicorn process, aborting", "err", err)
		return
	}

	s.log.Warn("new gunicorn PID", "pid", newPID)
	s.log.Warn("gracefully stopping old gunicorn")
	s.gracefulShutdown()
	s.pid = newPID
	restartsTotal.Inc()
}
