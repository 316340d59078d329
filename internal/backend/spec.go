package backend

import (
	"fmt"
	"os"
)

// Spec is the immutable command line used to spawn the backend worker, plus
// the PID file handed to it in production mode.
type Spec struct {
	Command string
	Args    []string

	// PIDFile is empty in debug mode; without it the zero-downtime restart
	// is refused.
	PIDFile string
}

// NewSpec builds the worker spec. Debug mode runs the in-process development
// server and has no restart capability; production runs gunicorn with a PID
// file so its SIGUSR2 re-exec handshake can be observed.
func NewSpec(debug bool) (Spec, error) {
	if debug {
		return Spec{
			Command: "./manage.py",
			Args:    []string{"dev_server"},
		}, nil
	}

	f, err := os.CreateTemp("", "authentik-gunicorn.*.pid")
	if err != nil {
		return Spec{}, fmt.Errorf("backend: create pid file: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return Spec{}, fmt.Errorf("backend: close pid file: %w", err)
	}

	return Spec{
		Command: "gunicorn",
		Args: []string{
			"-c", "./lifecycle/gunicorn.conf.py",
			"authentik.root.asgi:application",
			"--pid", path,
		},
		PIDFile: path,
	}, nil
}
