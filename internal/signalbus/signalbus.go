// Package signalbus fans process signals out to the router's long-running
// tasks as in-process tokens.
//
// The bus is a lossy broadcast: a subscriber that lags behind and fills its
// buffer misses tokens. Tokens are idempotent commands, not events, so a
// dropped token is acceptable; late subscribers simply never see earlier
// deliveries.
package signalbus

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
)

// Signal is an in-process token representing a received OS signal.
type Signal int

const (
	Hangup Signal = iota
	Interrupt
	Quit
	Terminate
	UserDefined2
)

func (s Signal) String() string {
	switch s {
	case Hangup:
		return "SIGHUP"
	case Interrupt:
		return "SIGINT"
	case Quit:
		return "SIGQUIT"
	case Terminate:
		return "SIGTERM"
	case UserDefined2:
		return "SIGUSR2"
	default:
		return "unknown"
	}
}

// subscriberBuffer bounds how far a subscriber may lag before it starts
// losing tokens.
const subscriberBuffer = 16

// Bus is a broadcast channel for signal tokens. The zero value is not
// usable; construct with New.
type Bus struct {
	mu   sync.Mutex
	subs []chan Signal
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers a new subscriber. Tokens sent before Subscribe are not
// replayed.
func (b *Bus) Subscribe() <-chan Signal {
	ch := make(chan Signal, subscriberBuffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Send broadcasts a token to all current subscribers. It never blocks; a
// subscriber whose buffer is full loses the token.
func (b *Bus) Send(s Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Pump subscribes to HUP, INT, QUIT, TERM and USR2 and translates each
// delivery onto the web and backend buses:
//
//	HUP  -> backend Hangup
//	INT  -> web Interrupt, backend Interrupt
//	QUIT -> web Quit, backend Quit
//	TERM -> web Terminate
//	USR2 -> backend UserDefined2
//
// TERM is deliberately not forwarded to the backend here: the plain-HTTP
// listener forwards it once its own drain window begins, so in-flight
// requests finish before the backend is torn down.
//
// Pump returns after emitting Interrupt, Quit or Terminate, or when ctx is
// canceled.
func Pump(ctx context.Context, web, backend *Bus) error {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, unix.SIGHUP, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM, unix.SIGUSR2)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			switch sig {
			case unix.SIGHUP:
				backend.Send(Hangup)
			case unix.SIGINT:
				web.Send(Interrupt)
				backend.Send(Interrupt)
				return nil
			case unix.SIGQUIT:
				web.Send(Quit)
				backend.Send(Quit)
				return nil
			case unix.SIGTERM:
				web.Send(Terminate)
				return nil
			case unix.SIGUSR2:
				backend.Send(UserDefined2)
			}
		}
	}
}
