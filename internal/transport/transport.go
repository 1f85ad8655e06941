package transport

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ganot/desksync/internal/domain/classify"
)

// ErrNotConnected is returned by room commands while the transport is down.
var ErrNotConnected = errors.New("push transport not connected")

// ConnState is a connection-state signal.
type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	// StateReconnected follows a StateDisconnected. Room membership does
	// not survive it.
	StateReconnected ConnState = "reconnected"
)

// Sink receives transport output. Implementations must not block.
type Sink interface {
	Push(ev classify.PushEvent)
	Connection(state ConnState)
}

// Backoff bounds the delay between connection attempts.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

func (b Backoff) withDefaults() Backoff {
	if b.Min <= 0 {
		b.Min = 250 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 10 * time.Second
	}
	return b
}

// policy returns an exponential policy that doubles from Min up to Max
// and never gives up.
func (b Backoff) policy() *backoff.ExponentialBackOff {
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = b.Min
	p.MaxInterval = b.Max
	p.Multiplier = 2
	p.RandomizationFactor = 0
	p.MaxElapsedTime = 0
	p.Reset()
	return p
}
