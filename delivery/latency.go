package delivery

import (
	"context"
	"math/rand"
	"time"
)

// maxSimulatedLatency caps the simulated round-trip so the caller side
// stays responsive no matter what the configuration asks for.
const maxSimulatedLatency = time.Second

// Latency models the transport round-trip between accepting a send and
// publishing it. Instant for tests, Simulated for local simulation; a real
// deployment replaces it with actual transport I/O.
type Latency interface {
	Wait(ctx context.Context) error
}

type Instant struct{}

func (Instant) Wait(ctx context.Context) error {
	return ctx.Err()
}

// Simulated waits a random duration in [0, Max].
type Simulated struct {
	Max time.Duration
}

func NewSimulated(max time.Duration) Simulated {
	if max <= 0 || max > maxSimulatedLatency {
		max = maxSimulatedLatency
	}
	return Simulated{Max: max}
}

func (s Simulated) Wait(ctx context.Context) error {
	delay := time.Duration(rand.Int63n(int64(s.Max) + 1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
