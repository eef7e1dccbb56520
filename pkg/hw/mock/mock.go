// Package mock provides in-memory instrument simulators. They honor the
// same lifecycle transitions as the physical back-ends, simulate realistic
// timings (temperature ramps, motion durations) with bounded noise, and
// never fail spontaneously; failure injection is opt-in via the per-mock
// config structs. Mocks are the default back-end for development and the
// only back-end used by the test suite.
package mock

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/forcelab/eoltester/pkg/hw"
)

// noiseSeed keeps mock readings deterministic across runs.
const noiseSeed = 0x5eed

// sleepCtx sleeps for d or until the context is done, whichever comes
// first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// lifecycle implements the shared connect/disconnect/state bookkeeping.
type lifecycle struct {
	mu          sync.Mutex
	name        string
	state       hw.State
	failConnect bool
	latency     time.Duration
	noise       *rand.Rand
}

func newLifecycle(name string, failConnect bool, latency time.Duration) lifecycle {
	return lifecycle{
		name:        name,
		state:       hw.StateDisconnected,
		failConnect: failConnect,
		latency:     latency,
		noise:       rand.New(rand.NewSource(noiseSeed)),
	}
}

func (l *lifecycle) Connect(ctx context.Context) error {
	if err := sleepCtx(ctx, l.latency); err != nil {
		return hw.NewError(hw.KindCancelled, l.name, "connect", "cancelled").WithCause(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failConnect {
		return hw.NewError(hw.KindConnection, l.name, "connect", "injected connect failure")
	}

	l.state = hw.StateReady

	return nil
}

func (l *lifecycle) Disconnect(ctx context.Context) error {
	if err := sleepCtx(ctx, l.latency); err != nil {
		return hw.NewError(hw.KindCancelled, l.name, "disconnect", "cancelled").WithCause(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.state = hw.StateDisconnected

	return nil
}

func (l *lifecycle) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state != hw.StateDisconnected
}

func (l *lifecycle) Status(_ context.Context) (hw.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return hw.Status{
		State:   l.state,
		Vendor:  "mock",
		ReadAt:  time.Now().UTC(),
		Healthy: true,
	}, nil
}

// ensureReady returns a typed error when the instrument is not connected.
func (l *lifecycle) ensureReady(op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == hw.StateDisconnected {
		return hw.NewError(hw.KindConnection, l.name, op, "not connected")
	}

	return nil
}

// bounded returns a deterministic noise sample in [-amplitude, amplitude].
func (l *lifecycle) bounded(amplitude float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return (l.noise.Float64()*2 - 1) * amplitude
}
