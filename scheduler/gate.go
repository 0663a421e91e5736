// Package scheduler decides which frames get processed and which are dropped.
package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Gate admits or drops a frame. When ok is true the caller must call done
// once the recognition pass has finished.
type Gate interface {
	Admit() (done func(), ok bool)
}

func noop() {}

// FrameModulus admits every nth frame.
type FrameModulus struct {
	n     uint64
	count atomic.Uint64
}

func NewFrameModulus(n int) *FrameModulus {
	if n < 1 {
		n = 1
	}
	return &FrameModulus{n: uint64(n)}
}

func (f *FrameModulus) Admit() (func(), bool) {
	if f.count.Add(1)%f.n == 0 {
		return noop, true
	}
	return nil, false
}

// MinInterval admits a frame only when the interval has elapsed since the
// last admitted one started.
type MinInterval struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

func NewMinInterval(interval time.Duration) *MinInterval {
	return &MinInterval{interval: interval, now: time.Now}
}

func (m *MinInterval) Admit() (func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if !m.last.IsZero() && now.Sub(m.last) < m.interval {
		return nil, false
	}
	m.last = now
	return noop, true
}

// Mode names accepted by NewGate.
const (
	ModeModulus      = "modulus"
	ModeInterval     = "interval"
	ModeSingleFlight = "singleflight"
)

// NewGate builds the gate for a throttling mode.
func NewGate(mode string, modulus int, interval time.Duration) (Gate, error) {
	switch strings.ToLower(mode) {
	case ModeModulus:
		return NewFrameModulus(modulus), nil
	case ModeInterval:
		return NewMinInterval(interval), nil
	case ModeSingleFlight, "":
		return NewSingleFlight(), nil
	default:
		return nil, fmt.Errorf("unknown throttle mode %q", mode)
	}
}
