// Package stream publishes annotated camera frames to any number of
// /video_feed clients.
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Next once the broadcaster has been closed.
var ErrClosed = errors.New("stream closed")

// Broadcaster holds only the latest frame. Slow subscribers skip frames
// instead of queueing them.
type Broadcaster struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  []byte
	seq    uint64
	closed bool

	subscribers atomic.Int64
}

func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish replaces the latest frame and wakes every waiting subscriber.
// The frame must not be modified afterwards.
func (b *Broadcaster) Publish(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.frame = frame
	b.seq++
	b.cond.Broadcast()
}

// Next blocks until a frame newer than after is published and returns it
// with its sequence number.
func (b *Broadcaster) Next(ctx context.Context, after uint64) ([]byte, uint64, error) {
	b.subscribers.Add(1)
	defer b.subscribers.Add(-1)

	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.seq <= after && !b.closed && ctx.Err() == nil {
		b.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if b.seq <= after {
		return nil, 0, ErrClosed
	}
	return b.frame, b.seq, nil
}

// Latest returns the current frame, nil before the first Publish.
func (b *Broadcaster) Latest() ([]byte, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frame, b.seq
}

// Close wakes all subscribers; Next returns ErrClosed once they have
// consumed the last frame.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// Waiting is the number of subscribers currently blocked in Next.
func (b *Broadcaster) Waiting() int64 {
	return b.subscribers.Load()
}
