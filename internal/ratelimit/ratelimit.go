// Package ratelimit paces outbound calls to one external system.
//
// The limiter is a single-consumer queue: callers submit operations, a
// dedicated goroutine starts them strictly in submission order, and no
// operation starts earlier than minInterval after the previous start. A
// queued operation whose caller cancels is dropped without executing and
// without consuming a pacing slot.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrStopped is returned for operations submitted to, or still queued in,
// a limiter that has been shut down.
var ErrStopped = errors.New("ratelimit: limiter stopped")

type call struct {
	ctx  context.Context
	op   func(context.Context) error
	done chan error
}

// Limiter serializes and paces operations against a single external system.
type Limiter struct {
	name     string
	interval time.Duration
	queue    chan *call
	stop     chan struct{}
}

// New creates a limiter allowing perSecond operation starts per second.
// Non-positive rates fall back to one per second.
func New(name string, perSecond float64) *Limiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	l := &Limiter{
		name:     name,
		interval: time.Duration(float64(time.Second) / perSecond),
		queue:    make(chan *call, 256),
		stop:     make(chan struct{}),
	}
	go l.loop()
	return l
}

// Interval returns the enforced minimum gap between operation starts.
func (l *Limiter) Interval() time.Duration { return l.interval }

// Execute submits op and blocks until it finishes, the caller's context is
// cancelled, or the limiter stops. Operation errors are returned as-is and
// never affect subsequent queued operations.
func (l *Limiter) Execute(ctx context.Context, op func(context.Context) error) error {
	c := &call{ctx: ctx, op: op, done: make(chan error, 1)}

	select {
	case l.queue <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stop:
		return ErrStopped
	}

	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		// The consumer will observe the cancelled context and drop the
		// call when it reaches the head of the queue.
		return ctx.Err()
	}
}

// Stop shuts the limiter down. Queued operations fail with ErrStopped.
func (l *Limiter) Stop() {
	close(l.stop)
}

func (l *Limiter) loop() {
	var lastStart time.Time
	for {
		select {
		case <-l.stop:
			l.drain()
			return
		case c := <-l.queue:
			if c.ctx.Err() != nil {
				c.done <- c.ctx.Err()
				continue
			}
			if wait := l.interval - time.Since(lastStart); wait > 0 && !lastStart.IsZero() {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-c.ctx.Done():
					timer.Stop()
					c.done <- c.ctx.Err()
					continue
				case <-l.stop:
					timer.Stop()
					c.done <- ErrStopped
					l.drain()
					return
				}
			}
			lastStart = time.Now()
			if err := c.op(c.ctx); err != nil {
				log.Debug().Str("limiter", l.name).Err(err).Msg("rate-limited operation failed")
				c.done <- err
				continue
			}
			c.done <- nil
		}
	}
}

func (l *Limiter) drain() {
	for {
		select {
		case c := <-l.queue:
			c.done <- ErrStopped
		default:
			return
		}
	}
}
