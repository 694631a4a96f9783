// Package ratelimit paces outbound storefront requests.
//
// A Limiter combines a reservoir of request tokens that is topped up on a fixed interval
// with a minimum spacing between dispatches, and admits one call at a time in submission
// order.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Scheduler runs fn once the request budget allows it.
type Scheduler interface {
	Schedule(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config describes the request budget.
type Config struct {
	// Reservoir is the number of tokens available after each refill.
	Reservoir int
	// RefillInterval is how often the reservoir is reset to Reservoir.
	RefillInterval time.Duration
	// MinSpacing is the minimum gap between two dispatched requests.
	MinSpacing time.Duration
	// LowWater makes callers wait for the next refill once the reservoir drops to it.
	LowWater int
	// RefillGrace is added to the wait for the next refill.
	RefillGrace time.Duration
}

// DefaultConfig keeps the storefront under 90 requests per minute.
func DefaultConfig() Config {
	return Config{
		Reservoir:      100,
		RefillInterval: time.Minute,
		MinSpacing:     666 * time.Millisecond,
		LowWater:       5,
		RefillGrace:    time.Second,
	}
}

// Stats is a snapshot of the limiter state.
type Stats struct {
	Reservoir  int       `json:"reservoir"`
	NextRefill time.Time `json:"next_refill"`
	InFlight   bool      `json:"in_flight"`
	Queued     int       `json:"queued"`
	Dispatched int64     `json:"dispatched"`
}

// Limiter is a Scheduler with a refilling reservoir, minimum spacing and a single in-flight
// slot handed out in FIFO order.
type Limiter struct {
	cfg     Config
	clock   Clock
	spacing *rate.Limiter

	mu         sync.Mutex
	busy       bool
	waiters    []chan struct{}
	reservoir  int
	nextRefill time.Time
	dispatched int64
}

// New creates a Limiter. A nil clock means wall-clock time.
func New(cfg Config, clock Clock) *Limiter {
	if clock == nil {
		clock = RealClock()
	}
	if cfg.Reservoir <= 0 || cfg.RefillInterval <= 0 {
		cfg.Reservoir, cfg.LowWater = 0, 0
	} else if cfg.LowWater >= cfg.Reservoir {
		cfg.LowWater = cfg.Reservoir - 1
	}
	limit := rate.Inf
	if cfg.MinSpacing > 0 {
		limit = rate.Every(cfg.MinSpacing)
	}
	return &Limiter{
		cfg:        cfg,
		clock:      clock,
		spacing:    rate.NewLimiter(limit, 1),
		reservoir:  cfg.Reservoir,
		nextRefill: clock.Now().Add(cfg.RefillInterval),
	}
}

// Schedule waits for the in-flight slot and the request budget, then runs fn. fn runs while
// the slot is held, so at most one scheduled call executes at a time.
func (l *Limiter) Schedule(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()

	if err := l.admit(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// Stats returns the current limiter state.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(l.clock.Now())
	return Stats{
		Reservoir:  l.reservoir,
		NextRefill: l.nextRefill,
		InFlight:   l.busy,
		Queued:     len(l.waiters),
		Dispatched: l.dispatched,
	}
}

func (l *Limiter) acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.busy {
		l.busy = true
		l.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// The slot was handed to us while we were giving up; pass it on.
		l.release()
		return ctx.Err()
	}
}

func (l *Limiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.waiters) == 0 {
		l.busy = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}

// admit spends one reservoir token and enforces the minimum spacing. Only the slot holder
// calls it.
func (l *Limiter) admit(ctx context.Context) error {
	l.mu.Lock()
	l.refillLocked(l.clock.Now())
	for l.cfg.Reservoir > 0 && l.reservoir <= l.cfg.LowWater {
		wait := l.nextRefill.Sub(l.clock.Now()) + l.cfg.RefillGrace
		l.mu.Unlock()
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
		l.mu.Lock()
		l.refillLocked(l.clock.Now())
	}
	if l.cfg.Reservoir > 0 {
		l.reservoir--
	}

	now := l.clock.Now()
	delay := l.spacing.ReserveN(now, 1).DelayFrom(now)
	l.dispatched++
	l.mu.Unlock()

	if delay > 0 {
		return l.clock.Sleep(ctx, delay)
	}
	return nil
}

func (l *Limiter) refillLocked(now time.Time) {
	if l.cfg.Reservoir <= 0 || now.Before(l.nextRefill) {
		return
	}
	l.reservoir = l.cfg.Reservoir
	periods := now.Sub(l.nextRefill)/l.cfg.RefillInterval + 1
	l.nextRefill = l.nextRefill.Add(periods * l.cfg.RefillInterval)
}

type unlimited struct{}

// Unlimited returns a Scheduler that runs every call immediately.
func Unlimited() Scheduler {
	return unlimited{}
}

func (unlimited) Schedule(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
