package httpclient

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RateLimiter dispatches at most maxCalls acquisitions in any sliding
// window of length period. Dispatch times are tracked explicitly rather
// than as a smoothly refilling balance, so the window guarantee holds
// even for a full-burst start. Waiters are released strictly in arrival
// order.
type RateLimiter struct {
	mu         sync.Mutex
	maxCalls   int
	period     time.Duration
	jitter     time.Duration
	dispatches []time.Time
	waiters    []chan struct{}
	timerSet   bool
}

// NewRateLimiter constructs a limiter allowing maxCalls acquisitions per
// period, plus up to jitter of randomized extra delay per acquire.
// maxCalls <= 0 disables limiting.
func NewRateLimiter(maxCalls int, period, jitter time.Duration) *RateLimiter {
	return &RateLimiter{
		maxCalls: maxCalls,
		period:   period,
		jitter:   jitter,
	}
}

// Acquire blocks the caller until the sliding window has room, honoring
// FIFO order among concurrent callers, or returns ctx.Err() if ctx is
// cancelled first.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	if rl.maxCalls <= 0 || rl.period <= 0 {
		return nil
	}

	rl.mu.Lock()
	rl.pruneLocked(time.Now())
	if len(rl.dispatches) < rl.maxCalls && len(rl.waiters) == 0 {
		rl.dispatches = append(rl.dispatches, time.Now())
		rl.mu.Unlock()
		return rl.applyJitter(ctx)
	}

	ready := make(chan struct{})
	rl.waiters = append(rl.waiters, ready)
	rl.scheduleWakeLocked()
	rl.mu.Unlock()

	select {
	case <-ready:
		return rl.applyJitter(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (rl *RateLimiter) applyJitter(ctx context.Context) error {
	if rl.jitter <= 0 {
		return nil
	}
	d := time.Duration(rand.Int63n(int64(rl.jitter)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pruneLocked drops dispatch records older than one period. Caller must
// hold rl.mu.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	cut := 0
	for cut < len(rl.dispatches) && now.Sub(rl.dispatches[cut]) >= rl.period {
		cut++
	}
	if cut > 0 {
		rl.dispatches = append(rl.dispatches[:0], rl.dispatches[cut:]...)
	}
}

// scheduleWakeLocked arms a timer for the instant the oldest in-window
// dispatch expires, so queued waiters are released exactly when the
// window frees. Caller must hold rl.mu.
func (rl *RateLimiter) scheduleWakeLocked() {
	if rl.timerSet || len(rl.dispatches) == 0 {
		return
	}
	rl.timerSet = true
	wait := rl.period - time.Since(rl.dispatches[0])
	if wait < 0 {
		wait = 0
	}
	time.AfterFunc(wait, rl.wake)
}

// wake releases as many queued waiters as the freed window allows, in
// FIFO order, then re-arms the timer if any remain.
func (rl *RateLimiter) wake() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.timerSet = false
	rl.pruneLocked(time.Now())
	for len(rl.waiters) > 0 && len(rl.dispatches) < rl.maxCalls {
		rl.dispatches = append(rl.dispatches, time.Now())
		next := rl.waiters[0]
		rl.waiters = rl.waiters[1:]
		close(next)
	}
	if len(rl.waiters) > 0 {
		rl.scheduleWakeLocked()
	}
}
