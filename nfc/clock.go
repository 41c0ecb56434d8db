package nfc

import (
	"sync"
	"time"
)

// Clock is the time source of the reader worker, the device manager and the
// presence tracker.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}

// Ticker is the part of *time.Ticker the worker uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

// NewRealClock returns a Clock backed by package time.
func NewRealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (rt realTicker) C() <-chan time.Time { return rt.t.C }
func (rt realTicker) Stop()               { rt.t.Stop() }

// FakeClock only moves when Advance is called.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
	waiters []fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	c        chan time.Time
}

// NewFakeClock creates a FakeClock reading start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("nfc: non-positive interval for NewTicker")
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	t := &fakeTicker{interval: d, next: fc.now.Add(d), c: make(chan time.Time, 1)}
	fc.tickers = append(fc.tickers, t)
	return t
}

func (fc *FakeClock) After(d time.Duration) <-chan time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	c := make(chan time.Time, 1)
	if d <= 0 {
		c <- fc.now
		return c
	}
	fc.waiters = append(fc.waiters, fakeWaiter{deadline: fc.now.Add(d), c: c})
	return c
}

// Advance moves the clock by d, fires due tickers once and releases due After channels.
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)

	for _, t := range fc.tickers {
		t.fire(fc.now)
	}

	pending := fc.waiters[:0]
	for _, w := range fc.waiters {
		if fc.now.Before(w.deadline) {
			pending = append(pending, w)
			continue
		}
		w.c <- fc.now
	}
	fc.waiters = pending
}

type fakeTicker struct {
	mu       sync.Mutex
	interval time.Duration
	next     time.Time
	stopped  bool
	c        chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// fire delivers at most one tick, dropping it when the last one was not read,
// like time.Ticker.
func (t *fakeTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	for !now.Before(t.next) {
		t.next = t.next.Add(t.interval)
	}
	select {
	case t.c <- now:
	default:
	}
}
