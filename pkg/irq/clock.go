// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package irq

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Clock is a periodic event source. Start and Stop must be safe to call
// from the handler of the attached line.
type Clock interface {
	Attach(l *Line)
	SetPeriod(d time.Duration)
	Start()
	Stop()
	Running() bool
}

// Ticker is a software step timer. Run drives it from its own goroutine.
type Ticker struct {
	line    atomic.Pointer[Line]
	period  atomic.Int64
	enabled atomic.Bool
	wake    chan struct{}
}

// NewTicker creates a stopped ticker.
func NewTicker() *Ticker {
	return &Ticker{wake: make(chan struct{}, 1)}
}

func (t *Ticker) Attach(l *Line)            { t.line.Store(l) }
func (t *Ticker) SetPeriod(d time.Duration) { t.period.Store(int64(d)) }
func (t *Ticker) Running() bool             { return t.enabled.Load() }

// Start enables events.
func (t *Ticker) Start() {
	t.enabled.Store(true)
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Stop disables events. It never blocks.
func (t *Ticker) Stop() { t.enabled.Store(false) }

// Run raises the attached line once per period while enabled, until ctx is
// cancelled.
func (t *Ticker) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		p := time.Duration(t.period.Load())
		if !t.enabled.Load() || p <= 0 {
			select {
			case <-ctx.Done():
				return
			case <-t.wake:
			}
			continue
		}
		timer.Reset(p)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if !t.enabled.Load() {
			continue
		}
		if l := t.line.Load(); l != nil {
			l.Raise()
		}
	}
}

// ManualClock is a Clock driven explicitly by the caller, for
// deterministic step timing in tests and dry runs.
type ManualClock struct {
	line    atomic.Pointer[Line]
	period  atomic.Int64
	enabled atomic.Bool
	restart atomic.Bool

	advMu sync.Mutex
	phase time.Duration
}

// NewManualClock creates a stopped manual clock.
func NewManualClock() *ManualClock { return &ManualClock{} }

func (c *ManualClock) Attach(l *Line)            { c.line.Store(l) }
func (c *ManualClock) SetPeriod(d time.Duration) { c.period.Store(int64(d)) }
func (c *ManualClock) Running() bool             { return c.enabled.Load() }
func (c *ManualClock) Stop()                     { c.enabled.Store(false) }

// Period returns the configured period.
func (c *ManualClock) Period() time.Duration { return time.Duration(c.period.Load()) }

// Start enables events; the next period is measured from now.
func (c *ManualClock) Start() {
	c.restart.Store(true)
	c.enabled.Store(true)
}

// Fire raises up to n events, stopping early once the clock is stopped.
// It returns the number of events delivered.
func (c *ManualClock) Fire(n int) int {
	fired := 0
	for fired < n && c.enabled.Load() {
		l := c.line.Load()
		if l == nil {
			break
		}
		l.Raise()
		fired++
	}
	return fired
}

// Advance moves simulated time forward by d, raising one event per
// elapsed period while the clock runs. It returns the events delivered.
func (c *ManualClock) Advance(d time.Duration) int {
	c.advMu.Lock()
	defer c.advMu.Unlock()

	if c.restart.Swap(false) {
		c.phase = 0
	}
	if !c.enabled.Load() {
		return 0
	}
	c.phase += d
	fired := 0
	for c.enabled.Load() {
		p := time.Duration(c.period.Load())
		if p <= 0 || c.phase < p {
			break
		}
		c.phase -= p
		if l := c.line.Load(); l != nil {
			l.Raise()
			fired++
		}
		if c.restart.Swap(false) {
			c.phase = 0
		}
	}
	if !c.enabled.Load() {
		c.phase = 0
	}
	return fired
}
