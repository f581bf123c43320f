// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package irq models interrupt sources for host-side motion control.
//
// A Line is one maskable interrupt source bound to a handler. A Clock is a
// periodic event source (the step timer) that raises a Line. Handlers run
// in "interrupt context": they must not block, must not allocate and must
// not call back into task-level components.
package irq

import (
	"sync"
	"sync/atomic"
)

// Handler is an interrupt service routine. The return value is the
// deferred-work hint: true asks task context to reschedule promptly.
type Handler func() bool

// Line is a maskable interrupt source.
//
// Raise delivers one event to the handler. Critical masks the line so that
// task context can update state shared with the handler; events raised
// while masked are held and delivered when the mask is released.
type Line struct {
	name    string
	handler Handler

	// mu is the controller-side mask bit, not a lock inside the handler.
	mu sync.Mutex

	raised atomic.Uint64
	yields atomic.Uint64
}

// NewLine creates a line named name that runs h for every event.
func NewLine(name string, h Handler) *Line {
	return &Line{name: name, handler: h}
}

// Name returns the line name.
func (l *Line) Name() string { return l.name }

// Raise delivers one event and returns the handler's yield hint.
func (l *Line) Raise() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.raised.Add(1)
	if l.handler == nil {
		return false
	}
	y := l.handler()
	if y {
		l.yields.Add(1)
	}
	return y
}

// Critical runs fn with the line masked. The mask is released on every
// exit path, including a panic in fn.
func (l *Line) Critical(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// Raised returns the number of delivered events.
func (l *Line) Raised() uint64 { return l.raised.Load() }

// Yields returns how many events asked for a reschedule.
func (l *Line) Yields() uint64 { return l.yields.Load() }
