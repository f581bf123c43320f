// Package endstop provides limit switch reading and homing notification.
//
// Check runs in interrupt context on every homing step; everything else is
// called from task context.
package endstop

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrEndstopTimeout = errors.New("endstop: timeout waiting for trigger")
	ErrNotHoming      = errors.New("endstop: not in homing state")
	ErrNoSwitch       = errors.New("endstop: no switch attached")
)

// Switch is the raw limit switch input.
type Switch interface {
	Triggered() bool
}

// SwitchFunc adapts a function to a Switch.
type SwitchFunc func() bool

func (f SwitchFunc) Triggered() bool { return f() }

// EndstopState represents the current state of an endstop.
type EndstopState int32

const (
	StateOpen EndstopState = iota
	StateTriggered
	StateUnknown
)

func (s EndstopState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateTriggered:
		return "triggered"
	default:
		return "unknown"
	}
}

// EndstopConfig holds configuration for an endstop.
type EndstopConfig struct {
	Name     string
	Pin      string
	Inverted bool
}

// DefaultEndstopConfig returns a default endstop configuration.
func DefaultEndstopConfig() EndstopConfig {
	return EndstopConfig{Name: "endstop"}
}

// Endstop is a single limit switch used as a homing reference.
type Endstop struct {
	name     string
	pin      string
	inverted bool
	sw       Switch

	state      atomic.Int32
	homing     atomic.Bool
	triggerPos atomic.Int64
	triggers   atomic.Uint64
	lastNanos  atomic.Int64

	// Buffered with room for one pending trigger; written from the step
	// handler without blocking.
	triggerChan chan int64
}

// New creates an endstop reading sw.
func New(cfg EndstopConfig, sw Switch) *Endstop {
	e := &Endstop{
		name:        cfg.Name,
		pin:         cfg.Pin,
		inverted:    cfg.Inverted,
		sw:          sw,
		triggerChan: make(chan int64, 1),
	}
	e.state.Store(int32(StateUnknown))
	return e
}

func (e *Endstop) read() bool {
	t := e.sw.Triggered()
	if e.inverted {
		t = !t
	}
	if t {
		e.state.Store(int32(StateTriggered))
	} else {
		e.state.Store(int32(StateOpen))
	}
	return t
}

// Check samples the switch at step position pos. While homing, the first
// trigger records pos and notifies the waiting task. Safe in interrupt
// context: it never blocks or allocates.
func (e *Endstop) Check(pos int64) bool {
	if e.sw == nil || !e.read() {
		return false
	}
	if e.homing.CompareAndSwap(true, false) {
		e.triggerPos.Store(pos)
		e.triggers.Add(1)
		e.lastNanos.Store(time.Now().UnixNano())
		select {
		case e.triggerChan <- pos:
		default:
		}
	}
	return true
}

// Query reads the current switch state from task context.
func (e *Endstop) Query() (EndstopState, error) {
	if e.sw == nil {
		return StateUnknown, ErrNoSwitch
	}
	if e.read() {
		return StateTriggered, nil
	}
	return StateOpen, nil
}

// StartHoming arms trigger notification and drops any stale trigger.
func (e *Endstop) StartHoming() {
	select {
	case <-e.triggerChan:
	default:
	}
	e.homing.Store(true)
}

// StopHoming disarms trigger notification.
func (e *Endstop) StopHoming() {
	e.homing.Store(false)
}

// Triggers returns the channel that receives the step position of each
// homing trigger.
func (e *Endstop) Triggers() <-chan int64 {
	return e.triggerChan
}

// WaitForTrigger waits for a homing trigger. A non-positive timeout waits
// until ctx is done.
func (e *Endstop) WaitForTrigger(ctx context.Context, timeout time.Duration) (int64, error) {
	if !e.homing.Load() {
		select {
		case pos := <-e.triggerChan:
			return pos, nil
		default:
			return 0, ErrNotHoming
		}
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case pos := <-e.triggerChan:
		return pos, nil
	case <-expired:
		return 0, ErrEndstopTimeout
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// GetState returns the last sampled state.
func (e *Endstop) GetState() EndstopState { return EndstopState(e.state.Load()) }

// GetName returns the endstop name.
func (e *Endstop) GetName() string { return e.name }

// GetPin returns the pin name.
func (e *Endstop) GetPin() string { return e.pin }

// IsTriggered reports whether the last sample was triggered.
func (e *Endstop) IsTriggered() bool { return e.GetState() == StateTriggered }

// IsHoming returns true if homing is armed.
func (e *Endstop) IsHoming() bool { return e.homing.Load() }

// Status holds endstop status information.
type Status struct {
	Name        string
	Pin         string
	State       string
	IsTriggered bool
	IsHoming    bool
	Triggers    uint64
	TriggerPos  int64
	LastTrigger time.Time
}

// GetStatus returns the current endstop status.
func (e *Endstop) GetStatus() Status {
	st := Status{
		Name:        e.name,
		Pin:         e.pin,
		State:       e.GetState().String(),
		IsTriggered: e.IsTriggered(),
		IsHoming:    e.IsHoming(),
		Triggers:    e.triggers.Load(),
		TriggerPos:  e.triggerPos.Load(),
	}
	if n := e.lastNanos.Load(); n != 0 {
		st.LastTrigger = time.Unix(0, n)
	}
	return st
}
