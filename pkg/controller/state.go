// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package controller

import (
	"sync"
	"time"
)

// RunState is the lifecycle phase of a controller run.
type RunState int

const (
	// StateIdle is the state before Run.
	StateIdle RunState = iota

	// StateCalibrating means homing is in progress and dispatch is held.
	StateCalibrating

	// StateRunning means instructions are being dispatched.
	StateRunning

	// StateHalted means calibration failed under the halt policy.
	StateHalted

	// StateStopped means the run ended: input EOF or cancellation.
	StateStopped
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalibrating:
		return "calibrating"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// stateMachine tracks the run state and notifies observers of changes.
type stateMachine struct {
	mu       sync.RWMutex
	state    RunState
	reason   string
	since    time.Time
	onChange []func(old, new RunState)
}

func (m *stateMachine) get() (RunState, string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.reason, m.since
}

func (m *stateMachine) subscribe(fn func(old, new RunState)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// set moves to state. Terminal states are sticky.
func (m *stateMachine) set(state RunState, reason string) {
	m.mu.Lock()
	old := m.state
	if old == state || old == StateHalted || old == StateStopped {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.reason = reason
	m.since = time.Now()

	// Copy callbacks
	callbacks := make([]func(RunState, RunState), len(m.onChange))
	copy(callbacks, m.onChange)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(old, state)
	}
}
