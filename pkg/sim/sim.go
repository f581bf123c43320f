// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package sim provides simulated plotter hardware: step/direction pins
// with a physical carriage position, a limit switch at the physical
// origin, and a PWM output for the pen servo.
package sim

import (
	"sync"
	"sync/atomic"
)

// Axis is a simulated stepper carriage. It implements stepper.Pins and
// endstop.Switch.
type Axis struct {
	name     string
	invert   bool
	forward  atomic.Bool
	physical atomic.Int64
	pulses   atomic.Uint64
	broken   atomic.Bool
}

// NewAxis creates a carriage start steps away from its limit switch.
// invert models a motor wired to run backwards.
func NewAxis(name string, start int64, invert bool) *Axis {
	a := &Axis{name: name, invert: invert}
	a.physical.Store(start)
	return a
}

// Name returns the axis name.
func (a *Axis) Name() string { return a.name }

// Step moves the carriage one step in the current direction.
func (a *Axis) Step() {
	if a.forward.Load() {
		a.physical.Add(1)
	} else {
		a.physical.Add(-1)
	}
	a.pulses.Add(1)
}

// SetDirection latches the direction input.
func (a *Axis) SetDirection(forward bool) {
	a.forward.Store(forward != a.invert)
}

// Triggered reports whether the carriage is at or past the limit switch.
func (a *Axis) Triggered() bool {
	return !a.broken.Load() && a.physical.Load() <= 0
}

// Physical returns the carriage position in steps from the switch.
func (a *Axis) Physical() int64 { return a.physical.Load() }

// Pulses returns the number of step pulses received.
func (a *Axis) Pulses() uint64 { return a.pulses.Load() }

// BreakSwitch disconnects the limit switch so it never triggers.
func (a *Axis) BreakSwitch(broken bool) { a.broken.Store(broken) }

// PWM is a simulated duty-cycle output.
type PWM struct {
	mu     sync.Mutex
	duties []float64
}

// NewPWM creates a PWM output.
func NewPWM() *PWM { return &PWM{} }

// SetDuty records duty.
func (p *PWM) SetDuty(duty float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.duties = append(p.duties, duty)
	return nil
}

// Duty returns the last duty written, or 0.
func (p *PWM) Duty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.duties) == 0 {
		return 0
	}
	return p.duties[len(p.duties)-1]
}

// Writes returns how many duties were written.
func (p *PWM) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.duties)
}
