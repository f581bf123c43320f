// Stepper motor actuator for one plotter axis
//
// A Motor owns the axis position. Task context sets the rate and target;
// the step clock raises the axis interrupt line, whose handler
// (OnStepEvent) emits one step pulse per event and advances the position
// until the target is reached.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepper

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"plotter-go/pkg/endstop"
	"plotter-go/pkg/errors"
	"plotter-go/pkg/irq"
	"plotter-go/pkg/log"
)

// Pins drives the step/direction inputs of a stepper driver.
// Step is called from interrupt context.
type Pins interface {
	Step()
	SetDirection(forward bool)
}

// Config holds per-axis motion parameters.
type Config struct {
	Name          string
	StepsPerUnit  float64       // microsteps per position unit
	StepsPerRev   int           // microsteps per shaft revolution
	MaxTravel     float64       // homing search distance in units; 0 = unlimited
	MaxRate       float64       // rpm ceiling applied by SetRate; 0 = none
	HomingRate    float64       // rpm used while searching the endstop
	HomingTimeout time.Duration // 0 = wait for the endstop or ctx
	InvertDir     bool
}

// DefaultConfig returns the reference axis configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:          name,
		StepsPerUnit:  1,
		StepsPerRev:   200,
		MaxTravel:     400,
		HomingRate:    60,
		HomingTimeout: 30 * time.Second,
	}
}

// MinStepPeriod is the shortest interval between step events. Faster
// rates, including +Inf, step at this period.
const MinStepPeriod = time.Microsecond

// StepPeriod converts a shaft speed in rpm into the interval between step
// events. Zero, negative or NaN rates yield 0 (no stepping).
func StepPeriod(rpm float64, stepsPerRev int) time.Duration {
	if !(rpm > 0) || stepsPerRev <= 0 {
		return 0
	}
	ns := float64(time.Minute) / (rpm * float64(stepsPerRev))
	if ns < float64(MinStepPeriod) {
		return MinStepPeriod
	}
	return time.Duration(ns)
}

// Motor is one stepper axis.
type Motor struct {
	cfg     Config
	pins    Pins
	endstop *endstop.Endstop
	clock   irq.Clock
	line    *irq.Line
	log     *log.Logger

	// Shared with the step handler. Position is written by the handler,
	// and by task context only inside line.Critical with the clock stopped.
	position    atomic.Int64
	target      atomic.Int64
	homing      atomic.Bool
	homingLimit atomic.Int64
	steps       atomic.Uint64

	rateBits atomic.Uint64
	homed    atomic.Bool

	// Completion notifications, sent without blocking from the handler.
	done      chan struct{}
	exhausted chan struct{}
}

// New creates a motor driving pins, stepped by clock, homed against es.
// The motor attaches its own interrupt line to clock.
func New(cfg Config, pins Pins, es *endstop.Endstop, clock irq.Clock) *Motor {
	if cfg.StepsPerUnit <= 0 {
		cfg.StepsPerUnit = 1
	}
	if cfg.StepsPerRev <= 0 {
		cfg.StepsPerRev = 200
	}
	m := &Motor{
		cfg:       cfg,
		pins:      pins,
		endstop:   es,
		clock:     clock,
		log:       log.GetLogger("stepper." + cfg.Name),
		done:      make(chan struct{}, 1),
		exhausted: make(chan struct{}, 1),
	}
	m.line = irq.NewLine(cfg.Name, m.OnStepEvent)
	clock.Attach(m.line)
	return m
}

// Name returns the axis name.
func (m *Motor) Name() string { return m.cfg.Name }

// Config returns the axis configuration.
func (m *Motor) Config() Config { return m.cfg }

// Line returns the axis interrupt line.
func (m *Motor) Line() *irq.Line { return m.line }

func (m *Motor) toSteps(units float64) int64 {
	return int64(math.Round(units * m.cfg.StepsPerUnit))
}

// GetCurrentPosition returns the axis position in units. It is a single
// atomic load and may lag an in-flight move.
func (m *Motor) GetCurrentPosition() float64 {
	return float64(m.position.Load()) / m.cfg.StepsPerUnit
}

// StepPosition returns the raw step count.
func (m *Motor) StepPosition() int64 { return m.position.Load() }

// Target returns the commanded target in units.
func (m *Motor) Target() float64 {
	return float64(m.target.Load()) / m.cfg.StepsPerUnit
}

// StepCount returns the total number of step pulses emitted.
func (m *Motor) StepCount() uint64 { return m.steps.Load() }

// Rate returns the last accepted rate in rpm.
func (m *Motor) Rate() float64 { return math.Float64frombits(m.rateBits.Load()) }

// Busy reports whether the step clock is running.
func (m *Motor) Busy() bool { return m.clock.Running() }

// Homed reports whether the last calibration succeeded.
func (m *Motor) Homed() bool { return m.homed.Load() }

// SetRate sets the shaft speed used by subsequent and in-flight moves.
func (m *Motor) SetRate(rpm float64) {
	if m.cfg.MaxRate > 0 && rpm > m.cfg.MaxRate {
		m.log.Warn("rate %.2f rpm clamped to %.2f", rpm, m.cfg.MaxRate)
		rpm = m.cfg.MaxRate
	}
	period := StepPeriod(rpm, m.cfg.StepsPerRev)
	m.line.Critical(func() {
		m.rateBits.Store(math.Float64bits(rpm))
		if !m.homing.Load() {
			m.clock.SetPeriod(period)
		}
	})
}

// MoveTo sets a new absolute target and starts stepping toward it. It
// returns immediately; the step handler completes the move.
func (m *Motor) MoveTo(target float64) {
	steps := m.toSteps(target)
	m.line.Critical(func() {
		m.target.Store(steps)
		select {
		case <-m.done:
		default:
		}
		pos := m.position.Load()
		if steps == pos || m.homing.Load() {
			if steps == pos {
				m.clock.Stop()
			}
			return
		}
		m.pins.SetDirection((steps > pos) != m.cfg.InvertDir)
		m.clock.Start()
	})
	m.log.Debug("move to %.3f (%d steps)", target, steps)
}

// Stop halts the axis where it is, abandoning any move or homing search.
func (m *Motor) Stop() {
	m.line.Critical(func() {
		m.clock.Stop()
		if m.homing.Load() {
			m.homing.Store(false)
			m.endstop.StopHoming()
		}
		m.target.Store(m.position.Load())
	})
	notify(m.done)
}

// WaitIdle blocks until the position equals the target or ctx is done.
func (m *Motor) WaitIdle(ctx context.Context) error {
	for m.position.Load() != m.target.Load() {
		select {
		case <-m.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// OnStepEvent is the step interrupt handler. It returns true when the move
// or homing search completed on this event.
func (m *Motor) OnStepEvent() bool {
	pos := m.position.Load()

	if m.homing.Load() {
		if m.endstop != nil && m.endstop.Check(pos) {
			m.clock.Stop()
			return true
		}
		if pos <= m.homingLimit.Load() {
			m.clock.Stop()
			notify(m.exhausted)
			return true
		}
		m.step(pos, -1)
		return false
	}

	target := m.target.Load()
	if pos == target {
		m.clock.Stop()
		return false
	}
	dir := int64(1)
	if target < pos {
		dir = -1
	}
	m.step(pos, dir)
	if pos+dir == target {
		m.clock.Stop()
		notify(m.done)
		return true
	}
	return false
}

func (m *Motor) step(pos, dir int64) {
	m.pins.Step()
	m.position.Store(pos + dir)
	m.steps.Add(1)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Calibrate homes the axis against its endstop and blocks until it is
// done. On success position and target are zero.
func (m *Motor) Calibrate(ctx context.Context) error {
	if m.endstop == nil {
		return errors.New(errors.ErrActuator, "no endstop configured").SetAxis(m.cfg.Name)
	}
	start := time.Now()

	if state, err := m.endstop.Query(); err == nil && state == endstop.StateTriggered {
		m.zero()
		m.log.Info("endstop already triggered, axis at reference")
		return nil
	}

	limit := int64(math.MinInt64)
	if m.cfg.MaxTravel > 0 {
		limit = m.position.Load() - m.toSteps(m.cfg.MaxTravel)
	}
	m.line.Critical(func() {
		m.clock.Stop()
		select {
		case <-m.exhausted:
		default:
		}
		m.homingLimit.Store(limit)
		m.pins.SetDirection(m.cfg.InvertDir)
		m.clock.SetPeriod(StepPeriod(m.cfg.HomingRate, m.cfg.StepsPerRev))
		m.endstop.StartHoming()
		m.homing.Store(true)
		m.clock.Start()
	})
	m.log.Info("homing at %.1f rpm", m.cfg.HomingRate)

	var expired <-chan time.Time
	if m.cfg.HomingTimeout > 0 {
		timer := time.NewTimer(m.cfg.HomingTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case pos := <-m.endstop.Triggers():
		m.zero()
		m.log.WithFields(log.Fields{
			"trigger_steps": pos,
			"elapsed":       time.Since(start).String(),
		}).Info("homed")
		return nil
	case <-m.exhausted:
		m.abortHoming()
		return errors.HomingNotFoundError(m.cfg.Name, m.cfg.MaxTravel)
	case <-expired:
		m.abortHoming()
		return errors.HomingTimeoutError(m.cfg.Name, endstop.ErrEndstopTimeout)
	case <-ctx.Done():
		m.abortHoming()
		return errors.HomingTimeoutError(m.cfg.Name, ctx.Err())
	}
}

// zero declares the current location the origin.
func (m *Motor) zero() {
	m.line.Critical(func() {
		m.clock.Stop()
		m.homing.Store(false)
		m.position.Store(0)
		m.target.Store(0)
		m.clock.SetPeriod(StepPeriod(m.Rate(), m.cfg.StepsPerRev))
	})
	m.homed.Store(true)
}

// abortHoming stops the search and leaves the axis where it is.
func (m *Motor) abortHoming() {
	m.line.Critical(func() {
		m.clock.Stop()
		m.homing.Store(false)
		m.endstop.StopHoming()
		m.target.Store(m.position.Load())
		m.clock.SetPeriod(StepPeriod(m.Rate(), m.cfg.StepsPerRev))
	})
	m.homed.Store(false)
}
