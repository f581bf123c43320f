// Hobby servo driving the pen lift
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package servo

import (
	"fmt"
	"math"
	"sync"

	"plotter-go/pkg/errors"
)

const servoSignalPeriod = 0.020 // 20ms PWM period (50Hz)

// PWM is a duty-cycle output in the range [0, 1].
type PWM interface {
	SetDuty(duty float64) error
}

// Config holds configuration for a servo.
type Config struct {
	Name              string
	MinimumPulseWidth float64 // seconds, default 0.001
	MaximumPulseWidth float64 // seconds, default 0.002
	MaximumServoAngle float64 // degrees, default 180
	InitialAngle      *float64
}

// DefaultConfig returns default servo configuration.
func DefaultConfig() Config {
	return Config{
		Name:              "pen",
		MinimumPulseWidth: 0.001,
		MaximumPulseWidth: 0.002,
		MaximumServoAngle: 180.0,
	}
}

// Validate checks pulse widths against the signal period.
func (c Config) Validate() error {
	if c.MinimumPulseWidth <= 0 || c.MinimumPulseWidth >= servoSignalPeriod {
		return fmt.Errorf("minimum_pulse_width must be between 0 and %.3f", servoSignalPeriod)
	}
	if c.MaximumPulseWidth <= c.MinimumPulseWidth || c.MaximumPulseWidth >= servoSignalPeriod {
		return fmt.Errorf("maximum_pulse_width must be between minimum_pulse_width and %.3f", servoSignalPeriod)
	}
	if c.MaximumServoAngle <= 0 {
		return fmt.Errorf("maximum_servo_angle must be positive")
	}
	return nil
}

// Servo converts angles into PWM duty.
type Servo struct {
	name         string
	pwm          PWM
	minWidth     float64
	maxWidth     float64
	maxAngle     float64
	angleToWidth float64

	mu        sync.Mutex
	lastValue float64
	lastAngle float64
}

// New creates a servo on pwm. If cfg.InitialAngle is set the servo is
// moved there immediately.
func New(cfg Config, pwm PWM) (*Servo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigValidation, "servo "+cfg.Name)
	}
	s := &Servo{
		name:         cfg.Name,
		pwm:          pwm,
		minWidth:     cfg.MinimumPulseWidth,
		maxWidth:     cfg.MaximumPulseWidth,
		maxAngle:     cfg.MaximumServoAngle,
		angleToWidth: (cfg.MaximumPulseWidth - cfg.MinimumPulseWidth) / cfg.MaximumServoAngle,
		lastValue:    math.NaN(),
	}
	if cfg.InitialAngle != nil {
		if err := s.MoveTo(*cfg.InitialAngle); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Name returns the servo name.
func (s *Servo) Name() string { return s.name }

// DutyForAngle converts an angle to a PWM duty, clamping to the servo range.
func (s *Servo) DutyForAngle(angle float64) float64 {
	if angle < 0 {
		angle = 0
	} else if angle > s.maxAngle {
		angle = s.maxAngle
	}
	width := s.minWidth + angle*s.angleToWidth
	return width / servoSignalPeriod
}

// MoveTo sets the servo to angle degrees.
func (s *Servo) MoveTo(angle float64) error {
	if math.IsNaN(angle) {
		return errors.New(errors.ErrActuator, "servo angle is NaN").SetAxis(s.name)
	}
	value := s.DutyForAngle(angle)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAngle = math.Max(0, math.Min(angle, s.maxAngle))
	if value == s.lastValue {
		return nil
	}
	if err := s.pwm.SetDuty(value); err != nil {
		return errors.Wrap(err, errors.ErrActuator, "set pwm").SetAxis(s.name)
	}
	s.lastValue = value
	return nil
}

// Value returns the last PWM duty written, or NaN before the first move.
func (s *Servo) Value() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastValue
}

// Angle returns the last commanded angle after clamping.
func (s *Servo) Angle() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAngle
}
