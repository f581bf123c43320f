package config

import (
	stderrors "errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"plotter-go/pkg/endstop"
	"plotter-go/pkg/errors"
	"plotter-go/pkg/log"
	"plotter-go/pkg/serial"
	"plotter-go/pkg/servo"
	"plotter-go/pkg/stepper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PLOTTER_"

// DefaultBanner is the reply to the mDraw handshake (M10).
const DefaultBanner = "M10 XY 380 310 0.00 0.00 A0 B0 H0 S80 U160 D90"

// Calibration failure policies.
const (
	CalibrationHalt    = "halt"
	CalibrationProceed = "proceed"
)

// PlotterConfig is the complete plotter configuration.
type PlotterConfig struct {
	Plotter  PlotterSection `yaml:"plotter"`
	Serial   SerialSection  `yaml:"serial"`
	StepperX AxisSection    `yaml:"stepper_x" envPrefix:"X_"`
	StepperY AxisSection    `yaml:"stepper_y" envPrefix:"Y_"`
	Pen      PenSection     `yaml:"pen"`
	Metrics  MetricsSection `yaml:"metrics" envPrefix:"METRICS_"`
}

// PlotterSection holds the [plotter] options.
type PlotterSection struct {
	BaseRate           float64 `yaml:"base_rate" env:"BASE_RATE"`
	HomingRate         float64 `yaml:"homing_rate" env:"HOMING_RATE"`
	Banner             string  `yaml:"banner" env:"BANNER"`
	CalibrationFailure string  `yaml:"calibration_failure" env:"CALIBRATION_FAILURE"`
	QueueCapacity      int     `yaml:"queue_capacity" env:"QUEUE_CAPACITY"`
	MaxLineLength      int     `yaml:"max_line_length" env:"MAX_LINE_LENGTH"`
	Listen             string  `yaml:"listen" env:"LISTEN"`
}

// SerialSection holds the [serial] options.
type SerialSection struct {
	Device string `yaml:"device" env:"DEVICE"`
	Baud   int    `yaml:"baud" env:"BAUD"`
}

// AxisSection holds the [stepper_x] and [stepper_y] options. Pins use the
// "[^|~][!]name" syntax; a leading "!" on dir_pin inverts travel and on
// endstop_pin inverts the switch.
type AxisSection struct {
	StepPin       string        `yaml:"step_pin"`
	DirPin        string        `yaml:"dir_pin"`
	EndstopPin    string        `yaml:"endstop_pin"`
	StepsPerUnit  float64       `yaml:"steps_per_unit" env:"STEPS_PER_UNIT"`
	StepsPerRev   int           `yaml:"steps_per_rev" env:"STEPS_PER_REV"`
	MaxTravel     float64       `yaml:"max_travel" env:"MAX_TRAVEL"`
	MaxRate       float64       `yaml:"max_rate" env:"MAX_RATE"`
	HomingRate    float64       `yaml:"homing_rate" env:"HOMING_RATE"`
	HomingTimeout time.Duration `yaml:"homing_timeout" env:"HOMING_TIMEOUT"`
}

// PenSection holds the [servo pen] options.
type PenSection struct {
	Pin               string   `yaml:"pin"`
	MinimumPulseWidth float64  `yaml:"minimum_pulse_width"`
	MaximumPulseWidth float64  `yaml:"maximum_pulse_width"`
	MaximumServoAngle float64  `yaml:"maximum_servo_angle"`
	InitialAngle      *float64 `yaml:"initial_angle"`
}

// MetricsSection holds the [metrics] options. An empty Listen disables the
// metrics server.
type MetricsSection struct {
	Listen   string `yaml:"listen" env:"LISTEN"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// Defaults returns the reference configuration.
func Defaults() *PlotterConfig {
	x := stepper.DefaultConfig("x")
	y := stepper.DefaultConfig("y")
	pen := servo.DefaultConfig()
	return &PlotterConfig{
		Plotter: PlotterSection{
			BaseRate:           60,
			HomingRate:         60,
			Banner:             DefaultBanner,
			CalibrationFailure: CalibrationHalt,
			QueueCapacity:      10,
			MaxLineLength:      64,
		},
		Serial:   SerialSection{Baud: serial.DefaultBaudRate},
		StepperX: axisDefaults(x, "x_step", "x_dir", "^x_stop"),
		StepperY: axisDefaults(y, "y_step", "y_dir", "^y_stop"),
		Pen: PenSection{
			Pin:               "pen_pwm",
			MinimumPulseWidth: pen.MinimumPulseWidth,
			MaximumPulseWidth: pen.MaximumPulseWidth,
			MaximumServoAngle: pen.MaximumServoAngle,
		},
	}
}

func axisDefaults(c stepper.Config, step, dir, stop string) AxisSection {
	return AxisSection{
		StepPin:       step,
		DirPin:        dir,
		EndstopPin:    stop,
		StepsPerUnit:  c.StepsPerUnit,
		StepsPerRev:   c.StepsPerRev,
		MaxTravel:     c.MaxTravel,
		MaxRate:       c.MaxRate,
		HomingRate:    c.HomingRate,
		HomingTimeout: c.HomingTimeout,
	}
}

// LoadPlotterConfig reads path (INI unless the extension is .yaml or .yml),
// applies PLOTTER_* environment overrides and validates the result. An empty
// path starts from Defaults.
func LoadPlotterConfig(path string) (*PlotterConfig, error) {
	cfg := Defaults()
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case path == "":
	case ext == ".yaml" || ext == ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrConfigLoad, "read "+path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrConfigLoad, "parse "+path)
		}
	default:
		if err := cfg.loadINI(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *PlotterConfig) loadINI(path string) error {
	c, err := Load(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigLoad, "load "+path)
	}
	if err := p.FromINI(c); err != nil {
		return err
	}
	if err := c.CheckUnused(); err != nil {
		log.GetLogger("config").WithField("file", path).Warn(err.Error())
	}
	return nil
}

// ApplyEnv overrides options from PLOTTER_* environment variables.
// Variables that are not set leave the current value untouched.
func (p *PlotterConfig) ApplyEnv() error {
	if err := env.ParseWithOptions(p, env.Options{Prefix: EnvPrefix}); err != nil {
		return errors.Wrap(err, errors.ErrConfigOption, "environment override")
	}
	return nil
}

// FromINI fills p from a parsed INI configuration. Options that are absent
// keep their current value.
func (p *PlotterConfig) FromINI(c *Config) error {
	if sec := c.Section("plotter"); sec != nil {
		r := optionReader{sec: sec}
		pl := &p.Plotter
		pl.BaseRate = r.float("base_rate", pl.BaseRate, Above(0.0))
		pl.HomingRate = r.float("homing_rate", pl.HomingRate, Above(0.0))
		pl.Banner = sec.String("banner", pl.Banner)
		pl.CalibrationFailure = r.choice("calibration_failure", pl.CalibrationFailure, CalibrationHalt, CalibrationProceed)
		pl.QueueCapacity = r.int("queue_capacity", pl.QueueCapacity, AtLeast(1))
		pl.MaxLineLength = r.int("max_line_length", pl.MaxLineLength, AtLeast(1))
		pl.Listen = sec.String("listen", pl.Listen)
		if r.err != nil {
			return r.err
		}
	}

	if sec := c.Section("serial"); sec != nil {
		r := optionReader{sec: sec}
		p.Serial.Device = sec.String("device", p.Serial.Device)
		p.Serial.Baud = r.int("baud", p.Serial.Baud, AtLeast(1))
		if r.err != nil {
			return r.err
		}
	}

	for _, axis := range []struct {
		section string
		dst     *AxisSection
	}{{"stepper_x", &p.StepperX}, {"stepper_y", &p.StepperY}} {
		if sec := c.Section(axis.section); sec != nil {
			if err := axis.dst.fromSection(sec); err != nil {
				return err
			}
		}
	}

	if sec := c.Section("servo pen"); sec != nil {
		r := optionReader{sec: sec}
		pen := &p.Pen
		pen.Pin = sec.String("pin", pen.Pin)
		pen.MinimumPulseWidth = r.float("minimum_pulse_width", pen.MinimumPulseWidth)
		pen.MaximumPulseWidth = r.float("maximum_pulse_width", pen.MaximumPulseWidth)
		pen.MaximumServoAngle = r.float("maximum_servo_angle", pen.MaximumServoAngle)
		if sec.Has("initial_angle") {
			angle := r.float("initial_angle", 0)
			pen.InitialAngle = &angle
		}
		if r.err != nil {
			return r.err
		}
	}

	if sec := c.Section("metrics"); sec != nil {
		m := &p.Metrics
		m.Listen = sec.String("listen", m.Listen)
		m.Username = sec.String("username", m.Username)
		m.Password = sec.String("password", m.Password)
	}
	return nil
}

func (a *AxisSection) fromSection(sec *Section) error {
	r := optionReader{sec: sec}
	a.StepPin = sec.String("step_pin", a.StepPin)
	a.DirPin = sec.String("dir_pin", a.DirPin)
	a.EndstopPin = sec.String("endstop_pin", a.EndstopPin)
	a.StepsPerUnit = r.float("steps_per_unit", a.StepsPerUnit, Above(0.0))
	a.StepsPerRev = r.int("steps_per_rev", a.StepsPerRev, AtLeast(1))
	a.MaxTravel = r.float("max_travel", a.MaxTravel, AtLeast(0.0))
	a.MaxRate = r.float("max_rate", a.MaxRate, AtLeast(0.0))
	a.HomingRate = r.float("homing_rate", a.HomingRate, Above(0.0))
	a.HomingTimeout = r.seconds("homing_timeout", a.HomingTimeout)
	return r.err
}

// optionReader keeps the first error of a run of lookups so a section can
// be read top to bottom.
type optionReader struct {
	sec *Section
	err error
}

func (r *optionReader) keep(err error) {
	if err == nil || r.err != nil {
		return
	}
	var ce *ConfigError
	if stderrors.As(err, &ce) {
		r.err = errors.ConfigValidationError(ce.Section, ce.Option, ce.Message)
		return
	}
	r.err = errors.Wrap(err, errors.ErrConfigOption, "invalid option")
}

func (r *optionReader) float(option string, def float64, checks ...Check[float64]) float64 {
	v, err := r.sec.Float(option, def, checks...)
	r.keep(err)
	return v
}

func (r *optionReader) int(option string, def int, checks ...Check[int]) int {
	v, err := r.sec.Int(option, def, checks...)
	r.keep(err)
	return v
}

func (r *optionReader) choice(option, def string, choices ...string) string {
	v, err := r.sec.Choice(option, def, choices...)
	r.keep(err)
	return v
}

func (r *optionReader) seconds(option string, def time.Duration) time.Duration {
	v, err := r.sec.Seconds(option, def)
	r.keep(err)
	return v
}

// Validate checks values that the typed getters cannot, and the values
// that came in through YAML or the environment.
func (p *PlotterConfig) Validate() error {
	pl := p.Plotter
	if !positive(pl.BaseRate) {
		return errors.ConfigValidationError("plotter", "base_rate", "must be above 0")
	}
	if !positive(pl.HomingRate) {
		return errors.ConfigValidationError("plotter", "homing_rate", "must be above 0")
	}
	if pl.Banner == "" {
		return errors.ConfigValidationError("plotter", "banner", "must not be empty")
	}
	if pl.CalibrationFailure != CalibrationHalt && pl.CalibrationFailure != CalibrationProceed {
		return errors.ConfigValidationError("plotter", "calibration_failure",
			fmt.Sprintf("%q is not one of %s, %s", pl.CalibrationFailure, CalibrationHalt, CalibrationProceed))
	}
	if pl.QueueCapacity < 1 {
		return errors.ConfigValidationError("plotter", "queue_capacity", "must be at least 1")
	}
	if pl.MaxLineLength < 1 {
		return errors.ConfigValidationError("plotter", "max_line_length", "must be at least 1")
	}
	if p.Serial.Baud < 1 {
		return errors.ConfigValidationError("serial", "baud", "must be at least 1")
	}
	for name, a := range map[string]AxisSection{"stepper_x": p.StepperX, "stepper_y": p.StepperY} {
		if err := a.validate(name); err != nil {
			return err
		}
	}
	if _, err := p.PenConfig(); err != nil {
		return err
	}
	return nil
}

func (a AxisSection) validate(section string) error {
	switch {
	case !positive(a.StepsPerUnit):
		return errors.ConfigValidationError(section, "steps_per_unit", "must be above 0")
	case a.StepsPerRev < 1:
		return errors.ConfigValidationError(section, "steps_per_rev", "must be at least 1")
	case a.MaxTravel < 0 || math.IsNaN(a.MaxTravel):
		return errors.ConfigValidationError(section, "max_travel", "must not be negative")
	case a.MaxRate < 0 || math.IsNaN(a.MaxRate):
		return errors.ConfigValidationError(section, "max_rate", "must not be negative")
	case !positive(a.HomingRate):
		return errors.ConfigValidationError(section, "homing_rate", "must be above 0")
	case a.HomingTimeout < 0:
		return errors.ConfigValidationError(section, "homing_timeout", "must not be negative")
	}
	for option, spec := range map[string]string{"step_pin": a.StepPin, "dir_pin": a.DirPin, "endstop_pin": a.EndstopPin} {
		if _, err := ParsePin(spec, true, true); err != nil {
			return errors.ConfigValidationError(section, option, err.Error())
		}
	}
	return nil
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// Axis returns the motor and endstop configuration of axis "x" or "y".
func (p *PlotterConfig) Axis(name string) (stepper.Config, endstop.EndstopConfig, error) {
	var a AxisSection
	switch name {
	case "x":
		a = p.StepperX
	case "y":
		a = p.StepperY
	default:
		return stepper.Config{}, endstop.EndstopConfig{}, errors.New(errors.ErrConfigOption, "unknown axis "+name)
	}
	section := "stepper_" + name

	dir, err := ParsePin(a.DirPin, true, false)
	if err != nil {
		return stepper.Config{}, endstop.EndstopConfig{}, errors.ConfigValidationError(section, "dir_pin", err.Error())
	}
	stop, err := ParsePin(a.EndstopPin, true, true)
	if err != nil {
		return stepper.Config{}, endstop.EndstopConfig{}, errors.ConfigValidationError(section, "endstop_pin", err.Error())
	}

	sc := stepper.Config{
		Name:          name,
		StepsPerUnit:  a.StepsPerUnit,
		StepsPerRev:   a.StepsPerRev,
		MaxTravel:     a.MaxTravel,
		MaxRate:       a.MaxRate,
		HomingRate:    a.HomingRate,
		HomingTimeout: a.HomingTimeout,
		InvertDir:     dir.Invert,
	}
	ec := endstop.EndstopConfig{
		Name:     name + "_endstop",
		Pin:      stop.Name,
		Inverted: stop.Invert,
	}
	return sc, ec, nil
}

// PenConfig returns the pen servo configuration.
func (p *PlotterConfig) PenConfig() (servo.Config, error) {
	c := servo.Config{
		Name:              "pen",
		MinimumPulseWidth: p.Pen.MinimumPulseWidth,
		MaximumPulseWidth: p.Pen.MaximumPulseWidth,
		MaximumServoAngle: p.Pen.MaximumServoAngle,
		InitialAngle:      p.Pen.InitialAngle,
	}
	if err := c.Validate(); err != nil {
		return servo.Config{}, errors.ConfigValidationError("servo pen", "", err.Error())
	}
	return c, nil
}

// SerialConfig returns the port configuration for the [serial] section.
func (p *PlotterConfig) SerialConfig() serial.Config {
	c := serial.DefaultConfig()
	c.Device = p.Serial.Device
	c.BaudRate = p.Serial.Baud
	return c
}
