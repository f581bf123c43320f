// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package controller runs the plotter command pipeline.
//
// Ingest reads lines from the transport, translates them and queues the
// instructions. Calibrate homes both axes. Dispatch drains the queue into
// the actuators and acknowledges every line. Run wires the three together:
// ingestion starts at once, dispatch only after homing.
package controller

import (
	"context"
	stderrors "errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"plotter-go/pkg/command"
	"plotter-go/pkg/config"
	"plotter-go/pkg/errors"
	"plotter-go/pkg/log"
	"plotter-go/pkg/metrics"
	"plotter-go/pkg/queue"
	"plotter-go/pkg/transport"
)

// Axis is one positioning motor as the controller drives it.
type Axis interface {
	Name() string
	GetCurrentPosition() float64
	SetRate(rpm float64)
	MoveTo(target float64)
	Calibrate(ctx context.Context) error
	Stop()
}

// Pen is the pen lift actuator.
type Pen interface {
	MoveTo(angle float64) error
}

// Translator turns one line of command text into an instruction. It must
// not block and returns an Invalid instruction for malformed input.
type Translator interface {
	Parse(buf []byte) command.Instruction
}

// Link is the command transport: bytes in, reply lines out.
type Link interface {
	io.ByteReader
	WriteLine(line string) error
}

// axisStats is implemented by axes that can report rate and step counts.
type axisStats interface {
	Rate() float64
	StepCount() uint64
}

// Config holds the pipeline settings.
type Config struct {
	BaseRate           float64
	HomingRate         float64
	Banner             string
	CalibrationFailure string // config.CalibrationHalt or config.CalibrationProceed
	MaxLineLength      int
}

// DefaultConfig returns the reference pipeline settings.
func DefaultConfig() Config {
	return ConfigFrom(config.Defaults())
}

// ConfigFrom extracts the pipeline settings from a plotter configuration.
func ConfigFrom(pc *config.PlotterConfig) Config {
	return Config{
		BaseRate:           pc.Plotter.BaseRate,
		HomingRate:         pc.Plotter.HomingRate,
		Banner:             pc.Plotter.Banner,
		CalibrationFailure: pc.Plotter.CalibrationFailure,
		MaxLineLength:      pc.Plotter.MaxLineLength,
	}
}

// Deps are the collaborators of a Controller. Queue, Translator, Link, X
// and Y are required.
type Deps struct {
	Queue      *queue.Queue
	Translator Translator
	Link       Link
	X, Y       Axis
	Pen        Pen
	Metrics    *metrics.PlotterMetrics
}

// Status is a snapshot of the controller.
type Status struct {
	Session    string
	State      string
	Reason     string
	Since      time.Time
	X, Y       float64
	PenAngle   float64
	PenUp      float64
	PenDown    float64
	Laser      float64
	Settings   command.PlotterSettings
	Accepted   uint64
	Dispatched uint64
	Discarded  uint64
	QueueDepth int
	HighWater  int
}

// Controller owns one run of the pipeline.
type Controller struct {
	cfg     Config
	deps    Deps
	session string
	log     *log.Logger
	state   stateMachine

	mu         sync.Mutex
	penAngle   float64
	penUp      float64
	penDown    float64
	laser      float64
	settings   command.PlotterSettings
	accepted   uint64
	dispatched uint64
	discarded  uint64
}

// New creates a controller. Missing required dependencies are reported as
// a RUNTIME_INIT error.
func New(cfg Config, deps Deps) (*Controller, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.RuntimeErrorInit("controller", "no command queue")
	case deps.Translator == nil:
		return nil, errors.RuntimeErrorInit("controller", "no translator")
	case deps.Link == nil:
		return nil, errors.RuntimeErrorInit("controller", "no transport")
	case deps.X == nil || deps.Y == nil:
		return nil, errors.RuntimeErrorInit("controller", "both axes are required")
	}
	if cfg.Banner == "" {
		cfg.Banner = config.DefaultBanner
	}
	if cfg.CalibrationFailure == "" {
		cfg.CalibrationFailure = config.CalibrationHalt
	}
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = transport.DefaultMaxLineLength
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	c := &Controller{
		cfg:     cfg,
		deps:    deps,
		session: id.String(),
	}
	c.log = log.GetLogger("controller").With(log.Fields{"session": c.session})
	return c, nil
}

// Session returns the run's unique id.
func (c *Controller) Session() string { return c.session }

// State returns the current run state.
func (c *Controller) State() RunState {
	s, _, _ := c.state.get()
	return s
}

// OnStateChange registers fn to be called after every state transition.
func (c *Controller) OnStateChange(fn func(old, new RunState)) {
	c.state.subscribe(fn)
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	state, reason, since := c.state.get()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Session:    c.session,
		State:      state.String(),
		Reason:     reason,
		Since:      since,
		X:          c.deps.X.GetCurrentPosition(),
		Y:          c.deps.Y.GetCurrentPosition(),
		PenAngle:   c.penAngle,
		PenUp:      c.penUp,
		PenDown:    c.penDown,
		Laser:      c.laser,
		Settings:   c.settings,
		Accepted:   c.accepted,
		Dispatched: c.dispatched,
		Discarded:  c.discarded,
		QueueDepth: c.deps.Queue.Len(),
		HighWater:  c.deps.Queue.HighWater(),
	}
}

// Run ingests, calibrates and then dispatches until the input ends or ctx
// is cancelled. Input ending is a clean exit. Under the halt policy a
// calibration failure is returned without dispatching anything.
func (c *Controller) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() {
		if ctx.Err() != nil {
			c.deps.X.Stop()
			c.deps.Y.Stop()
		}
	}()

	c.log.Info("session started")
	c.state.set(StateCalibrating, "")

	ingestErr := make(chan error, 1)
	go func() { ingestErr <- c.Ingest(runCtx) }()

	calErr := make(chan error, 1)
	go func() { calErr <- c.Calibrate(runCtx) }()

	if err := <-calErr; err != nil {
		if ctx.Err() != nil {
			c.state.set(StateStopped, "cancelled")
			return nil
		}
		if c.cfg.CalibrationFailure != config.CalibrationProceed {
			c.log.WithError(err).Error("calibration failed, halting")
			c.state.set(StateHalted, err.Error())
			return err
		}
		c.log.WithError(err).Error("calibration failed, dispatching un-homed")
	}

	c.state.set(StateRunning, "")
	dispatchErr := c.Dispatch(runCtx)

	if ctx.Err() != nil {
		c.state.set(StateStopped, "cancelled")
		return nil
	}
	c.state.set(StateStopped, "end of input")

	// Dispatch only returns without cancellation once ingestion closed the
	// queue, so the ingestion result is ready.
	if err := <-ingestErr; err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	if dispatchErr != nil && !errors.Is(dispatchErr, errors.ErrQueueClosed) {
		return dispatchErr
	}
	c.log.Info("session ended")
	return nil
}

// Ingest reads lines until end of input, queueing one instruction per
// line. Overlong lines are dropped and counted. The queue is closed on
// return.
func (c *Controller) Ingest(ctx context.Context) error {
	defer c.deps.Queue.Close()

	lr := transport.NewLineReader(c.deps.Link, c.cfg.MaxLineLength)
	defer lr.Release()
	lg := c.log.WithPrefix("ingest")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := lr.ReadLine()
		switch {
		case err == nil:
		case stderrors.Is(err, transport.ErrLineTooLong):
			c.mu.Lock()
			c.discarded++
			c.mu.Unlock()
			if c.deps.Metrics != nil {
				c.deps.Metrics.RecordDiscard()
			}
			lg.WithFields(log.Fields{
				"length": lr.Dropped(),
				"limit":  lr.MaxLength(),
			}).Warn("line too long, discarded")
			continue
		case err == io.EOF:
			lg.Info("end of input")
			return nil
		default:
			msg := "read failed"
			if errors.IsTransport(err) {
				msg = "command link lost"
			}
			lg.WithFields(errors.Attrs(err)).WithError(err).Error(msg)
			return err
		}

		lg.WithField("line", string(line)).Debug("received")
		ins := c.deps.Translator.Parse(line)
		if err := c.deps.Queue.Send(ctx, ins); err != nil {
			return err
		}
		c.mu.Lock()
		c.accepted++
		c.mu.Unlock()
		if c.deps.Metrics != nil {
			c.deps.Metrics.SetQueue(c.deps.Queue.Len(), c.deps.Queue.HighWater())
		}
	}
}

// Calibrate homes X then Y. It stops at the first failure.
func (c *Controller) Calibrate(ctx context.Context) error {
	lg := c.log.WithPrefix("calibrate")
	for _, ax := range []Axis{c.deps.X, c.deps.Y} {
		start := time.Now()
		err := ax.Calibrate(ctx)
		if c.deps.Metrics != nil {
			c.deps.Metrics.RecordCalibration(ax.Name(), time.Since(start), err)
		}
		if err != nil {
			if e, ok := err.(*errors.Error); ok && e.Axis == "" {
				e.SetAxis(ax.Name())
			}
			return err
		}
		lg.WithField("axis", ax.Name()).Info("axis at reference")
	}
	return nil
}

// Dispatch executes queued instructions one at a time until the queue is
// closed and drained or ctx is cancelled. Every instruction gets exactly
// one reply line.
func (c *Controller) Dispatch(ctx context.Context) error {
	d := &dispatcher{c: c, log: c.log.WithPrefix("dispatch")}
	for {
		ins, err := c.deps.Queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, errors.ErrQueueClosed) {
				return nil
			}
			return err
		}
		d.run(ins)
	}
}

func (c *Controller) recordAxes() {
	m := c.deps.Metrics
	if m == nil {
		return
	}
	for _, ax := range []Axis{c.deps.X, c.deps.Y} {
		var rpm float64
		var steps uint64
		if s, ok := ax.(axisStats); ok {
			rpm, steps = s.Rate(), s.StepCount()
		}
		m.SetAxis(ax.Name(), ax.GetCurrentPosition(), rpm, steps)
	}
	m.SetQueue(c.deps.Queue.Len(), c.deps.Queue.HighWater())
}
