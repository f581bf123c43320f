// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package controller

import (
	"time"

	"plotter-go/pkg/command"
	"plotter-go/pkg/log"
)

// ackOK acknowledges every instruction other than connected.
const ackOK = "OK"

// dispatcher applies one instruction at a time to the actuators. It is
// owned by the dispatch goroutine.
type dispatcher struct {
	c     *Controller
	log   *log.Logger
	reply string
}

var _ command.Handler = (*dispatcher)(nil)

// run executes ins and writes its single reply line.
func (d *dispatcher) run(ins command.Instruction) {
	start := time.Now()
	d.reply = ackOK
	ins.Dispatch(d)

	if err := d.c.deps.Link.WriteLine(d.reply); err != nil {
		d.log.WithError(err).WithField("reply", d.reply).Error("acknowledgement not sent")
	}

	d.c.mu.Lock()
	d.c.dispatched++
	d.c.mu.Unlock()

	if m := d.c.deps.Metrics; m != nil {
		m.RecordDispatch(ins.Kind.String(), time.Since(start))
		m.RecordAck()
		d.c.recordAxes()
	}
}

func (d *dispatcher) Connected() {
	d.reply = d.c.cfg.Banner
}

func (d *dispatcher) Laser(power float64) {
	if err := command.NewLaser(power).Validate(); err != nil {
		d.log.WithError(err).Warn("laser ignored")
		return
	}
	d.c.mu.Lock()
	d.c.laser = power
	d.c.mu.Unlock()
}

func (d *dispatcher) Move(x, y float64) {
	ax, ay := d.c.deps.X, d.c.deps.Y
	dx := x - ax.GetCurrentPosition()
	dy := y - ay.GetCurrentPosition()
	rx, ry := ComputeRates(dx, dy, d.c.cfg.BaseRate)

	ax.SetRate(rx)
	ay.SetRate(ry)
	ax.MoveTo(x)
	ay.MoveTo(y)

	d.log.WithFields(log.Fields{
		"x": x, "y": y, "rate_x": rx, "rate_y": ry,
	}).Debug("move")
}

func (d *dispatcher) PenPosition(angle float64) {
	pen := d.c.deps.Pen
	if pen == nil {
		d.log.Warn("no pen configured")
		return
	}
	if err := pen.MoveTo(angle); err != nil {
		d.log.WithError(err).WithField("angle", angle).Warn("pen move rejected")
		return
	}
	d.c.mu.Lock()
	d.c.penAngle = angle
	d.c.mu.Unlock()
	if m := d.c.deps.Metrics; m != nil {
		m.SetPenAngle(angle)
	}
}

func (d *dispatcher) PenSetting(up, down float64) {
	if err := command.NewPenSetting(up, down).Validate(); err != nil {
		d.log.WithError(err).Warn("pen setting ignored")
		return
	}
	d.c.mu.Lock()
	d.c.penUp, d.c.penDown = up, down
	d.c.mu.Unlock()
}

func (d *dispatcher) PlotterSetting(s command.PlotterSettings) {
	if err := command.NewPlotterSetting(s).Validate(); err != nil {
		d.log.WithError(err).Warn("plotter setting ignored")
		return
	}
	d.c.mu.Lock()
	d.c.settings = s
	d.c.mu.Unlock()
}

func (d *dispatcher) ToOrigin() {
	ax, ay := d.c.deps.X, d.c.deps.Y
	rate := d.c.cfg.HomingRate
	ax.SetRate(rate)
	ay.SetRate(rate)
	ax.MoveTo(0)
	ay.MoveTo(0)
	d.log.Debug("to origin")
}

func (d *dispatcher) Invalid() {
	d.log.Warn("unrecognised command")
}
