// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package command defines the typed instruction that flows from the
// ingestion loop, through the command queue, into the dispatch loop.
//
// An Instruction is a plain value: it is copied into and out of the queue
// and carries no identity beyond its position in the stream.
package command

import (
	"fmt"
	"math"
)

// Kind is the tag of an Instruction.
type Kind uint8

const (
	Connected Kind = iota
	Laser
	Move
	PenPosition
	PenSetting
	PlotterSetting
	ToOrigin
	Invalid

	numKinds
)

// MaxParams is the number of parameter slots carried by every Instruction.
// plotter_setting is the widest variant and uses all of them.
const MaxParams = 5

var kindNames = [numKinds]string{
	Connected:      "connected",
	Laser:          "laser",
	Move:           "move",
	PenPosition:    "pen_position",
	PenSetting:     "pen_setting",
	PlotterSetting: "plotter_setting",
	ToOrigin:       "to_origin",
	Invalid:        "invalid",
}

var kindArity = [numKinds]int{
	Connected:      0,
	Laser:          1,
	Move:           2,
	PenPosition:    1,
	PenSetting:     2,
	PlotterSetting: 5,
	ToOrigin:       0,
	Invalid:        0,
}

// String returns the wire-level name of the kind.
func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Arity returns how many leading parameter slots are meaningful for k.
func (k Kind) Arity() int {
	if k < numKinds {
		return kindArity[k]
	}
	return 0
}

// Kinds returns every defined kind in tag order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Instruction is one decoded command plus its parameters.
// Only the first Kind.Arity() slots of Params are meaningful.
type Instruction struct {
	Kind   Kind
	Params [MaxParams]float64
}

// PlotterSettings is the decoded form of a plotter_setting instruction.
type PlotterSettings struct {
	InvertX bool
	InvertY bool
	Height  float64
	Width   float64
	Speed   float64
}

func NewConnected() Instruction { return Instruction{Kind: Connected} }
func NewToOrigin() Instruction  { return Instruction{Kind: ToOrigin} }
func NewInvalid() Instruction   { return Instruction{Kind: Invalid} }

// NewLaser returns a laser instruction with the given power in percent.
func NewLaser(power float64) Instruction {
	return Instruction{Kind: Laser, Params: [MaxParams]float64{power}}
}

// NewMove returns a coordinated move to the absolute target (x, y).
func NewMove(x, y float64) Instruction {
	return Instruction{Kind: Move, Params: [MaxParams]float64{x, y}}
}

// NewPenPosition returns a pen servo move to angle degrees.
func NewPenPosition(angle float64) Instruction {
	return Instruction{Kind: PenPosition, Params: [MaxParams]float64{angle}}
}

// NewPenSetting returns the pen up/down angle configuration.
func NewPenSetting(up, down float64) Instruction {
	return Instruction{Kind: PenSetting, Params: [MaxParams]float64{up, down}}
}

// NewPlotterSetting returns a plotter_setting instruction.
func NewPlotterSetting(s PlotterSettings) Instruction {
	return Instruction{Kind: PlotterSetting, Params: [MaxParams]float64{
		boolParam(s.InvertX), boolParam(s.InvertY), s.Height, s.Width, s.Speed,
	}}
}

func boolParam(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// X returns the X target of a move.
func (i Instruction) X() float64 { return i.Params[0] }

// Y returns the Y target of a move.
func (i Instruction) Y() float64 { return i.Params[1] }

// Angle returns the servo angle of a pen_position.
func (i Instruction) Angle() float64 { return i.Params[0] }

// Power returns the laser power of a laser instruction.
func (i Instruction) Power() float64 { return i.Params[0] }

// PenAngles returns the up and down angles of a pen_setting.
func (i Instruction) PenAngles() (up, down float64) { return i.Params[0], i.Params[1] }

// Settings decodes a plotter_setting.
func (i Instruction) Settings() PlotterSettings {
	return PlotterSettings{
		InvertX: i.Params[0] != 0,
		InvertY: i.Params[1] != 0,
		Height:  i.Params[2],
		Width:   i.Params[3],
		Speed:   i.Params[4],
	}
}

// Meaningful returns the slots that carry data for this instruction's kind.
func (i Instruction) Meaningful() []float64 {
	return i.Params[:i.Kind.Arity()]
}

// Equal compares kind and meaningful slots only.
func (i Instruction) Equal(o Instruction) bool {
	if i.Kind != o.Kind {
		return false
	}
	for n := 0; n < i.Kind.Arity(); n++ {
		if i.Params[n] != o.Params[n] {
			return false
		}
	}
	return true
}

func (i Instruction) String() string {
	if i.Kind.Arity() == 0 {
		return i.Kind.String()
	}
	return fmt.Sprintf("%s%v", i.Kind, i.Meaningful())
}

// Validate checks the parameter shape for the instruction's kind.
func (i Instruction) Validate() error {
	for n, v := range i.Meaningful() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s: parameter %d is not finite", i.Kind, n)
		}
	}
	switch i.Kind {
	case Laser:
		return inRange(i.Kind, "power", i.Power(), 0, 100)
	case PenPosition:
		return inRange(i.Kind, "angle", i.Angle(), 0, 180)
	case PenSetting:
		up, down := i.PenAngles()
		if err := inRange(i.Kind, "up", up, 0, 180); err != nil {
			return err
		}
		return inRange(i.Kind, "down", down, 0, 180)
	case PlotterSetting:
		for n, name := range []string{"A", "B"} {
			if v := i.Params[n]; v != 0 && v != 1 {
				return fmt.Errorf("%s: %s must be 0 or 1, got %g", i.Kind, name, v)
			}
		}
		s := i.Settings()
		if s.Height <= 0 || s.Width <= 0 {
			return fmt.Errorf("%s: height and width must be positive", i.Kind)
		}
		if s.Speed <= 0 || s.Speed > 100 {
			return fmt.Errorf("%s: speed %g outside (0,100]", i.Kind, s.Speed)
		}
	}
	return nil
}

func inRange(k Kind, name string, v, lo, hi float64) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s: %s %g outside [%g,%g]", k, name, v, lo, hi)
	}
	return nil
}
