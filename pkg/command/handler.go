// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package command

// Handler receives one callback per instruction variant.
//
// Every implementation must name every variant, so adding a kind here is a
// compile error in each consumer until it is handled.
type Handler interface {
	Connected()
	Laser(power float64)
	Move(x, y float64)
	PenPosition(angle float64)
	PenSetting(up, down float64)
	PlotterSetting(s PlotterSettings)
	ToOrigin()
	Invalid()
}

// Dispatch routes the instruction to the matching Handler method.
// Tags outside the defined set are treated as Invalid.
func (i Instruction) Dispatch(h Handler) {
	switch i.Kind {
	case Connected:
		h.Connected()
	case Laser:
		h.Laser(i.Power())
	case Move:
		h.Move(i.X(), i.Y())
	case PenPosition:
		h.PenPosition(i.Angle())
	case PenSetting:
		h.PenSetting(i.PenAngles())
	case PlotterSetting:
		h.PlotterSetting(i.Settings())
	case ToOrigin:
		h.ToOrigin()
	default:
		h.Invalid()
	}
}
