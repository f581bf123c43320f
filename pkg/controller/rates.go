// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package controller

import "math"

// ComputeRates returns the X and Y shaft rates for a move of (dx, dy) so
// that both axes finish together when they share steps per unit. Y runs at
// base and X is scaled by |dx/dy|. A move with no Y component runs X at
// base.
func ComputeRates(dx, dy, base float64) (rx, ry float64) {
	if dy == 0 {
		return base, base
	}
	return base * math.Abs(dx/dy), base
}
