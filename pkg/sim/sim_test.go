package sim

import "testing"

func TestAxisStepsFollowDirection(t *testing.T) {
	a := NewAxis("x", 3, false)
	if a.Triggered() {
		t.Error("switch must be open away from the origin")
	}

	a.SetDirection(false)
	a.Step()
	a.Step()
	a.Step()
	if a.Physical() != 0 || !a.Triggered() {
		t.Errorf("expected the carriage on the switch, got %d", a.Physical())
	}

	a.SetDirection(true)
	a.Step()
	if a.Physical() != 1 {
		t.Errorf("expected 1, got %d", a.Physical())
	}
	if a.Pulses() != 4 {
		t.Errorf("expected 4 pulses, got %d", a.Pulses())
	}
	if a.Name() != "x" {
		t.Errorf("unexpected name %q", a.Name())
	}
}

func TestAxisInverted(t *testing.T) {
	a := NewAxis("y", 0, true)
	a.SetDirection(true)
	a.Step()
	if a.Physical() != -1 {
		t.Errorf("inverted axis must step backwards, got %d", a.Physical())
	}
}

func TestBrokenSwitch(t *testing.T) {
	a := NewAxis("x", 0, false)
	if !a.Triggered() {
		t.Error("switch must close at the origin")
	}
	a.BreakSwitch(true)
	if a.Triggered() {
		t.Error("a broken switch never closes")
	}
}

func TestPWM(t *testing.T) {
	p := NewPWM()
	if p.Duty() != 0 {
		t.Errorf("expected 0 duty, got %v", p.Duty())
	}
	for _, d := range []float64{0.075, 0.1} {
		if err := p.SetDuty(d); err != nil {
			t.Fatalf("SetDuty(%v): %v", d, err)
		}
	}
	if p.Duty() != 0.1 || p.Writes() != 2 {
		t.Errorf("got duty %v after %d writes", p.Duty(), p.Writes())
	}
}
