package stepper

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plotter-go/pkg/endstop"
	"plotter-go/pkg/errors"
	"plotter-go/pkg/irq"
	"plotter-go/pkg/sim"
)

type rig struct {
	motor *Motor
	axis  *sim.Axis
	clock *irq.ManualClock
}

func newRig(t *testing.T, start int64, mutate func(*Config)) rig {
	t.Helper()
	cfg := DefaultConfig("x")
	if mutate != nil {
		mutate(&cfg)
	}
	axis := sim.NewAxis("x", start, cfg.InvertDir)
	es := endstop.New(endstop.EndstopConfig{Name: "x"}, axis)
	clock := irq.NewManualClock()
	return rig{motor: New(cfg, axis, es, clock), axis: axis, clock: clock}
}

func calibrateAsync(r rig, ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- r.motor.Calibrate(ctx) }()
	return errCh
}

func TestStepPeriod(t *testing.T) {
	tests := []struct {
		name string
		rpm  float64
		spr  int
		want time.Duration
	}{
		{"base rate", 60, 200, 5 * time.Millisecond},
		{"double rate", 120, 200, 2500 * time.Microsecond},
		{"just above floor", 299_000, 200, 1003 * time.Nanosecond},
		{"steep diagonal", 60 * 100 / 0.00001, 200, MinStepPeriod},
		{"product overflows", math.MaxFloat64, 200, MinStepPeriod},
		{"infinite", math.Inf(1), 200, MinStepPeriod},
		{"zero", 0, 200, 0},
		{"negative", -5, 200, 0},
		{"negative infinite", math.Inf(-1), 200, 0},
		{"nan", math.NaN(), 200, 0},
		{"no steps per rev", 60, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StepPeriod(tt.rpm, tt.spr))
		})
	}
}

func TestExtremeRateStillSteps(t *testing.T) {
	r := newRig(t, 0, nil)
	r.motor.SetRate(6e8)
	assert.Equal(t, MinStepPeriod, r.clock.Period())

	r.motor.MoveTo(100)
	require.True(t, r.motor.Busy())
	assert.Equal(t, 100, r.clock.Advance(100*MinStepPeriod))
	assert.Equal(t, 100.0, r.motor.GetCurrentPosition())
	assert.False(t, r.motor.Busy())
}

func TestInfiniteRateOnTicker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := DefaultConfig("x")
	axis := sim.NewAxis("x", 0, false)
	clock := irq.NewTicker()
	go clock.Run(ctx)
	m := New(cfg, axis, endstop.New(endstop.EndstopConfig{Name: "x"}, axis), clock)

	m.SetRate(math.Inf(1))
	m.MoveTo(50)
	require.NoError(t, m.WaitIdle(ctx))
	assert.Equal(t, 50.0, m.GetCurrentPosition())
}

func TestMoveToCompletes(t *testing.T) {
	r := newRig(t, 50, nil)
	r.motor.SetRate(60)
	assert.Equal(t, 5*time.Millisecond, r.clock.Period())

	r.motor.MoveTo(10)
	assert.True(t, r.motor.Busy())
	assert.Equal(t, 10.0, r.motor.Target())

	assert.Equal(t, 10, r.clock.Fire(100))
	assert.Equal(t, 10.0, r.motor.GetCurrentPosition())
	assert.False(t, r.motor.Busy())
	assert.Equal(t, uint64(10), r.motor.StepCount())
	assert.Equal(t, uint64(1), r.motor.Line().Yields())
	assert.Equal(t, int64(60), r.axis.Physical())
	require.NoError(t, r.motor.WaitIdle(context.Background()))
}

func TestMoveToNegative(t *testing.T) {
	r := newRig(t, 50, nil)
	r.motor.SetRate(60)
	r.motor.MoveTo(-4)
	assert.Equal(t, 4, r.clock.Fire(100))
	assert.Equal(t, -4.0, r.motor.GetCurrentPosition())
	assert.Equal(t, int64(46), r.axis.Physical())
}

func TestMoveToCurrentPositionIsIdle(t *testing.T) {
	r := newRig(t, 50, nil)
	r.motor.SetRate(60)
	r.motor.MoveTo(0)
	assert.False(t, r.motor.Busy())
	assert.Equal(t, 0, r.clock.Fire(5))
}

func TestSpuriousEventIsNoop(t *testing.T) {
	r := newRig(t, 50, nil)
	assert.False(t, r.motor.Line().Raise())
	assert.Equal(t, 0.0, r.motor.GetCurrentPosition())
	assert.Equal(t, uint64(0), r.axis.Pulses())
	assert.False(t, r.motor.Busy())
}

func TestRetargetMidMove(t *testing.T) {
	r := newRig(t, 50, nil)
	r.motor.SetRate(60)
	r.motor.MoveTo(10)
	assert.Equal(t, 4, r.clock.Fire(4))

	r.motor.MoveTo(2)
	assert.Equal(t, 2, r.clock.Fire(100))
	assert.Equal(t, 2.0, r.motor.GetCurrentPosition())
	assert.Equal(t, int64(52), r.axis.Physical())
}

func TestStopHaltsMove(t *testing.T) {
	r := newRig(t, 0, nil)
	r.motor.SetRate(60)
	r.motor.MoveTo(100)
	r.clock.Fire(30)

	r.motor.Stop()
	assert.False(t, r.motor.Busy())
	assert.Equal(t, 30.0, r.motor.Target())
	assert.Zero(t, r.clock.Fire(10), "stopped axis does not step")
	require.NoError(t, r.motor.WaitIdle(context.Background()))
}

func TestStepsPerUnit(t *testing.T) {
	r := newRig(t, 0, func(c *Config) { c.StepsPerUnit = 80 })
	r.motor.SetRate(60)
	r.motor.MoveTo(0.5)
	assert.Equal(t, 40, r.clock.Fire(1000))
	assert.Equal(t, 0.5, r.motor.GetCurrentPosition())
	assert.Equal(t, int64(40), r.motor.StepPosition())
}

func TestSetRateClampsToMax(t *testing.T) {
	r := newRig(t, 0, func(c *Config) { c.MaxRate = 100 })
	r.motor.SetRate(600)
	assert.Equal(t, 100.0, r.motor.Rate())
	assert.Equal(t, StepPeriod(100, 200), r.clock.Period())
}

func TestCalibrateFindsEndstop(t *testing.T) {
	r := newRig(t, 25, nil)
	r.motor.SetRate(90)
	errCh := calibrateAsync(r, context.Background())

	require.Eventually(t, r.clock.Running, time.Second, time.Millisecond)
	assert.Equal(t, StepPeriod(60, 200), r.clock.Period())
	assert.Equal(t, 26, r.clock.Fire(1000), "25 steps then the trigger event")

	require.NoError(t, <-errCh)
	assert.True(t, r.motor.Homed())
	assert.Equal(t, 0.0, r.motor.GetCurrentPosition())
	assert.Equal(t, 0.0, r.motor.Target())
	assert.Equal(t, int64(0), r.axis.Physical())
	assert.Equal(t, StepPeriod(90, 200), r.clock.Period(), "rate restored after homing")
}

func TestCalibrateAlreadyTriggered(t *testing.T) {
	r := newRig(t, 0, nil)
	require.NoError(t, r.motor.Calibrate(context.Background()))
	assert.True(t, r.motor.Homed())
	assert.Equal(t, uint64(0), r.axis.Pulses())
}

func TestCalibrateInvertedDirection(t *testing.T) {
	r := newRig(t, 5, func(c *Config) { c.InvertDir = true })
	errCh := calibrateAsync(r, context.Background())
	require.Eventually(t, r.clock.Running, time.Second, time.Millisecond)
	r.clock.Fire(100)
	require.NoError(t, <-errCh)
	assert.Equal(t, int64(0), r.axis.Physical())
}

func TestCalibrateTravelExhausted(t *testing.T) {
	r := newRig(t, 25, func(c *Config) { c.MaxTravel = 10 })
	r.axis.BreakSwitch(true)
	errCh := calibrateAsync(r, context.Background())

	require.Eventually(t, r.clock.Running, time.Second, time.Millisecond)
	assert.Equal(t, 11, r.clock.Fire(1000))

	err := <-errCh
	assert.True(t, errors.Is(err, errors.ErrHomingNotFound), "got %v", err)
	assert.False(t, r.motor.Homed())
	assert.Equal(t, -10.0, r.motor.GetCurrentPosition())
	assert.Equal(t, -10.0, r.motor.Target())
}

func TestCalibrateTimeout(t *testing.T) {
	r := newRig(t, 25, func(c *Config) { c.HomingTimeout = 20 * time.Millisecond })
	err := r.motor.Calibrate(context.Background())
	assert.True(t, errors.Is(err, errors.ErrHomingTimeout), "got %v", err)
	assert.False(t, r.motor.Busy())
}

func TestCalibrateCancelled(t *testing.T) {
	r := newRig(t, 25, func(c *Config) { c.HomingTimeout = 0 })
	ctx, cancel := context.WithCancel(context.Background())
	errCh := calibrateAsync(r, ctx)
	require.Eventually(t, r.clock.Running, time.Second, time.Millisecond)
	cancel()

	err := <-errCh
	assert.True(t, errors.IsHoming(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, r.motor.Busy())
}

func TestCalibrateWithoutEndstop(t *testing.T) {
	clock := irq.NewManualClock()
	m := New(DefaultConfig("y"), sim.NewAxis("y", 0, false), nil, clock)
	err := m.Calibrate(context.Background())
	assert.True(t, errors.Is(err, errors.ErrActuator))
}

func TestDiagonalMoveFinishesTogether(t *testing.T) {
	x := newRig(t, 0, nil)
	y := newRig(t, 0, nil)

	x.motor.SetRate(120)
	y.motor.SetRate(60)
	x.motor.MoveTo(100)
	y.motor.MoveTo(50)

	const tick = 500 * time.Microsecond
	var elapsed, doneX, doneY time.Duration
	for (x.motor.Busy() || y.motor.Busy()) && elapsed < time.Second {
		x.clock.Advance(tick)
		y.clock.Advance(tick)
		elapsed += tick
		if doneX == 0 && !x.motor.Busy() {
			doneX = elapsed
		}
		if doneY == 0 && !y.motor.Busy() {
			doneY = elapsed
		}
	}

	assert.Equal(t, 250*time.Millisecond, doneX)
	assert.Equal(t, doneX, doneY)
	assert.Equal(t, 100.0, x.motor.GetCurrentPosition())
	assert.Equal(t, 50.0, y.motor.GetCurrentPosition())
}

func TestPositionReadsNeverTear(t *testing.T) {
	r := newRig(t, 0, nil)
	r.motor.SetRate(60)
	const target = 2000
	r.motor.MoveTo(target)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for r.clock.Fire(1) == 1 {
		}
		close(stop)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rates := []float64{30, 60, 90, 120}
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				r.motor.SetRate(rates[i%len(rates)])
			}
		}
	}()

	last := 0.0
	violations := 0
	for {
		p := r.motor.GetCurrentPosition()
		if p < last || p < 0 || p > target {
			violations++
		}
		last = p
		select {
		case <-stop:
			wg.Wait()
			assert.Zero(t, violations)
			assert.Equal(t, float64(target), r.motor.GetCurrentPosition())
			return
		default:
		}
	}
}
