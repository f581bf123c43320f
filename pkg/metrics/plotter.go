// Plotter metric set
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"time"
)

// PlotterMetrics holds the metrics recorded by the command pipeline.
type PlotterMetrics struct {
	// Pipeline
	Instructions   *Counter
	Acks           *Counter
	LinesDiscarded *Counter
	QueueDepth     *Gauge
	QueueHighWater *Gauge
	DispatchTime   *Histogram

	// Axes
	AxisPosition        *Gauge
	AxisRate            *Gauge
	Steps               *Gauge
	CalibrationTime     *Histogram
	CalibrationFailures *Counter

	// Pen
	PenAngle *Gauge

	// Host
	Uptime       *Gauge
	GoGoroutines *Gauge
	GoMemoryHeap *Gauge

	startTime time.Time
	registry  *Registry
}

// NewPlotterMetrics creates and registers the plotter metrics in a fresh
// registry.
func NewPlotterMetrics() *PlotterMetrics {
	pm := &PlotterMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	pm.Instructions = NewCounter("plotter_instructions_total",
		"Instructions dispatched, by kind")
	pm.Acks = NewCounter("plotter_acks_total",
		"Acknowledgement lines written")
	pm.LinesDiscarded = NewCounter("plotter_lines_discarded_total",
		"Input lines dropped for exceeding the maximum length")
	pm.QueueDepth = NewGauge("plotter_queue_depth",
		"Instructions waiting in the command queue")
	pm.QueueHighWater = NewGauge("plotter_queue_high_water",
		"Deepest observed command queue")
	pm.DispatchTime = NewHistogram("plotter_dispatch_seconds",
		"Time spent dispatching one instruction, by kind",
		ExponentialBuckets(0.00001, 10, 6))

	pm.AxisPosition = NewGauge("plotter_axis_position",
		"Axis position in units, by axis")
	pm.AxisRate = NewGauge("plotter_axis_rate_rpm",
		"Commanded axis rate in rpm, by axis")
	pm.Steps = NewGauge("plotter_steps_total",
		"Step pulses emitted, by axis")
	pm.CalibrationTime = NewHistogram("plotter_calibration_seconds",
		"Homing duration, by axis", DefaultBuckets())
	pm.CalibrationFailures = NewCounter("plotter_calibration_failures_total",
		"Homing failures, by axis")

	pm.PenAngle = NewGauge("plotter_pen_angle_degrees",
		"Last commanded pen servo angle")

	pm.Uptime = NewGauge("plotter_uptime_seconds",
		"Seconds since the metrics were created")
	pm.GoGoroutines = NewGauge("plotter_go_goroutines",
		"Number of goroutines")
	pm.GoMemoryHeap = NewGauge("plotter_go_memory_heap_bytes",
		"Heap bytes allocated")

	for _, m := range []Metric{
		pm.Instructions, pm.Acks, pm.LinesDiscarded,
		pm.QueueDepth, pm.QueueHighWater, pm.DispatchTime,
		pm.AxisPosition, pm.AxisRate, pm.Steps,
		pm.CalibrationTime, pm.CalibrationFailures,
		pm.PenAngle,
		pm.Uptime, pm.GoGoroutines, pm.GoMemoryHeap,
	} {
		pm.registry.MustRegister(m)
	}
	return pm
}

// RecordDispatch counts one dispatched instruction and its duration.
func (pm *PlotterMetrics) RecordDispatch(kind string, d time.Duration) {
	pm.Instructions.Inc(Labels{"kind": kind})
	pm.DispatchTime.Observe(Labels{"kind": kind}, d.Seconds())
}

// RecordAck counts one reply line.
func (pm *PlotterMetrics) RecordAck() {
	pm.Acks.Inc(nil)
}

// RecordDiscard counts one overlong input line.
func (pm *PlotterMetrics) RecordDiscard() {
	pm.LinesDiscarded.Inc(nil)
}

// SetQueue updates queue depth gauges.
func (pm *PlotterMetrics) SetQueue(depth, highWater int) {
	pm.QueueDepth.Set(nil, float64(depth))
	pm.QueueHighWater.Set(nil, float64(highWater))
}

// SetAxis updates the gauges of one axis.
func (pm *PlotterMetrics) SetAxis(axis string, position, rpm float64, steps uint64) {
	l := Labels{"axis": axis}
	pm.AxisPosition.Set(l, position)
	pm.AxisRate.Set(l, rpm)
	pm.Steps.Set(l, float64(steps))
}

// RecordCalibration records one homing attempt.
func (pm *PlotterMetrics) RecordCalibration(axis string, d time.Duration, err error) {
	l := Labels{"axis": axis}
	pm.CalibrationTime.Observe(l, d.Seconds())
	if err != nil {
		pm.CalibrationFailures.Inc(l)
	}
}

// SetPenAngle records the last pen angle.
func (pm *PlotterMetrics) SetPenAngle(angle float64) {
	pm.PenAngle.Set(nil, angle)
}

// UpdateSystemMetrics refreshes host gauges.
func (pm *PlotterMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)
	pm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	pm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	pm.Uptime.Set(nil, time.Since(pm.startTime).Seconds())
}

// Gather returns all metrics in Prometheus text format.
func (pm *PlotterMetrics) Gather() string {
	pm.UpdateSystemMetrics()
	return pm.registry.Gather()
}

// Registry returns the internal registry.
func (pm *PlotterMetrics) Registry() *Registry {
	return pm.registry
}
