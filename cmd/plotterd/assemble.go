package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"plotter-go/pkg/config"
	"plotter-go/pkg/controller"
	"plotter-go/pkg/endstop"
	"plotter-go/pkg/errors"
	"plotter-go/pkg/gcode"
	"plotter-go/pkg/irq"
	"plotter-go/pkg/log"
	"plotter-go/pkg/metrics"
	"plotter-go/pkg/queue"
	"plotter-go/pkg/servo"
	"plotter-go/pkg/sim"
	"plotter-go/pkg/stepper"
	"plotter-go/pkg/transport"
)

// link is a command transport that can be closed.
type link interface {
	controller.Link
	io.Closer
}

// plotter is the assembled process: transport, actuators, controller and
// the optional servers.
type plotter struct {
	ctrl          *controller.Controller
	link          link
	transportName string
	clocks        []*irq.Ticker
	motors        []*stepper.Motor
	metrics       *metrics.Server
	wsListener    *transport.WebSocketListener
	listenAddr    string
	log           *log.Logger
}

// assemble builds every component from cfg. Nothing runs until run.
func assemble(cfg *config.PlotterConfig, opts *options) (*plotter, error) {
	p := &plotter{log: log.GetLogger("plotterd")}

	var err error
	p.link, p.transportName, err = openLink(cfg, opts)
	if err != nil {
		return nil, err
	}
	if ws, ok := p.link.(*transport.WebSocketListener); ok {
		p.wsListener = ws
		p.listenAddr = cfg.Plotter.Listen
	}

	x, err := p.axis(cfg, "x", opts.simulate)
	if err != nil {
		p.close()
		return nil, err
	}
	y, err := p.axis(cfg, "y", opts.simulate)
	if err != nil {
		p.close()
		return nil, err
	}

	penCfg, err := cfg.PenConfig()
	if err != nil {
		p.close()
		return nil, err
	}
	pen, err := servo.New(penCfg, sim.NewPWM())
	if err != nil {
		p.close()
		return nil, errors.Wrap(err, errors.ErrRuntimeInit, "pen servo")
	}

	var pm *metrics.PlotterMetrics
	if cfg.Metrics.Listen != "" {
		pm = metrics.NewPlotterMetrics()
		p.metrics = metrics.NewServer(pm, metrics.ServerOptions{
			Address:  cfg.Metrics.Listen,
			Username: cfg.Metrics.Username,
			Password: cfg.Metrics.Password,
		})
	}

	p.ctrl, err = controller.New(controller.ConfigFrom(cfg), controller.Deps{
		Queue:      queue.New(cfg.Plotter.QueueCapacity),
		Translator: gcode.NewTranslator(),
		Link:       p.link,
		X:          x,
		Y:          y,
		Pen:        pen,
		Metrics:    pm,
	})
	if err != nil {
		p.close()
		return nil, err
	}
	if p.metrics != nil {
		ms := p.metrics
		p.ctrl.OnStateChange(func(_, s controller.RunState) {
			ms.SetReady(s == controller.StateRunning)
		})
	}
	return p, nil
}

func openLink(cfg *config.PlotterConfig, opts *options) (link, string, error) {
	switch {
	case opts.stdio:
		return transport.NewStream(os.Stdin, os.Stdout), "stdio", nil
	case cfg.Plotter.Listen != "":
		return transport.NewWebSocketListener(), "websocket " + cfg.Plotter.Listen, nil
	case cfg.Serial.Device != "":
		s, err := transport.OpenSerial(cfg.SerialConfig())
		if err != nil {
			return nil, "", err
		}
		return s, fmt.Sprintf("serial %s@%d", s.Device(), cfg.Serial.Baud), nil
	}
	return nil, "", errors.RuntimeErrorInit("transport",
		"no command source: set a serial device, --listen or --stdio")
}

// axis builds one motor on simulated pins with a real-time step clock.
// With simulate the carriage starts half its travel away from the switch.
func (p *plotter) axis(cfg *config.PlotterConfig, name string, simulate bool) (*stepper.Motor, error) {
	sc, ec, err := cfg.Axis(name)
	if err != nil {
		return nil, err
	}
	var start int64
	if simulate {
		start = int64(sc.MaxTravel * sc.StepsPerUnit / 2)
	}
	pins := sim.NewAxis(name, start, sc.InvertDir)
	clock := irq.NewTicker()
	p.clocks = append(p.clocks, clock)

	m := stepper.New(sc, pins, endstop.New(ec, pins), clock)
	p.motors = append(p.motors, m)

	p.log.WithFields(log.Fields{
		"axis":    name,
		"endstop": ec.Pin,
		"start":   start,
	}).Debug("axis configured")
	return m, nil
}

// run starts the step clocks and servers, then runs the controller until
// input ends, calibration halts or ctx is cancelled.
func (p *plotter) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	defer wg.Wait()
	defer cancel()

	for _, c := range p.clocks {
		wg.Add(1)
		go func(c *irq.Ticker) {
			defer wg.Done()
			c.Run(ctx)
		}(c)
	}

	if p.metrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.metrics.Run(ctx); err != nil {
				errCh <- err
			}
		}()
		p.log.WithField("address", p.metrics.Address()).Info("metrics server started")
	}
	if p.wsListener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.wsListener.ListenAndServe(ctx, p.listenAddr); err != nil {
				errCh <- err
			}
		}()
	}

	done := make(chan error, 1)
	go func() { done <- p.ctrl.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil || ctx.Err() != nil {
			return err
		}
		// The last acknowledged moves may still be stepping.
		for _, m := range p.motors {
			if m.WaitIdle(ctx) != nil {
				break
			}
		}
		return nil
	case err := <-errCh:
		cancel()
		<-done
		return err
	}
}

func (p *plotter) close() {
	if p.link != nil {
		if err := p.link.Close(); err != nil {
			p.log.WithError(err).Warn("closing transport")
		}
	}
}
