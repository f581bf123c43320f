// plotterd runs the plotter command pipeline on a host.
//
// Commands arrive on a serial port, on stdin, or from a single websocket
// client. Motion is carried out on simulated step/dir pins and a simulated
// pen PWM, stepped in real time.
//
// Usage:
//
//	plotterd --config plotter.cfg [flags]
//
// Examples:
//
//	# Serial link as configured in [serial]
//	plotterd --config ~/plotter.cfg
//
//	# Pipe a drawing through stdin, replies on stdout
//	plotterd --stdio --simulate < drawing.gcode
//
//	# Accept a websocket client and expose metrics
//	plotterd --listen :8080 --metrics :9100
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"plotter-go/pkg/config"
	"plotter-go/pkg/log"
)

// options holds the command line flags.
type options struct {
	configFile string
	device     string
	baud       int
	stdio      bool
	listen     string
	simulate   bool
	metrics    string
	logLevel   string
	logFormat  string
	logFile    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "plotterd",
		Short: "XY plotter command host",
		Long: `plotterd accepts mDraw plotter commands, homes both axes and drives the
pen and stepper motors, acknowledging every command line.

Configuration is read from an INI (.cfg) or YAML (.yaml/.yml) file and can be
overridden with PLOTTER_* environment variables and the flags below.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "configuration file (.cfg, .yaml or .yml)")
	f.StringVar(&opts.device, "device", "", "serial device, overrides [serial] device")
	f.IntVar(&opts.baud, "baud", 0, "serial baud rate, overrides [serial] baud")
	f.BoolVar(&opts.stdio, "stdio", false, "read commands from stdin and reply on stdout")
	f.StringVar(&opts.listen, "listen", "", "serve one websocket client on this address")
	f.BoolVar(&opts.simulate, "simulate", false, "start the simulated carriage away from the endstops")
	f.StringVar(&opts.metrics, "metrics", "", "metrics server address, overrides [metrics] listen")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	f.StringVar(&opts.logFormat, "log-format", "", "log format (text|json)")
	f.StringVar(&opts.logFile, "logfile", "", "also write logs to this rotated file")

	cmd.MarkFlagsMutuallyExclusive("stdio", "listen", "device")
	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	fw, err := log.Setup(log.Options{
		Level:   opts.logLevel,
		Format:  opts.logFormat,
		LogFile: opts.logFile,
	})
	if err != nil {
		return err
	}
	if fw != nil {
		defer fw.Close()
	}
	logger := log.GetLogger("plotterd")

	cfg, err := config.LoadPlotterConfig(opts.configFile)
	if err != nil {
		return err
	}
	applyFlags(cmd, opts, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := assemble(cfg, opts)
	if err != nil {
		return err
	}
	defer p.close()

	logger.WithFields(log.Fields{
		"config":    opts.configFile,
		"transport": p.transportName,
		"session":   p.ctrl.Session(),
	}).Info("plotter starting")

	err = p.run(ctx)
	if err != nil {
		logger.WithError(err).Error("plotter stopped")
		return err
	}
	logger.Info("plotter stopped")
	return nil
}

// applyFlags layers explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, opts *options, cfg *config.PlotterConfig) {
	f := cmd.Flags()
	if f.Changed("device") {
		cfg.Serial.Device = opts.device
	}
	if f.Changed("baud") {
		cfg.Serial.Baud = opts.baud
	}
	if f.Changed("listen") {
		cfg.Plotter.Listen = opts.listen
	}
	if f.Changed("metrics") {
		cfg.Metrics.Listen = opts.metrics
	}
}
