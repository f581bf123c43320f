package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plotter-go/pkg/errors"
	"plotter-go/pkg/serial"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60.0, cfg.Plotter.BaseRate)
	assert.Equal(t, 60.0, cfg.Plotter.HomingRate)
	assert.Equal(t, DefaultBanner, cfg.Plotter.Banner)
	assert.Equal(t, CalibrationHalt, cfg.Plotter.CalibrationFailure)
	assert.Equal(t, 10, cfg.Plotter.QueueCapacity)
	assert.Equal(t, 64, cfg.Plotter.MaxLineLength)
	assert.Equal(t, serial.DefaultBaudRate, cfg.Serial.Baud)
}

func TestLoadPlotterConfigEmptyPath(t *testing.T) {
	cfg, err := LoadPlotterConfig("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadPlotterConfigINI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plotter.cfg")
	writeFile(t, path, `
[plotter]
base_rate: 90
calibration_failure: proceed
queue_capacity: 4
listen: :8081

[serial]
device: /dev/ttyUSB0
baud: 250000

[stepper_x]
dir_pin: !x_dir
endstop_pin: ^!x_stop
steps_per_unit: 80
max_travel: 380
homing_timeout: 12.5

[servo pen]
initial_angle: 90

[metrics]
listen: :9100
username: admin
password: secret
`)

	cfg, err := LoadPlotterConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 90.0, cfg.Plotter.BaseRate)
	assert.Equal(t, CalibrationProceed, cfg.Plotter.CalibrationFailure)
	assert.Equal(t, 4, cfg.Plotter.QueueCapacity)
	assert.Equal(t, ":8081", cfg.Plotter.Listen)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Device)
	assert.Equal(t, 250000, cfg.Serial.Baud)
	assert.Equal(t, 80.0, cfg.StepperX.StepsPerUnit)
	assert.Equal(t, 12500*time.Millisecond, cfg.StepperX.HomingTimeout)
	assert.Equal(t, Defaults().StepperY, cfg.StepperY, "absent section keeps defaults")
	require.NotNil(t, cfg.Pen.InitialAngle)
	assert.Equal(t, 90.0, *cfg.Pen.InitialAngle)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)
	assert.Equal(t, "admin", cfg.Metrics.Username)

	sc, ec, err := cfg.Axis("x")
	require.NoError(t, err)
	assert.Equal(t, "x", sc.Name)
	assert.True(t, sc.InvertDir)
	assert.Equal(t, 380.0, sc.MaxTravel)
	assert.Equal(t, "x_stop", ec.Pin)
	assert.True(t, ec.Inverted)

	sc, ec, err = cfg.Axis("y")
	require.NoError(t, err)
	assert.False(t, sc.InvertDir)
	assert.False(t, ec.Inverted)

	sp := cfg.SerialConfig()
	assert.Equal(t, "/dev/ttyUSB0", sp.Device)
	assert.Equal(t, 250000, sp.BaudRate)
}

func TestLoadPlotterConfigINIRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"zero base rate", "[plotter]\nbase_rate: 0\n"},
		{"bad policy", "[plotter]\ncalibration_failure: retry\n"},
		{"zero queue", "[plotter]\nqueue_capacity: 0\n"},
		{"non-numeric", "[stepper_y]\nmax_rate: fast\n"},
		{"negative timeout", "[stepper_y]\nhoming_timeout: -1\n"},
		{"pulse widths", "[servo pen]\nminimum_pulse_width: 0.003\nmaximum_pulse_width: 0.002\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "plotter.cfg")
			writeFile(t, path, tt.data)
			_, err := LoadPlotterConfig(path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfigValidation), "got %v", err)
		})
	}
}

func TestLoadPlotterConfigMissingFile(t *testing.T) {
	_, err := LoadPlotterConfig(filepath.Join(t.TempDir(), "absent.cfg"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigLoad))
}

func TestLoadPlotterConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plotter.yaml")
	writeFile(t, path, `
plotter:
  base_rate: 45
  banner: "M10 XY 200 200"
stepper_y:
  dir_pin: "!y_dir"
  homing_timeout: 5s
pen:
  maximum_servo_angle: 170
`)

	cfg, err := LoadPlotterConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 45.0, cfg.Plotter.BaseRate)
	assert.Equal(t, "M10 XY 200 200", cfg.Plotter.Banner)
	assert.Equal(t, 60.0, cfg.Plotter.HomingRate, "unset keys keep defaults")
	assert.Equal(t, 5*time.Second, cfg.StepperY.HomingTimeout)
	assert.Equal(t, 170.0, cfg.Pen.MaximumServoAngle)

	sc, _, err := cfg.Axis("y")
	require.NoError(t, err)
	assert.True(t, sc.InvertDir)
}

func TestLoadPlotterConfigYAMLMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plotter.yml")
	writeFile(t, path, "plotter: [unterminated\n")
	_, err := LoadPlotterConfig(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigLoad))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PLOTTER_DEVICE", "/dev/ttyACM1")
	t.Setenv("PLOTTER_BAUD", "57600")
	t.Setenv("PLOTTER_BASE_RATE", "75")
	t.Setenv("PLOTTER_LISTEN", "127.0.0.1:8080")
	t.Setenv("PLOTTER_METRICS_LISTEN", ":9200")
	t.Setenv("PLOTTER_X_HOMING_TIMEOUT", "3s")

	path := filepath.Join(t.TempDir(), "plotter.cfg")
	writeFile(t, path, "[serial]\ndevice: /dev/ttyUSB0\n[plotter]\nbase_rate: 30\n")

	cfg, err := LoadPlotterConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM1", cfg.Serial.Device, "environment wins over file")
	assert.Equal(t, 57600, cfg.Serial.Baud)
	assert.Equal(t, 75.0, cfg.Plotter.BaseRate)
	assert.Equal(t, "127.0.0.1:8080", cfg.Plotter.Listen)
	assert.Equal(t, ":9200", cfg.Metrics.Listen)
	assert.Equal(t, 3*time.Second, cfg.StepperX.HomingTimeout)
	assert.Equal(t, Defaults().StepperY.HomingTimeout, cfg.StepperY.HomingTimeout)
}

func TestEnvOverrideInvalid(t *testing.T) {
	t.Setenv("PLOTTER_BAUD", "fast")
	_, err := LoadPlotterConfig("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigOption))
}

func TestAxisUnknown(t *testing.T) {
	_, _, err := Defaults().Axis("z")
	assert.Error(t, err)
}

func TestPenConfig(t *testing.T) {
	cfg := Defaults()
	angle := 45.0
	cfg.Pen.InitialAngle = &angle
	pc, err := cfg.PenConfig()
	require.NoError(t, err)
	assert.Equal(t, "pen", pc.Name)
	assert.Equal(t, &angle, pc.InitialAngle)

	cfg.Pen.MaximumServoAngle = 0
	_, err = cfg.PenConfig()
	assert.True(t, errors.Is(err, errors.ErrConfigValidation))
}
