package serial

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BaudRate != 115200 || cfg.ReadTimeout != 5*time.Second || !cfg.AssertDTR {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestOpenRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no device", Config{}},
		{"missing device", Config{Device: "/dev/does-not-exist-plotter"}},
		{"odd baud", Config{Device: "/dev/null", BaudRate: 12345}},
		{"dangling by-id", Config{Device: "/dev/serial/by-id/none-such"}},
	}
	for _, tt := range tests {
		if _, err := Open(tt.cfg); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
	}
}

func TestOpenNonTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(Config{Device: path}); err == nil {
		t.Error("a regular file has no line settings")
	}
}

func TestBaudConstant(t *testing.T) {
	for _, baud := range []int{9600, 57600, 115200, 230400} {
		if s, ok := baudConstant(baud); !ok || s == 0 {
			t.Errorf("baud %d not supported", baud)
		}
	}
	if _, ok := baudConstant(31337); ok {
		t.Error("31337 must be rejected")
	}
}

func TestMakeRaw(t *testing.T) {
	var tio unix.Termios
	tio.Iflag = unix.ICRNL | unix.IXON
	tio.Oflag = unix.OPOST
	tio.Lflag = unix.ICANON | unix.ECHO
	tio.Cflag = unix.PARENB | unix.CSTOPB

	makeRaw(&tio)

	if tio.Iflag&(unix.ICRNL|unix.IXON) != 0 {
		t.Error("input translation left on")
	}
	if tio.Oflag&unix.OPOST != 0 || tio.Lflag&(unix.ICANON|unix.ECHO) != 0 {
		t.Error("output or local processing left on")
	}
	if tio.Cflag&(unix.PARENB|unix.CSTOPB) != 0 || tio.Cflag&unix.CS8 == 0 {
		t.Error("expected 8N1")
	}
	if tio.Cc[unix.VMIN] != 0 || tio.Cc[unix.VTIME] != 1 {
		t.Error("unexpected read timing")
	}
}

func TestClosedPort(t *testing.T) {
	p := &Port{device: "test", fd: -1}
	if _, err := p.Read(make([]byte, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Read: %v", err)
	}
	if _, err := p.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Write: %v", err)
	}
	if err := p.Flush(); !errors.Is(err, ErrClosed) {
		t.Errorf("Flush: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestResolveDevicePassthrough(t *testing.T) {
	got, err := ResolveDevice("/dev/ttyUSB0")
	if err != nil || got != "/dev/ttyUSB0" {
		t.Errorf("ResolveDevice = %q, %v", got, err)
	}
}
