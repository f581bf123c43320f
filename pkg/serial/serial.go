// Package serial opens the raw 8N1 line the plotter host talks over.
//
// The port is put in non-canonical mode with every line discipline feature
// off, so carriage returns and newlines reach the reader untouched.
package serial

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultBaudRate is the mDraw host link speed.
const DefaultBaudRate = 115200

var (
	ErrTimeout = errors.New("serial: read timed out")
	ErrClosed  = errors.New("serial: port closed")
)

// Config describes a port.
type Config struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration // bounds a single Read
	AssertDTR   bool          // raise DTR and RTS after opening
}

// DefaultConfig returns 115200 baud, a 5 s read timeout and DTR asserted.
func DefaultConfig() Config {
	return Config{
		BaudRate:    DefaultBaudRate,
		ReadTimeout: 5 * time.Second,
		AssertDTR:   true,
	}
}

// Port is an open serial device.
type Port struct {
	device  string
	timeout time.Duration

	mu    sync.Mutex
	fd    int
	saved *unix.Termios
}

// Open resolves cfg.Device, configures it raw at cfg.BaudRate and returns
// it in blocking mode.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial: no device")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	speed, ok := baudConstant(cfg.BaudRate)
	if !ok {
		return nil, fmt.Errorf("serial: unsupported baud rate %d", cfg.BaudRate)
	}
	device, err := ResolveDevice(cfg.Device)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", device, err)
	}
	p := &Port{device: cfg.Device, timeout: cfg.ReadTimeout, fd: fd}
	if err := p.configure(speed, cfg.AssertDTR); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return p, nil
}

func (p *Port) configure(speed uint32, dtr bool) error {
	saved, err := unix.IoctlGetTermios(p.fd, reqGetTermios)
	if err != nil {
		return fmt.Errorf("serial: get attributes: %w", err)
	}
	raw := *saved
	makeRaw(&raw)
	setSpeed(&raw, speed)
	if err := unix.IoctlSetTermios(p.fd, reqSetTermios, &raw); err != nil {
		return fmt.Errorf("serial: set attributes: %w", err)
	}
	p.saved = saved

	if err := unix.SetNonblock(p.fd, false); err != nil {
		return fmt.Errorf("serial: set blocking: %w", err)
	}
	if dtr {
		// USB adapters without modem lines reject these ioctls.
		if bits, err := unix.IoctlGetInt(p.fd, unix.TIOCMGET); err == nil {
			_ = unix.IoctlSetPointerInt(p.fd, unix.TIOCMSET, bits|unix.TIOCM_DTR|unix.TIOCM_RTS)
		}
	}
	return nil
}

// makeRaw switches t to 8N1 with no input, output or local processing.
// Reads return after one tenth of a second without data.
func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 1
}

func (p *Port) handle() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd < 0 {
		return -1, ErrClosed
	}
	return p.fd, nil
}

// Read waits up to the read timeout for data. It returns ErrTimeout when
// nothing arrived and io.EOF when the device hung up.
func (p *Port) Read(buf []byte) (int, error) {
	fd, err := p.handle()
	if err != nil {
		return 0, err
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(p.timeout.Milliseconds()))
	switch {
	case errors.Is(err, unix.EINTR):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("serial: poll: %w", err)
	case n == 0:
		return 0, ErrTimeout
	case fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0:
		return 0, io.EOF
	}
	n, err = unix.Read(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: read: %w", err)
	}
	return n, nil
}

// Write writes buf, possibly partially.
func (p *Port) Write(buf []byte) (int, error) {
	fd, err := p.handle()
	if err != nil {
		return 0, err
	}
	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, fmt.Errorf("serial: write: %w", err)
	}
	return n, nil
}

// Flush drops unread input and unsent output.
func (p *Port) Flush() error {
	fd, err := p.handle()
	if err != nil {
		return err
	}
	return flush(fd)
}

// Close restores the line settings found at Open and closes the device.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd < 0 {
		return nil
	}
	if p.saved != nil {
		_ = unix.IoctlSetTermios(p.fd, reqSetTermios, p.saved)
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

// Device returns the path the port was opened with.
func (p *Port) Device() string { return p.device }

// ResolveDevice follows /dev/serial/by-id and by-path links to the tty.
func ResolveDevice(device string) (string, error) {
	if !strings.HasPrefix(device, "/dev/serial/") {
		return device, nil
	}
	resolved, err := filepath.EvalSymlinks(device)
	if err != nil {
		return "", fmt.Errorf("serial: resolve %s: %w", device, err)
	}
	return resolved, nil
}
