// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transport

import (
	stderrors "errors"
	"io"
	"sync"

	"plotter-go/pkg/errors"
	"plotter-go/pkg/serial"
)

// Serial is a Transport over a raw serial port. Read timeouts are retried,
// so ReadByte blocks until data arrives or the port is closed.
type Serial struct {
	port *serial.Port
	rbuf [64]byte
	r, n int

	wmu sync.Mutex
}

// OpenSerial opens the serial device described by cfg.
func OpenSerial(cfg serial.Config) (*Serial, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, errors.TransportError(errors.ErrTransportOpen, cfg.Device, err)
	}
	_ = port.Flush()
	return &Serial{port: port}, nil
}

func (s *Serial) ReadByte() (byte, error) {
	for s.r == s.n {
		n, err := s.port.Read(s.rbuf[:])
		switch {
		case err == nil:
			s.r, s.n = 0, n
		case stderrors.Is(err, serial.ErrTimeout):
			continue
		case stderrors.Is(err, serial.ErrClosed), err == io.EOF:
			return 0, io.EOF
		default:
			return 0, errors.TransportError(errors.ErrTransportRead, s.port.Device(), err)
		}
	}
	c := s.rbuf[s.r]
	s.r++
	return c, nil
}

func (s *Serial) WriteLine(line string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	buf := []byte(line + "\n")
	for len(buf) > 0 {
		n, err := s.port.Write(buf)
		if err != nil {
			return errors.TransportError(errors.ErrTransportWrite, s.port.Device(), err)
		}
		buf = buf[n:]
	}
	return nil
}

func (s *Serial) Close() error {
	return s.port.Close()
}

// Device returns the port device path.
func (s *Serial) Device() string { return s.port.Device() }
