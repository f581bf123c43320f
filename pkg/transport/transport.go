// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package transport carries command text in and acknowledgement lines out.
//
// Every transport reads bytes and writes whole lines. Framing is left to
// LineReader so that all transports share one overlong-line policy.
package transport

import (
	"bufio"
	"io"
	"sync"

	"plotter-go/pkg/errors"
)

// Transport is a character-oriented command link.
//
// ReadByte blocks until a byte is available and returns io.EOF at end of
// input. WriteLine appends the newline itself. ReadByte and WriteLine may
// be called from different goroutines.
type Transport interface {
	ReadByte() (byte, error)
	WriteLine(line string) error
	Close() error
}

// Stream is a Transport over a plain reader and writer, e.g. stdin/stdout
// or a pipe.
type Stream struct {
	r      *bufio.Reader
	wmu    sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewStream wraps r and w. If r implements io.Closer, Close closes it.
func NewStream(r io.Reader, w io.Writer) *Stream {
	s := &Stream{r: bufio.NewReader(r), w: w}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *Stream) ReadByte() (byte, error) {
	return s.r.ReadByte()
}

func (s *Stream) WriteLine(line string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := io.WriteString(s.w, line+"\n"); err != nil {
		return errors.TransportError(errors.ErrTransportWrite, "stream", err)
	}
	return nil
}

func (s *Stream) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
