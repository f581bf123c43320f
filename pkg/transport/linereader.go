// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package transport

import (
	stderrors "errors"
	"io"

	"plotter-go/pkg/pool"
)

// DefaultMaxLineLength bounds one command line, terminator excluded.
const DefaultMaxLineLength = 64

// ErrLineTooLong reports a line that was dropped for exceeding the limit.
// The reader has already skipped past its terminator.
var ErrLineTooLong = stderrors.New("transport: line exceeds maximum length")

// LineReader splits a byte stream into lines of bounded length.
//
// Carriage returns are ignored. Blank lines are returned like any other
// line. A line longer than the limit is discarded in full, up to and
// including its newline.
type LineReader struct {
	src     io.ByteReader
	max     int
	buf     *pool.Buffer
	dropped int
}

// NewLineReader reads from src. A non-positive max selects
// DefaultMaxLineLength.
func NewLineReader(src io.ByteReader, max int) *LineReader {
	if max <= 0 {
		max = DefaultMaxLineLength
	}
	return &LineReader{src: src, max: max, buf: pool.Lines.Get()}
}

// MaxLength returns the line limit.
func (lr *LineReader) MaxLength() int { return lr.max }

// Dropped returns the byte count of the last discarded line.
func (lr *LineReader) Dropped() int { return lr.dropped }

// ReadLine returns the next line without its terminator. The slice is only
// valid until the next call. A non-empty unterminated final line is
// returned before io.EOF. ErrLineTooLong is not fatal: call again to
// continue with the following line.
func (lr *LineReader) ReadLine() ([]byte, error) {
	lr.buf.Reset()
	n := 0
	for {
		c, err := lr.src.ReadByte()
		if err != nil {
			if err == io.EOF && n > 0 && n <= lr.max {
				return lr.buf.Bytes(), nil
			}
			return nil, err
		}
		if c == '\n' {
			break
		}
		if c == '\r' {
			continue
		}
		n++
		if n <= lr.max {
			lr.buf.WriteByte(c)
		}
	}
	if n > lr.max {
		lr.dropped = n
		return nil, ErrLineTooLong
	}
	return lr.buf.Bytes(), nil
}

// Release returns the line buffer to its pool. The reader must not be
// used afterwards.
func (lr *LineReader) Release() {
	pool.Lines.Put(lr.buf)
	lr.buf = nil
}
