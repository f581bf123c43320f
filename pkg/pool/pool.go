// Object pools for the per-line hot path
//
// Recycles the short-lived objects built for every command line: argument
// maps, positional word slices and line buffers.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pool

import "sync"

// Pool is a typed sync.Pool. Values are reset on Put and dropped instead
// when keep rejects them.
type Pool[T any] struct {
	p     sync.Pool
	reset func(T)
	keep  func(T) bool
}

// New returns a pool that makes values with mk.
func New[T any](mk func() T, reset func(T), keep func(T) bool) *Pool[T] {
	pl := &Pool[T]{reset: reset, keep: keep}
	pl.p.New = func() any { return mk() }
	return pl
}

// Get returns a reset value.
func (pl *Pool[T]) Get() T { return pl.p.Get().(T) }

// Put hands v back.
func (pl *Pool[T]) Put(v T) {
	if pl.keep != nil && !pl.keep(v) {
		return
	}
	if pl.reset != nil {
		pl.reset(v)
	}
	pl.p.Put(v)
}

const (
	maxWords     = 256
	maxLineBytes = 4096
)

// Args holds lettered arguments keyed by upper-case letter.
var Args = New(
	func() map[string]string { return make(map[string]string, 8) },
	func(m map[string]string) { clear(m) },
	func(m map[string]string) bool { return m != nil },
)

// Words holds bare numeric arguments in order of appearance.
var Words = New(
	func() *[]string { s := make([]string, 0, 8); return &s },
	func(s *[]string) { clear(*s); *s = (*s)[:0] },
	func(s *[]string) bool { return s != nil && cap(*s) <= maxWords },
)

// Lines holds line buffers sized for one command.
var Lines = New(
	func() *Buffer { return &Buffer{b: make([]byte, 0, 64)} },
	(*Buffer).Reset,
	func(b *Buffer) bool { return b != nil && cap(b.b) <= maxLineBytes },
)

// Buffer accumulates one line.
type Buffer struct{ b []byte }

func (b *Buffer) WriteByte(c byte) error {
	b.b = append(b.b, c)
	return nil
}

// Bytes aliases the contents until the next write or Reset.
func (b *Buffer) Bytes() []byte { return b.b }
func (b *Buffer) Len() int { return len(b.b) }
func (b *Buffer) Reset() { b.b = b.b[:0] }
