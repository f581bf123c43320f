// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package queue implements the bounded command channel between the
// ingestion and dispatch loops.
package queue

import (
	"context"
	"sync"
	"sync/atomic"

	"plotter-go/pkg/command"
	"plotter-go/pkg/errors"
)

// DefaultCapacity is the queue depth used when none is configured.
const DefaultCapacity = 10

// ErrClosed is returned by Receive once the queue is closed and drained,
// and by Send after Close.
var ErrClosed = errors.New(errors.ErrQueueClosed, "command queue closed")

// Queue is a fixed-capacity FIFO of Instruction values. Send blocks while
// the queue is full and Receive blocks while it is empty; nothing is ever
// dropped or reordered.
//
// A Queue has a single producer, which is the only caller allowed to Close.
type Queue struct {
	ch        chan command.Instruction
	closed    atomic.Bool
	closeOnce sync.Once
	highWater atomic.Int64
}

// New creates a queue holding at most capacity instructions.
// A non-positive capacity selects DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan command.Instruction, capacity)}
}

// Send enqueues ins, waiting for room. It returns ctx.Err() if ctx is
// cancelled first.
func (q *Queue) Send(ctx context.Context, ins command.Instruction) error {
	if q.closed.Load() {
		return ErrClosed
	}
	select {
	case q.ch <- ins:
		q.observeDepth()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive dequeues the oldest instruction, waiting for one to arrive.
// After Close it keeps returning buffered entries, then ErrClosed.
func (q *Queue) Receive(ctx context.Context) (command.Instruction, error) {
	select {
	case ins, ok := <-q.ch:
		if !ok {
			return command.Instruction{}, ErrClosed
		}
		return ins, nil
	case <-ctx.Done():
		return command.Instruction{}, ctx.Err()
	}
}

// Close marks the end of input.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.ch)
	})
}

// Len returns the number of enqueued but not yet received instructions.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// HighWater returns the largest depth observed after a Send.
func (q *Queue) HighWater() int { return int(q.highWater.Load()) }

func (q *Queue) observeDepth() {
	d := int64(len(q.ch))
	for {
		hw := q.highWater.Load()
		if d <= hw || q.highWater.CompareAndSwap(hw, d) {
			return
		}
	}
}
