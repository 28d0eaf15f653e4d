// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements extra synchronization tools used by the parallel loader.
package xsync

import "sync"

// Latch is a signal that can be waited for until it is triggered.
// Once triggered it is forever triggered.
type Latch struct {
	once sync.Once
	wait chan struct{}
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{wait: make(chan struct{})}
}

// Trigger the latch. Extra calls are no-ops.
func (l *Latch) Trigger() {
	l.once.Do(func() { close(l.wait) })
}

// Wait blocks until the latch is triggered.
func (l *Latch) Wait() {
	<-l.wait
}

// Test returns whether the latch has been triggered.
func (l *Latch) Test() bool {
	select {
	case <-l.wait:
		return true
	default:
		return false
	}
}

// WaitChan returns a channel closed when the latch is triggered, to be used in a `select`.
func (l *Latch) WaitChan() <-chan struct{} {
	return l.wait
}

// LatchWithValue is a Latch that carries the value given by the first call to Trigger.
type LatchWithValue[T any] struct {
	latch *Latch
	value T
}

// NewLatchWithValue returns an un-triggered latch.
func NewLatchWithValue[T any]() *LatchWithValue[T] {
	return &LatchWithValue[T]{latch: NewLatch()}
}

// Trigger the latch with the given value. Values of extra calls are discarded.
func (l *LatchWithValue[T]) Trigger(value T) {
	l.latch.once.Do(func() {
		l.value = value
		close(l.latch.wait)
	})
}

// Wait blocks until the latch is triggered and returns its value.
func (l *LatchWithValue[T]) Wait() T {
	l.latch.Wait()
	return l.value
}

// Test returns whether the latch has been triggered.
func (l *LatchWithValue[T]) Test() bool { return l.latch.Test() }

// WaitChan returns a channel closed when the latch is triggered.
func (l *LatchWithValue[T]) WaitChan() <-chan struct{} { return l.latch.WaitChan() }
