// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package loader prefetches sharded batches in parallel.
//
// A Loader runs one batch sampler per worker goroutine, each built by a Factory with its own worker index
// (so each has its own random streams). Tokens of the iteration order are dealt round-robin to the workers,
// and batches are returned in token order: for a fixed parallelism, the sequence of batches is
// deterministic.
//
// Example:
//
//	l, err := loader.New(factory).Parallelism(4).Buffer(2).Shuffle(true).Start(ctx)
//	if err != nil { ... }
//	defer l.Close()
//	for {
//		batch, err := l.Yield()
//		if err == io.EOF {
//			break
//		}
//		...
//	}
package loader

import (
	"context"
	"io"
	"runtime"
	"sync"

	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/kge/batchsampler"
	"github.com/gomlx/kgshard/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Factory builds the sampler of a worker. Implementations should set batchsampler.Config.Worker to
// the worker index, so workers use different random streams.
type Factory func(worker int) (batchsampler.Sampler, error)

// Loader runs samplers in parallel, see package documentation.
type Loader struct {
	factory     Factory
	parallelism int
	bufferSize  int
	shuffle     bool
	firstEpoch  int

	ctx      context.Context
	cancel   context.CancelFunc
	samplers []batchsampler.Sampler
	current  *epoch
	closed   *xsync.Latch
}

type result struct {
	batch *batchsampler.Batch
	err   error
}

// epoch holds the goroutines serving one iteration order.
type epoch struct {
	order   *batchsampler.Order
	cancel  context.CancelFunc
	outputs []chan result
	next    int
	failed  error
	done    *xsync.Latch
}

// New creates a Loader that builds its samplers with factory. It can be further configured
// (see Parallelism, Buffer and Shuffle) before calling Start.
func New(factory Factory) *Loader {
	l := &Loader{factory: factory, bufferSize: 1}
	l.Parallelism(0)
	return l
}

// Parallelism sets the number of worker goroutines (and samplers). If n <= 0, it uses the number of cores.
// It must be called before Start.
func (l *Loader) Parallelism(n int) *Loader {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	l.parallelism = n
	return l
}

// Buffer sets the number of batches each worker can have prefetched. It must be called before Start.
func (l *Loader) Buffer(n int) *Loader {
	l.bufferSize = max(n, 0)
	return l
}

// Shuffle sets whether the iteration orders are shuffled. It must be called before Start.
func (l *Loader) Shuffle(shuffle bool) *Loader {
	l.shuffle = shuffle
	return l
}

// EpochSetter is implemented by samplers whose iteration orders are numbered by epoch, like
// batchsampler.Rigid.
type EpochSetter interface {
	SetEpoch(epoch int)
}

// FromEpoch sets the epoch of the first iteration order, to resume an interrupted run. If epoch > 0,
// the samplers must implement EpochSetter. It must be called before Start.
func (l *Loader) FromEpoch(epoch int) *Loader {
	l.firstEpoch = epoch
	return l
}

// Start builds the samplers and starts prefetching the first epoch. Cancelling ctx stops the workers,
// and subsequent calls to Yield return the context error.
func (l *Loader) Start(ctx context.Context) (*Loader, error) {
	if l.samplers != nil {
		return nil, errors.Wrap(kge.ErrConfiguration, "Loader.Start() called more than once")
	}
	if l.factory == nil {
		return nil, errors.Wrap(kge.ErrConfiguration, "Loader requires a sampler factory")
	}
	samplers := make([]batchsampler.Sampler, l.parallelism)
	for worker := range samplers {
		sampler, err := l.factory(worker)
		if err != nil {
			return nil, errors.WithMessagef(err, "building sampler for worker %d", worker)
		}
		if worker > 0 && sampler.NShard() != samplers[0].NShard() {
			return nil, errors.Wrapf(kge.ErrConfiguration, "worker %d sampler has %d shards, worker 0 has %d",
				worker, sampler.NShard(), samplers[0].NShard())
		}
		samplers[worker] = sampler
	}
	if l.firstEpoch < 0 {
		return nil, errors.Wrapf(kge.ErrConfiguration, "Loader.FromEpoch(%d) requires a non-negative epoch", l.firstEpoch)
	}
	if l.firstEpoch > 0 {
		setter, ok := samplers[0].(EpochSetter)
		if !ok {
			return nil, errors.Wrapf(kge.ErrConfiguration, "Loader.FromEpoch(%d): sampler %T has no epochs", l.firstEpoch, samplers[0])
		}
		// Only the first sampler issues iteration orders.
		setter.SetEpoch(l.firstEpoch)
	}
	l.samplers = samplers
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.closed = xsync.NewLatch()
	l.startEpoch()
	klog.V(1).Infof("loader started with %d workers, buffer %d, shuffle=%v, first epoch %d",
		l.parallelism, l.bufferSize, l.shuffle, l.firstEpoch)
	return l, nil
}

// Len returns the number of batches in the current epoch, or -1 if unbounded.
func (l *Loader) Len() int {
	if l.current == nil {
		return 0
	}
	return l.current.order.Len()
}

// startEpoch gets a new iteration order from the first sampler and starts the workers.
func (l *Loader) startEpoch() {
	ctx, cancel := context.WithCancel(l.ctx)
	e := &epoch{
		order:   l.samplers[0].DataloaderSampler(l.shuffle),
		cancel:  cancel,
		outputs: make([]chan result, l.parallelism),
		done:    xsync.NewLatch(),
	}
	var wg sync.WaitGroup
	for worker, sampler := range l.samplers {
		output := make(chan result, l.bufferSize)
		e.outputs[worker] = output
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(output)
			l.work(ctx, e.order, worker, sampler, output)
		}()
	}
	go func() {
		wg.Wait()
		e.done.Trigger()
	}()
	l.current = e
}

// work produces the batches of the tokens dealt to the worker, in order.
func (l *Loader) work(ctx context.Context, order *batchsampler.Order, worker int, sampler batchsampler.Sampler, output chan<- result) {
	var position int
	for token := range order.Tokens() {
		mine := position%l.parallelism == worker
		position++
		if !mine {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		batch, err := sampler.Get(token)
		if err != nil {
			err = errors.WithMessagef(err, "worker %d failed to get %s", worker, token)
			klog.Errorf("%+v", err)
		}
		select {
		case <-ctx.Done():
			return
		case output <- result{batch: batch, err: err}:
		}
		if err != nil {
			return
		}
	}
}

// Yield returns the next batch, in token order. It returns io.EOF at the end of a finite order (see Reset),
// the context error if the context was cancelled, or the first sampler error.
func (l *Loader) Yield() (*batchsampler.Batch, error) {
	if l.current == nil || l.closed.Test() {
		return nil, errors.New("Loader.Yield() called before Start() or after Close()")
	}
	e := l.current
	if e.failed != nil {
		return nil, e.failed
	}
	if err := l.ctx.Err(); err != nil {
		return nil, err
	}
	output := e.outputs[e.next%l.parallelism]
	select {
	case <-l.ctx.Done():
		return nil, l.ctx.Err()
	case r, ok := <-output:
		if !ok {
			// The worker of the next token finished: either the order is exhausted or the context was cancelled.
			if err := l.ctx.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		if r.err != nil {
			e.failed = r.err
			e.cancel()
			return nil, r.err
		}
		e.next++
		return r.batch, nil
	}
}

// Reset stops the current epoch, discarding prefetched batches, and starts the next one.
func (l *Loader) Reset() error {
	if l.current == nil || l.closed.Test() {
		return errors.New("Loader.Reset() called before Start() or after Close()")
	}
	l.stopEpoch()
	if err := l.ctx.Err(); err != nil {
		return err
	}
	l.startEpoch()
	return nil
}

// stopEpoch cancels the workers of the current epoch and waits for them to exit.
func (l *Loader) stopEpoch() {
	e := l.current
	e.cancel()
	e.done.Wait()
	klog.V(2).Infof("loader: epoch stopped after %d batches", e.next)
}

// Close stops all goroutines. The Loader can't be used afterwards.
func (l *Loader) Close() {
	if l.current == nil || l.closed.Test() {
		return
	}
	l.closed.Trigger()
	l.stopEpoch()
	l.cancel()
}
