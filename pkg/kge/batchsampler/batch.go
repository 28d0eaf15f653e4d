// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package batchsampler

import (
	"fmt"
	"iter"

	"github.com/gomlx/kgshard/pkg/core/arrays"
	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/kge/dataset"
	"github.com/gomlx/kgshard/pkg/kge/negative"
	"github.com/gomlx/kgshard/pkg/kge/sharding"
	"github.com/pkg/errors"
)

// Token identifies one step of an iteration order. It is created by Order.Tokens and passed back to
// Sampler.Get.
type Token struct {
	Epoch, Step int
	Shuffle     bool
}

// String implements fmt.Stringer.
func (t Token) String() string {
	return fmt.Sprintf("Token(epoch=%d, step=%d, shuffle=%v)", t.Epoch, t.Step, t.Shuffle)
}

// Order is the iteration order of a sampler, returned by Sampler.DataloaderSampler.
type Order struct {
	length int
	tokens iter.Seq[Token]
}

// Len returns the number of tokens in the order, or -1 if it is unbounded.
func (o *Order) Len() int { return o.length }

// Tokens iterates over the tokens of the order.
func (o *Order) Tokens() iter.Seq[Token] { return o.tokens }

// Batch is one fully materialized step: BatchesPerStep sharded batches stacked in the leading axis.
//
// With n shards and P = ShardBatchSize/n positives per shard pair:
//
//   - Head, Relation, TripleMask and TripleWeight are shaped `[BatchesPerStep, n (head shard), n (tail shard), P]`.
//     Heads are local indices in the head shard, which is also the shard that processes the triple.
//   - Tail is shaped `[BatchesPerStep, n (tail shard), n (head shard), P]`: local indices in the tail shard,
//     laid out to be sent by the tail shard to the head shard in an all-to-all exchange.
//
// Padding entries have local index 0, relation 0 and mask false.
type Batch struct {
	Token Token

	Head, Relation, Tail *arrays.Array[int32]

	// TripleMask is true for real triples, false for padding.
	TripleMask *arrays.Array[bool]

	// TripleWeight is only set by samplers with frequency weighting that can't change the sampling
	// probabilities. It is 0 for padding.
	TripleWeight *arrays.Array[float32]

	// Negative candidates, nil if the sampler has no negative sampler.
	Negative *negative.Negatives

	// Duplicated is true if every array is made of two identical halves along its last axis.
	Duplicated bool
}

// BatchesPerStep is the leading dimension of the batch.
func (b *Batch) BatchesPerStep() int { return b.Head.Shape().Dim(0) }

// NShard is the number of shards of the batch.
func (b *Batch) NShard() int { return b.Head.Shape().Dim(1) }

// NumTriples returns the number of real (non-padding) triples in the batch, including the duplicated half.
func (b *Batch) NumTriples() int {
	return b.TripleMask.Count(func(v bool) bool { return v })
}

// String implements fmt.Stringer.
func (b *Batch) String() string {
	return fmt.Sprintf("Batch(%s, head=%s, %d triples, duplicated=%v)", b.Token, b.Head.Shape(), b.NumTriples(), b.Duplicated)
}

// Reconstruct returns, for each processing (head) shard, the real triples of the batch with global entity
// ids, in (step, tail shard, position) order.
//
// It returns an error wrapping kge.ErrValidation if the batch doesn't match the sharding or references
// a padding slot.
func (b *Batch) Reconstruct(sh *sharding.Sharding) ([][]dataset.Triple, error) {
	nShard := sh.NShard
	if b.Head.Rank() != 4 || b.NShard() != nShard || b.Head.Shape().Dim(2) != nShard {
		return nil, errors.Wrapf(kge.ErrValidation, "batch shaped %s doesn't match a sharding with %d shards",
			b.Head.Shape(), nShard)
	}
	dims := b.Head.Shape().Dimensions
	if !b.Relation.Shape().EqualDimensions(b.Head.Shape()) || !b.Tail.Shape().EqualDimensions(b.Head.Shape()) ||
		!b.TripleMask.Shape().EqualDimensions(b.Head.Shape()) {
		return nil, errors.Wrapf(kge.ErrValidation, "batch arrays have inconsistent shapes: head=%s, relation=%s, tail=%s, mask=%s",
			b.Head.Shape(), b.Relation.Shape(), b.Tail.Shape(), b.TripleMask.Shape())
	}
	steps, perPartition := dims[0], dims[3]
	triples := make([][]dataset.Triple, nShard)
	for h := range nShard {
		for step := range steps {
			for t := range nShard {
				for p := range perPartition {
					if !b.TripleMask.At(step, h, t, p) {
						continue
					}
					localHead, localTail := b.Head.At(step, h, t, p), b.Tail.At(step, t, h, p)
					if int(localHead) >= sh.MaxEntityPerShard || int(localTail) >= sh.MaxEntityPerShard ||
						localHead < 0 || localTail < 0 {
						return nil, errors.Wrapf(kge.ErrValidation, "batch entry [%d, %d, %d, %d] has local indices out of range",
							step, h, t, p)
					}
					head, tail := sh.Entity(int32(h), localHead), sh.Entity(int32(t), localTail)
					if head == sharding.PaddingEntity || tail == sharding.PaddingEntity {
						return nil, errors.Wrapf(kge.ErrValidation, "batch entry [%d, %d, %d, %d] references a padding slot",
							step, h, t, p)
					}
					triples[h] = append(triples[h], dataset.Triple{Head: head, Relation: b.Relation.At(step, h, t, p), Tail: tail})
				}
			}
		}
	}
	return triples, nil
}

// CheckDuplicated verifies that every array of a duplicated batch is made of two identical halves
// along its last axis. It returns an error wrapping kge.ErrValidation otherwise.
func (b *Batch) CheckDuplicated() error {
	if !b.Duplicated {
		return errors.Wrapf(kge.ErrValidation, "%s is not duplicated", b)
	}
	if err := checkHalves("head", b.Head); err != nil {
		return err
	}
	if err := checkHalves("relation", b.Relation); err != nil {
		return err
	}
	if err := checkHalves("tail", b.Tail); err != nil {
		return err
	}
	if err := checkHalves("triple_mask", b.TripleMask); err != nil {
		return err
	}
	if b.TripleWeight != nil {
		if err := checkHalves("triple_weight", b.TripleWeight); err != nil {
			return err
		}
	}
	if b.Negative != nil {
		if err := checkHalves("negative", b.Negative.Entities); err != nil {
			return err
		}
	}
	return nil
}

func checkHalves[T arrays.Element](name string, a *arrays.Array[T]) error {
	if a.Rank() == 0 || a.Shape().Dim(-1)%2 != 0 {
		return errors.Wrapf(kge.ErrValidation, "%s shaped %s can't be split in two halves", name, a.Shape())
	}
	first, second := a.SplitLastAxis()
	if !first.Equal(second) {
		return errors.Wrapf(kge.ErrValidation, "%s halves differ", name)
	}
	return nil
}

// Positives returns the positive triples of the batch without the duplicated half, in the layout used by the
// negative samplers.
func (b *Batch) Positives() *negative.Positives {
	if !b.Duplicated {
		return &negative.Positives{Head: b.Head, Relation: b.Relation, Tail: b.Tail}
	}
	head, _ := b.Head.SplitLastAxis()
	relation, _ := b.Relation.SplitLastAxis()
	tail, _ := b.Tail.SplitLastAxis()
	return &negative.Positives{Head: head, Relation: relation, Tail: tail}
}
