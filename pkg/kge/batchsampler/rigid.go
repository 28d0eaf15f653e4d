// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package batchsampler

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/kge/dataset"
	"github.com/gomlx/kgshard/pkg/kge/negative"
	"github.com/gomlx/kgshard/pkg/kge/sharding"
	"github.com/gomlx/kgshard/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// rigidPlanSalt separates the seeds of the epoch plans from the random streams of the workers.
const rigidPlanSalt = 0x5A17_3C0D_E9B2_4F61

// Rigid visits every triple of the split exactly once per epoch.
//
// Each (head shard, tail shard) partition is laid out in its own sequence of triples: in split order, or
// shuffled with a permutation derived from (Seed, epoch). Every sequence is padded to the length of the
// longest one, rounded up to a whole number of steps, so the number of steps per epoch is set by the
// largest partition. Padding entries are masked out.
//
// The plan of an epoch is a pure function of (Seed, epoch, shuffle): any Rigid sampler with the same
// Config serves any token, which is what allows several workers to split the steps of one epoch.
//
// With Config.HRTFreqWeighting the triples are still visited once per epoch, and their weights are
// returned in Batch.TripleWeight.
type Rigid struct {
	*base
	stepsPerEpoch int
	epoch         int

	// Cached plan of the last epoch used.
	cachedKey  planKey
	cachedPlan [][]int32
}

type planKey struct {
	epoch   int
	shuffle bool
	valid   bool
}

var _ Sampler = (*Rigid)(nil)

// NewRigid creates a Rigid batch sampler. negSampler may be nil, in which case batches have no negatives.
func NewRigid(ds *dataset.Dataset, sh *sharding.Sharding, negSampler negative.Sampler, config Config) (*Rigid, error) {
	b, err := newBase(ds, sh, negSampler, config)
	if err != nil {
		return nil, err
	}
	perStep := config.BatchesPerStep * b.perPartition
	r := &Rigid{
		base:          b,
		stepsPerEpoch: max(1, xslices.CeilDiv(b.parts.maxCount(), perStep)),
	}
	klog.V(1).Infof("created %s", r)
	return r, nil
}

// String implements fmt.Stringer.
func (r *Rigid) String() string {
	return fmt.Sprintf("Rigid batch sampler: %d shards, %s steps per epoch, %s",
		r.sharding.NShard, humanize.Comma(int64(r.stepsPerEpoch)), r.config)
}

// StepsPerEpoch returns the number of steps needed to visit every triple of the split once.
func (r *Rigid) StepsPerEpoch() int { return r.stepsPerEpoch }

// planSeed returns the seed used to shuffle the given epoch.
func (r *Rigid) planSeed(epoch int) uint64 {
	return kge.StreamSeed(r.config.Seed^rigidPlanSalt, epoch+1)
}

// plan returns, for each partition, the triple ids to visit in the epoch, padded with -1 to
// stepsPerEpoch*BatchesPerStep*perPartition entries.
func (r *Rigid) plan(epoch int, shuffle bool) [][]int32 {
	if !shuffle {
		epoch = 0
	}
	key := planKey{epoch: epoch, shuffle: shuffle, valid: true}
	if r.cachedKey == key {
		return r.cachedPlan
	}
	length := r.stepsPerEpoch * r.config.BatchesPerStep * r.perPartition
	plan := make([][]int32, len(r.parts.ids))
	rng := kge.NewRNG(r.planSeed(epoch))
	for partition, ids := range r.parts.ids {
		partitionPlan := xslices.SliceWithValue(length, int32(-1))
		copy(partitionPlan, ids)
		if shuffle {
			rng.Shuffle(len(ids), func(i, j int) {
				partitionPlan[i], partitionPlan[j] = partitionPlan[j], partitionPlan[i]
			})
		}
		plan[partition] = partitionPlan
	}
	klog.V(2).Infof("Rigid batch sampler: built plan for epoch %d (shuffle=%v), %d partitions of %s entries",
		epoch, shuffle, len(plan), humanize.Comma(int64(length)))
	r.cachedKey, r.cachedPlan = key, plan
	return plan
}

// Get implements Sampler. It returns an error wrapping kge.ErrConfiguration if the token step is out of
// range.
func (r *Rigid) Get(token Token) (*Batch, error) {
	if token.Step < 0 || token.Step >= r.stepsPerEpoch {
		return nil, errors.Wrapf(kge.ErrConfiguration, "%s out of range, epochs have %d steps", token, r.stepsPerEpoch)
	}
	if token.Epoch < 0 {
		return nil, errors.Wrapf(kge.ErrConfiguration, "%s has a negative epoch", token)
	}
	epochPlan := r.plan(token.Epoch, token.Shuffle)
	nShard, steps, perPartition := r.sharding.NShard, r.config.BatchesPerStep, r.perPartition
	plan := make([]int32, steps*nShard*nShard*perPartition)
	for step := range steps {
		start := (token.Step*steps + step) * perPartition
		for partition, partitionPlan := range epochPlan {
			copy(plan[(step*nShard*nShard+partition)*perPartition:][:perPartition], partitionPlan[start:start+perPartition])
		}
	}
	return r.materialize(token, plan, r.config.HRTFreqWeighting)
}

// DataloaderSampler implements Sampler. Each call starts a new epoch, yielding every step once. If shuffle
// is set, the triples are re-shuffled and the steps are visited in a random order.
func (r *Rigid) DataloaderSampler(shuffle bool) *Order {
	epoch := r.epoch
	r.epoch++
	steps := xslices.Iota(0, r.stepsPerEpoch)
	if shuffle {
		rng := kge.NewRNG(kge.StreamSeed(r.planSeed(epoch), 1))
		rng.Shuffle(len(steps), func(i, j int) { steps[i], steps[j] = steps[j], steps[i] })
	}
	return &Order{
		length: r.stepsPerEpoch,
		tokens: func(yield func(Token) bool) {
			for _, step := range steps {
				if !yield(Token{Epoch: epoch, Step: step, Shuffle: shuffle}) {
					return
				}
			}
		},
	}
}

// SetEpoch sets the epoch of the next call to DataloaderSampler.
func (r *Rigid) SetEpoch(epoch int) { r.epoch = epoch }
