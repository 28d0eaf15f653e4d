// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package batchsampler

import (
	"fmt"
	"math/rand/v2"

	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/kge/dataset"
	"github.com/gomlx/kgshard/pkg/kge/negative"
	"github.com/gomlx/kgshard/pkg/kge/sharding"
	"k8s.io/klog/v2"
)

// Random samples the triples of every (head shard, tail shard) partition with replacement.
//
// With Config.HRTFreqWeighting the triples of a partition are drawn with probability proportional to
// their TripleWeights, otherwise uniformly. Partitions without triples are filled with padding.
//
// Its iteration order is unbounded and there is no coverage guarantee. Batches depend on the sequence
// of calls to Get, not on the token.
type Random struct {
	*base
	rng    *rand.Rand
	tables []*aliasTable
}

var _ Sampler = (*Random)(nil)

// NewRandom creates a Random batch sampler. negSampler may be nil, in which case batches have no negatives.
func NewRandom(ds *dataset.Dataset, sh *sharding.Sharding, negSampler negative.Sampler, config Config) (*Random, error) {
	b, err := newBase(ds, sh, negSampler, config)
	if err != nil {
		return nil, err
	}
	r := &Random{
		base: b,
		rng:  kge.NewRNG(config.StreamSeed()),
	}
	var empty int
	for _, ids := range b.parts.ids {
		if len(ids) == 0 {
			empty++
		}
	}
	if empty > 0 {
		klog.Warningf("Random batch sampler: %d of %d shard partitions of split %q have no triples and will be padded",
			empty, len(b.parts.ids), config.Part)
	}
	if config.HRTFreqWeighting {
		r.tables = make([]*aliasTable, len(b.parts.ids))
		for partition, ids := range b.parts.ids {
			if len(ids) == 0 {
				continue
			}
			weights := make([]float64, len(ids))
			for ii, id := range ids {
				weights[ii] = float64(b.parts.weights[id])
			}
			r.tables[partition] = newAliasTable(weights)
		}
	}
	klog.V(1).Infof("created %s", r)
	return r, nil
}

// String implements fmt.Stringer.
func (r *Random) String() string {
	return fmt.Sprintf("Random batch sampler: %d shards, %s", r.sharding.NShard, r.config)
}

// Get implements Sampler. It draws a new batch for every call.
func (r *Random) Get(token Token) (*Batch, error) {
	nShard, steps, perPartition := r.sharding.NShard, r.config.BatchesPerStep, r.perPartition
	plan := make([]int32, steps*nShard*nShard*perPartition)
	for step := range steps {
		for partition, ids := range r.parts.ids {
			block := plan[(step*nShard*nShard+partition)*perPartition:][:perPartition]
			if len(ids) == 0 {
				for p := range block {
					block[p] = -1
				}
				continue
			}
			for p := range block {
				if r.tables != nil {
					block[p] = ids[r.tables[partition].Pick(r.rng)]
				} else {
					block[p] = ids[r.rng.IntN(len(ids))]
				}
			}
		}
	}
	return r.materialize(token, plan, false)
}

// DataloaderSampler implements Sampler. The order is unbounded, with steps 0, 1, 2, ...
func (r *Random) DataloaderSampler(shuffle bool) *Order {
	return &Order{
		length: -1,
		tokens: func(yield func(Token) bool) {
			for step := 0; ; step++ {
				if !yield(Token{Step: step, Shuffle: shuffle}) {
					return
				}
			}
		},
	}
}
