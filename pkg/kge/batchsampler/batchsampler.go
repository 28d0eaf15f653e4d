// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package batchsampler produces the sharded batches of positive triples (plus negative candidates) of a
// knowledge-graph embedding training run.
//
// The triples of a split are partitioned by (shard of the head, shard of the tail). Each batch takes the
// same number of triples from every partition, so each shard processes ShardBatchSize triples, with
// heads it owns and tails spread evenly over all shards. Tails are laid out by source shard, ready for an
// all-to-all exchange to the processing shard.
//
// Two variants are provided:
//
//   - Random: draws triples with replacement from every partition, forever.
//   - Rigid: visits every triple of the split exactly once per epoch, padding and masking partial batches.
//
// A sampler is not safe for concurrent use: use one per goroutine, see package loader.
package batchsampler

import (
	"math"

	"github.com/gomlx/kgshard/pkg/core/arrays"
	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/kge/dataset"
	"github.com/gomlx/kgshard/pkg/kge/negative"
	"github.com/gomlx/kgshard/pkg/kge/sharding"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Sampler is the interface implemented by Random and Rigid.
type Sampler interface {
	// Config returns the configuration of the sampler.
	Config() Config

	// NShard returns the number of shards of the batches.
	NShard() int

	// Get returns the batch for the given token.
	Get(token Token) (*Batch, error)

	// DataloaderSampler returns the iteration order of the tokens to pass to Get.
	DataloaderSampler(shuffle bool) *Order
}

// partitions holds the triples of the split converted to local indices and grouped by
// (head shard, tail shard).
type partitions struct {
	nShard int

	// Per triple of the split, in split order.
	localHead, relation, localTail []int32

	// ids[h*nShard+t] lists the ids (position in the split) of the triples with head in shard h and
	// tail in shard t, in split order.
	ids [][]int32

	// weights per triple of the split, nil if weighting is disabled.
	weights []float32
}

func newPartitions(ds *dataset.Dataset, sh *sharding.Sharding, config Config) *partitions {
	nShard := sh.NShard
	count := ds.Count(config.Part)
	p := &partitions{
		nShard:    nShard,
		localHead: make([]int32, count),
		relation:  make([]int32, count),
		localTail: make([]int32, count),
		ids:       make([][]int32, nShard*nShard),
	}
	for ii, triple := range ds.All(config.Part) {
		h, t := sh.Shard(triple.Head), sh.Shard(triple.Tail)
		p.localHead[ii] = sh.LocalIdx(triple.Head)
		p.relation[ii] = triple.Relation
		p.localTail[ii] = sh.LocalIdx(triple.Tail)
		partition := int(h)*nShard + int(t)
		p.ids[partition] = append(p.ids[partition], int32(ii))
	}
	if config.HRTFreqWeighting {
		p.weights = TripleWeights(ds, config.Part, config.WeightSmoothing)
	}
	return p
}

// maxCount returns the number of triples of the largest partition.
func (p *partitions) maxCount() int {
	var maxCount int
	for _, ids := range p.ids {
		maxCount = max(maxCount, len(ids))
	}
	return maxCount
}

// TripleWeights returns the frequency based weight of each triple (h, r, t) of the split:
//
//	w = 1 / sqrt(count(h, r) + count(r, t) + smoothing)
//
// where the counts are the number of triples of the split sharing the (head, relation) and the
// (relation, tail) pairs. Triples with rare patterns get larger weights.
func TripleWeights(ds *dataset.Dataset, part string, smoothing float64) []float32 {
	type pair struct{ entity, relation int32 }
	headCounts := make(map[pair]int)
	tailCounts := make(map[pair]int)
	for _, triple := range ds.All(part) {
		headCounts[pair{triple.Head, triple.Relation}]++
		tailCounts[pair{triple.Tail, triple.Relation}]++
	}
	weights := make([]float32, ds.Count(part))
	for ii, triple := range ds.All(part) {
		freq := float64(headCounts[pair{triple.Head, triple.Relation}]+tailCounts[pair{triple.Tail, triple.Relation}]) + smoothing
		weights[ii] = float32(1 / math.Sqrt(freq))
	}
	return weights
}

// base implements the parts shared by the samplers: validation and materialization of batches from a plan.
type base struct {
	config   Config
	dataset  *dataset.Dataset
	sharding *sharding.Sharding
	negative negative.Sampler
	parts    *partitions

	// perPartition is the number of positives sampled per partition per batch, without duplication.
	perPartition int
}

func newBase(ds *dataset.Dataset, sh *sharding.Sharding, negSampler negative.Sampler, config Config) (*base, error) {
	if sh == nil {
		return nil, errors.Wrap(kge.ErrConfiguration, "batch sampler requires a sharding")
	}
	if err := config.Validate(ds, sh.NShard); err != nil {
		return nil, err
	}
	if ds.NEntity() != sh.NEntity {
		return nil, errors.Wrapf(kge.ErrConfiguration, "dataset has %d entities, but the sharding was created for %d",
			ds.NEntity(), sh.NEntity)
	}
	b := &base{
		config:       config,
		dataset:      ds,
		sharding:     sh,
		negative:     negSampler,
		parts:        newPartitions(ds, sh, config),
		perPartition: config.SampledPerPartition(sh.NShard),
	}
	if klog.V(1).Enabled() {
		minCount, maxCount := len(b.parts.ids[0]), 0
		for _, ids := range b.parts.ids {
			minCount, maxCount = min(minCount, len(ids)), max(maxCount, len(ids))
		}
		klog.Infof("batch sampler: %d triples in split %q, %d partitions with %d to %d triples",
			ds.Count(config.Part), config.Part, len(b.parts.ids), minCount, maxCount)
	}
	return b, nil
}

// Config implements Sampler.
func (b *base) Config() Config { return b.config }

// NShard implements Sampler.
func (b *base) NShard() int { return b.sharding.NShard }

// materialize builds the batch given the plan, shaped `[BatchesPerStep, nShard, nShard, perPartition]` in
// row-major order, with the ids of the triples to use, or -1 for padding.
func (b *base) materialize(token Token, plan []int32, withWeights bool) (*Batch, error) {
	nShard, steps, perPartition := b.sharding.NShard, b.config.BatchesPerStep, b.perPartition
	batch := &Batch{
		Token:      token,
		Head:       arrays.Make[int32](steps, nShard, nShard, perPartition),
		Relation:   arrays.Make[int32](steps, nShard, nShard, perPartition),
		Tail:       arrays.Make[int32](steps, nShard, nShard, perPartition),
		TripleMask: arrays.Make[bool](steps, nShard, nShard, perPartition),
	}
	if withWeights {
		batch.TripleWeight = arrays.Make[float32](steps, nShard, nShard, perPartition)
	}
	head, relation, tail, mask := batch.Head.Flat(), batch.Relation.Flat(), batch.Tail.Flat(), batch.TripleMask.Flat()
	parts := b.parts
	for step := range steps {
		for h := range nShard {
			for t := range nShard {
				planBase := ((step*nShard+h)*nShard + t) * perPartition
				tailBase := ((step*nShard+t)*nShard + h) * perPartition
				for p := range perPartition {
					id := plan[planBase+p]
					if id < 0 {
						continue
					}
					head[planBase+p] = parts.localHead[id]
					relation[planBase+p] = parts.relation[id]
					tail[tailBase+p] = parts.localTail[id]
					mask[planBase+p] = true
					if withWeights {
						batch.TripleWeight.Flat()[planBase+p] = parts.weights[id]
					}
				}
			}
		}
	}

	if b.negative != nil {
		negatives, err := b.negative.Sample(batch.Positives())
		if err != nil {
			return nil, errors.WithMessagef(err, "sampling negatives for %s", token)
		}
		batch.Negative = negatives
	}

	if b.config.DuplicateBatch {
		batch.Head = batch.Head.DuplicateLastAxis()
		batch.Relation = batch.Relation.DuplicateLastAxis()
		batch.Tail = batch.Tail.DuplicateLastAxis()
		batch.TripleMask = batch.TripleMask.DuplicateLastAxis()
		if batch.TripleWeight != nil {
			batch.TripleWeight = batch.TripleWeight.DuplicateLastAxis()
		}
		if batch.Negative != nil {
			batch.Negative = batch.Negative.Duplicate()
		}
		batch.Duplicated = true
	}
	return batch, nil
}
