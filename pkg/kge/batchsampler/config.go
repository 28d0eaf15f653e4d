// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package batchsampler

import (
	"fmt"

	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/kge/dataset"
	"github.com/pkg/errors"
)

// Config holds the parameters shared by all batch samplers.
type Config struct {
	// Part is the dataset split to sample from, e.g. "train".
	Part string `yaml:"part"`

	// ShardBatchSize is the number of positive triples processed by each shard per batch, including
	// the duplicated half if DuplicateBatch is set. It must be divisible by the number of shards.
	ShardBatchSize int `yaml:"shard_batch_size"`

	// BatchesPerStep is the number of batches stacked in the leading axis of each step.
	BatchesPerStep int `yaml:"batches_per_step"`

	// Seed of the sampler. Samplers built with the same Seed (and Worker) produce the same batches.
	Seed uint64 `yaml:"seed"`

	// Worker index of the sampler, when several samplers feed the same training run. Random draws use the
	// stream seed kge.StreamSeed(Seed, Worker).
	Worker int `yaml:"-"`

	// HRTFreqWeighting enables frequency based weighting of the triples, see TripleWeights.
	HRTFreqWeighting bool `yaml:"hrt_freq_weighting"`

	// WeightSmoothing is added to the frequency counts before weighting.
	WeightSmoothing float64 `yaml:"weight_smoothing"`

	// DuplicateBatch makes every batch contain two identical halves along the last axis.
	DuplicateBatch bool `yaml:"duplicate_batch"`
}

// PositivesPerPartition returns the number of positives per (head shard, tail shard) pair per batch,
// including the duplicated half.
func (c Config) PositivesPerPartition(nShard int) int {
	return c.ShardBatchSize / nShard
}

// SampledPerPartition returns the number of positives actually sampled per (head shard, tail shard)
// pair per batch, that is, PositivesPerPartition without the duplicated half.
func (c Config) SampledPerPartition(nShard int) int {
	if c.DuplicateBatch {
		return c.PositivesPerPartition(nShard) / 2
	}
	return c.PositivesPerPartition(nShard)
}

// StreamSeed returns the seed of the random stream of the sampler, derived from Seed and Worker.
func (c Config) StreamSeed() uint64 {
	return kge.StreamSeed(c.Seed, c.Worker)
}

// Validate the configuration against the dataset and number of shards.
// It returns an error wrapping kge.ErrConfiguration.
func (c Config) Validate(ds *dataset.Dataset, nShard int) error {
	switch {
	case nShard <= 0:
		return errors.Wrapf(kge.ErrConfiguration, "batch sampler requires a positive number of shards, got %d", nShard)
	case c.ShardBatchSize <= 0:
		return errors.Wrapf(kge.ErrConfiguration, "shard_batch_size must be > 0, got %d", c.ShardBatchSize)
	case c.ShardBatchSize%nShard != 0:
		return errors.Wrapf(kge.ErrConfiguration, "shard_batch_size=%d must be divisible by the number of shards (%d)",
			c.ShardBatchSize, nShard)
	case c.DuplicateBatch && c.PositivesPerPartition(nShard)%2 != 0:
		return errors.Wrapf(kge.ErrConfiguration,
			"duplicate_batch requires an even number of positives per shard pair, got shard_batch_size/n_shard=%d",
			c.PositivesPerPartition(nShard))
	case c.BatchesPerStep <= 0:
		return errors.Wrapf(kge.ErrConfiguration, "batches_per_step must be > 0, got %d", c.BatchesPerStep)
	case c.WeightSmoothing < 0:
		return errors.Wrapf(kge.ErrConfiguration, "weight_smoothing must be >= 0, got %g", c.WeightSmoothing)
	case c.Worker < 0:
		return errors.Wrapf(kge.ErrConfiguration, "worker index must be >= 0, got %d", c.Worker)
	case ds == nil:
		return errors.Wrap(kge.ErrConfiguration, "batch sampler requires a dataset")
	case !ds.HasPart(c.Part):
		return errors.Wrapf(kge.ErrConfiguration, "dataset has no split %q, available splits: %v", c.Part, ds.Parts())
	}
	return nil
}

// String implements fmt.Stringer.
func (c Config) String() string {
	return fmt.Sprintf("part=%q, shard_batch_size=%d, batches_per_step=%d, seed=%d, worker=%d, weighting=%v, duplicate=%v",
		c.Part, c.ShardBatchSize, c.BatchesPerStep, c.Seed, c.Worker, c.HRTFreqWeighting, c.DuplicateBatch)
}
