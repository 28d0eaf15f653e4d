// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package negative

import (
	"fmt"
	"math/rand/v2"

	"github.com/gomlx/kgshard/pkg/core/arrays"
	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/kge/sharding"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RandomSharded samples candidates uniformly, with replacement, among the entities of each shard.
//
// With LocalSampling the candidates of a processing shard come from its own entities. Otherwise each
// source shard draws Config.NNegative candidates from its own entities for every destination shard.
type RandomSharded struct {
	config        Config
	sharding      *sharding.Sharding
	headNegatives int
	rng           *rand.Rand
}

var _ Sampler = (*RandomSharded)(nil)

// NewRandomSharded creates a uniform negative sampler over the given sharding.
//
// It returns an error wrapping kge.ErrConfiguration for an invalid configuration, or wrapping
// kge.ErrSamplingExhaustion if some shard has no entities to draw from.
func NewRandomSharded(config Config, sh *sharding.Sharding) (*RandomSharded, error) {
	if sh == nil {
		return nil, errors.Wrap(kge.ErrConfiguration, "negative.NewRandomSharded() requires a sharding")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &RandomSharded{
		config:        config,
		sharding:      sh,
		headNegatives: config.EffectiveHeadNegatives(),
		rng:           kge.NewRNG(config.Seed),
	}
	if err := s.checkCandidates(); err != nil {
		return nil, err
	}
	klog.V(1).Infof("created %s", s)
	return s, nil
}

// Config implements Sampler.
func (s *RandomSharded) Config() Config { return s.config }

// String implements fmt.Stringer.
func (s *RandomSharded) String() string {
	locality := "global"
	if s.config.LocalSampling {
		locality = "local"
	}
	format := "per-triple"
	if s.config.FlatNegativeFormat {
		format = "flat"
	}
	return fmt.Sprintf("RandomSharded negative sampler: %d negatives, scheme=%s (%d head), %s, %s, %d shards",
		s.config.NNegative, s.config.CorruptionScheme, s.headNegatives, locality, format, s.sharding.NShard)
}

func (s *RandomSharded) checkCandidates() error {
	for shard, count := range s.sharding.ShardCounts {
		if count <= 0 {
			return errors.Wrapf(kge.ErrSamplingExhaustion,
				"shard %d has no entities to sample negatives from", shard)
		}
	}
	return nil
}

// Sample implements Sampler. Each call advances the random number generator, so consecutive calls
// return different candidates.
func (s *RandomSharded) Sample(positives *Positives) (*Negatives, error) {
	if positives == nil || positives.Head == nil {
		return nil, errors.Wrap(kge.ErrConfiguration, "RandomSharded.Sample() requires positives")
	}
	nShard := s.sharding.NShard
	if positives.Head.Rank() != 4 || positives.NShard() != nShard || positives.Head.Shape().Dim(2) != nShard {
		return nil, errors.Wrapf(kge.ErrConfiguration,
			"RandomSharded.Sample(): positives shaped %s don't match a sharding with %d shards",
			positives.Head.Shape(), nShard)
	}
	if err := s.checkCandidates(); err != nil {
		return nil, err
	}
	batchesPerStep := positives.BatchesPerStep()
	rows := positives.ShardBatchSize()
	if s.config.FlatNegativeFormat {
		rows = 1
	}
	nNeg := s.config.NNegative

	var entities *arrays.Array[int32]
	if s.config.LocalSampling {
		entities = arrays.Make[int32](batchesPerStep, nShard, rows, nNeg)
		flat := entities.Flat()
		blockSize := rows * nNeg
		for step := range batchesPerStep {
			for shard := range nShard {
				s.fill(flat[(step*nShard+shard)*blockSize:][:blockSize], shard)
			}
		}
	} else {
		entities = arrays.Make[int32](batchesPerStep, nShard, nShard, rows, nNeg)
		flat := entities.Flat()
		blockSize := rows * nNeg
		for step := range batchesPerStep {
			for src := range nShard {
				for dst := range nShard {
					s.fill(flat[((step*nShard+src)*nShard+dst)*blockSize:][:blockSize], src)
				}
			}
		}
	}
	return &Negatives{
		Entities:      entities,
		Local:         s.config.LocalSampling,
		Flat:          s.config.FlatNegativeFormat,
		Scheme:        s.config.CorruptionScheme,
		NNegative:     nNeg,
		HeadNegatives: s.headNegatives,
	}, nil
}

// fill block with local indices drawn uniformly from the given shard.
func (s *RandomSharded) fill(block []int32, shard int) {
	count := s.sharding.ShardCounts[shard]
	for ii := range block {
		block[ii] = s.rng.Int32N(count)
	}
}
