// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package batchsampler

import (
	"fmt"
	"math"
	"slices"
	"testing"

	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/kge/dataset"
	"github.com/gomlx/kgshard/pkg/kge/negative"
	"github.com/gomlx/kgshard/pkg/kge/sharding"
	"github.com/gomlx/kgshard/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testNEntity        = 500
	testNRelation      = 10
	testNShard         = 4
	testNTriples       = 2000
	testShardBatchSize = 120
	testBatchesPerStep = 3
	testNNegative      = 25
)

// newFixture returns a synthetic dataset with a "train" split and its sharding.
func newFixture(t *testing.T) (*dataset.Dataset, *sharding.Sharding) {
	ds, err := dataset.Synthetic(testNEntity, testNRelation, map[string]int{"train": testNTriples, "test": 10}, 17)
	require.NoError(t, err)
	sh, err := sharding.Create(testNEntity, testNShard, 42)
	require.NoError(t, err)
	return ds, sh
}

func testConfig(duplicate bool) Config {
	return Config{
		Part:           "train",
		ShardBatchSize: testShardBatchSize,
		BatchesPerStep: testBatchesPerStep,
		Seed:           7,
		DuplicateBatch: duplicate,
	}
}

func newNegativeSampler(t *testing.T, sh *sharding.Sharding, local, flat bool) negative.Sampler {
	neg, err := negative.NewRandomSharded(negative.Config{
		NNegative:          testNNegative,
		CorruptionScheme:   negative.CorruptBoth,
		LocalSampling:      local,
		FlatNegativeFormat: flat,
		Seed:               3,
	}, sh)
	require.NoError(t, err)
	return neg
}

// collect returns the reconstructed triples of all the batches of the order, sorted.
func collect(t *testing.T, sampler Sampler, order *Order, sh *sharding.Sharding) (triples []dataset.Triple, numBatches int) {
	for token := range order.Tokens() {
		batch, err := sampler.Get(token)
		require.NoError(t, err)
		perShard, err := batch.Reconstruct(sh)
		require.NoError(t, err)
		var count int
		for shard, shardTriples := range perShard {
			for _, triple := range shardTriples {
				// Triples are processed by the shard owning their head.
				require.Equal(t, int32(shard), sh.Shard(triple.Head))
			}
			count += len(shardTriples)
			triples = append(triples, shardTriples...)
		}
		require.Equal(t, batch.NumTriples(), count)
		numBatches++
	}
	slices.SortFunc(triples, dataset.Compare)
	return
}

func TestConfigValidate(t *testing.T) {
	ds, sh := newFixture(t)
	require.NoError(t, testConfig(true).Validate(ds, testNShard))

	testCases := map[string]func(c *Config){
		"zero shard batch size":    func(c *Config) { c.ShardBatchSize = 0 },
		"not divisible by shards":  func(c *Config) { c.ShardBatchSize = 122 },
		"odd duplicated partition": func(c *Config) { c.ShardBatchSize = 12; c.DuplicateBatch = true },
		"zero batches per step":    func(c *Config) { c.BatchesPerStep = 0 },
		"missing split":            func(c *Config) { c.Part = "valid" },
		"negative smoothing":       func(c *Config) { c.WeightSmoothing = -1 },
		"negative worker":          func(c *Config) { c.Worker = -1 },
	}
	for name, modify := range testCases {
		t.Run(name, func(t *testing.T) {
			config := testConfig(false)
			modify(&config)
			assert.ErrorIs(t, config.Validate(ds, testNShard), kge.ErrConfiguration)
			_, err := NewRigid(ds, sh, nil, config)
			assert.ErrorIs(t, err, kge.ErrConfiguration)
			_, err = NewRandom(ds, sh, nil, config)
			assert.ErrorIs(t, err, kge.ErrConfiguration)
		})
	}

	_, err := NewRigid(ds, nil, nil, testConfig(false))
	assert.ErrorIs(t, err, kge.ErrConfiguration)
	otherSharding, err := sharding.Create(100, testNShard, 0)
	require.NoError(t, err)
	_, err = NewRandom(ds, otherSharding, nil, testConfig(false))
	assert.ErrorIs(t, err, kge.ErrConfiguration)
}

func TestRigidCoverage(t *testing.T) {
	ds, sh := newFixture(t)
	want := ds.Triples("train")
	slices.SortFunc(want, dataset.Compare)

	for _, duplicate := range []bool{false, true} {
		for _, shuffle := range []bool{false, true} {
			t.Run(fmt.Sprintf("duplicate=%v/shuffle=%v", duplicate, shuffle), func(t *testing.T) {
				sampler, err := NewRigid(ds, sh, newNegativeSampler(t, sh, false, false), testConfig(duplicate))
				require.NoError(t, err)
				order := sampler.DataloaderSampler(shuffle)
				require.Equal(t, sampler.StepsPerEpoch(), order.Len())

				got, numBatches := collect(t, sampler, order, sh)
				assert.Equal(t, sampler.StepsPerEpoch(), numBatches)
				if !duplicate {
					assert.Equal(t, want, got)
					return
				}
				doubled := slices.Concat(want, want)
				slices.SortFunc(doubled, dataset.Compare)
				assert.Equal(t, doubled, got)
			})
		}
	}
}

func TestRigidSteps(t *testing.T) {
	ds, sh := newFixture(t)
	sampler, err := NewRigid(ds, sh, nil, testConfig(false))
	require.NoError(t, err)

	// Every step is visited exactly once, in order if not shuffled.
	var steps []int
	for token := range sampler.DataloaderSampler(false).Tokens() {
		assert.Equal(t, 0, token.Epoch)
		steps = append(steps, token.Step)
	}
	assert.Equal(t, xslices.Iota(0, sampler.StepsPerEpoch()), steps)
	assert.Greater(t, sampler.StepsPerEpoch(), 1)

	steps = steps[:0]
	for token := range sampler.DataloaderSampler(true).Tokens() {
		assert.Equal(t, 1, token.Epoch)
		assert.True(t, token.Shuffle)
		steps = append(steps, token.Step)
	}
	slices.Sort(steps)
	assert.Equal(t, xslices.Iota(0, sampler.StepsPerEpoch()), steps)

	// The largest partition sets the number of steps.
	perStep := testBatchesPerStep * testShardBatchSize / testNShard
	assert.Equal(t, (sampler.parts.maxCount()+perStep-1)/perStep, sampler.StepsPerEpoch())

	_, err = sampler.Get(Token{Step: sampler.StepsPerEpoch()})
	assert.ErrorIs(t, err, kge.ErrConfiguration)
	_, err = sampler.Get(Token{Step: -1})
	assert.ErrorIs(t, err, kge.ErrConfiguration)

	// Mask count over the epoch equals the number of triples.
	var masked int
	for token := range sampler.DataloaderSampler(false).Tokens() {
		batch := must.M1(sampler.Get(token))
		require.NoError(t, batch.Head.Shape().CheckDims(testBatchesPerStep, testNShard, testNShard, testShardBatchSize/testNShard))
		require.NoError(t, batch.Tail.Shape().CheckDims(testBatchesPerStep, testNShard, testNShard, testShardBatchSize/testNShard))
		assert.Nil(t, batch.TripleWeight)
		assert.Nil(t, batch.Negative)
		assert.False(t, batch.Duplicated)
		masked += batch.NumTriples()

		// Padding entries are zeroed.
		for ii, valid := range batch.TripleMask.Flat() {
			if !valid {
				require.Equal(t, int32(0), batch.Head.Flat()[ii])
				require.Equal(t, int32(0), batch.Relation.Flat()[ii])
			}
		}
	}
	assert.Equal(t, testNTriples, masked)
}

func TestRigidDeterminism(t *testing.T) {
	ds, sh := newFixture(t)
	newSampler := func() *Rigid {
		sampler, err := NewRigid(ds, sh, newNegativeSampler(t, sh, true, false), testConfig(true))
		require.NoError(t, err)
		return sampler
	}
	s0, s1 := newSampler(), newSampler()
	for epoch := range 2 {
		order0, order1 := s0.DataloaderSampler(true), s1.DataloaderSampler(true)
		tokens0, tokens1 := slices.Collect(order0.Tokens()), slices.Collect(order1.Tokens())
		require.Equal(t, tokens0, tokens1)
		for _, token := range tokens0 {
			assert.Equal(t, epoch, token.Epoch)
			b0, b1 := must.M1(s0.Get(token)), must.M1(s1.Get(token))
			assert.True(t, b0.Head.Equal(b1.Head))
			assert.True(t, b0.Relation.Equal(b1.Relation))
			assert.True(t, b0.Tail.Equal(b1.Tail))
			assert.True(t, b0.TripleMask.Equal(b1.TripleMask))
			assert.True(t, b0.Negative.Entities.Equal(b1.Negative.Entities))
		}
	}

	// Different epochs are shuffled differently, but the plan of an epoch doesn't depend on the sampler
	// instance nor on the order of the calls.
	s2 := newSampler()
	epoch0 := must.M1(s2.Get(Token{Epoch: 0, Step: 0, Shuffle: true}))
	epoch1 := must.M1(s2.Get(Token{Epoch: 1, Step: 0, Shuffle: true}))
	assert.False(t, epoch0.Head.Equal(epoch1.Head))
	again := must.M1(s2.Get(Token{Epoch: 0, Step: 0, Shuffle: true}))
	assert.True(t, epoch0.Head.Equal(again.Head))
	assert.True(t, epoch0.Tail.Equal(again.Tail))

	// Unshuffled plans don't depend on the epoch.
	plain0 := must.M1(s2.Get(Token{Epoch: 0, Step: 1}))
	plain5 := must.M1(s2.Get(Token{Epoch: 5, Step: 1}))
	assert.True(t, plain0.Head.Equal(plain5.Head))

	// A different seed shuffles differently.
	config := testConfig(true)
	config.Seed++
	s3, err := NewRigid(ds, sh, nil, config)
	require.NoError(t, err)
	other := must.M1(s3.Get(Token{Epoch: 0, Step: 0, Shuffle: true}))
	assert.False(t, epoch0.Head.Equal(other.Head))
}

func TestDuplicateBatch(t *testing.T) {
	ds, sh := newFixture(t)
	for _, local := range []bool{false, true} {
		for _, flat := range []bool{false, true} {
			t.Run(fmt.Sprintf("local=%v/flat=%v", local, flat), func(t *testing.T) {
				config := testConfig(true)
				config.HRTFreqWeighting = true
				rigid, err := NewRigid(ds, sh, newNegativeSampler(t, sh, local, flat), config)
				require.NoError(t, err)
				random, err := NewRandom(ds, sh, newNegativeSampler(t, sh, local, flat), config)
				require.NoError(t, err)

				half := testShardBatchSize / testNShard / 2
				rows := testNShard * half
				if flat {
					rows = 1
				}
				for _, sampler := range []Sampler{rigid, random} {
					batch, err := sampler.Get(Token{})
					require.NoError(t, err)
					require.True(t, batch.Duplicated)
					require.NoError(t, batch.CheckDuplicated())
					require.NoError(t, batch.Head.Shape().CheckDims(testBatchesPerStep, testNShard, testNShard, 2*half))
					if local {
						require.NoError(t, batch.Negative.Entities.Shape().CheckDims(
							testBatchesPerStep, testNShard, rows, 2*testNNegative))
					} else {
						require.NoError(t, batch.Negative.Entities.Shape().CheckDims(
							testBatchesPerStep, testNShard, testNShard, rows, 2*testNNegative))
					}
					assert.Equal(t, testNNegative, batch.Negative.NNegative)
					assert.Equal(t, testNNegative/2, batch.Negative.HeadNegatives)

					// Changing one element breaks the symmetry.
					batch.Relation.Flat()[0]++
					assert.ErrorIs(t, batch.CheckDuplicated(), kge.ErrValidation)
				}

				// Only the rigid sampler reports weights.
				batch := must.M1(rigid.Get(Token{}))
				require.NotNil(t, batch.TripleWeight)
				for ii, valid := range batch.TripleMask.Flat() {
					if valid {
						assert.Greater(t, batch.TripleWeight.Flat()[ii], float32(0))
					} else {
						assert.Equal(t, float32(0), batch.TripleWeight.Flat()[ii])
					}
				}
				assert.Nil(t, must.M1(random.Get(Token{})).TripleWeight)
			})
		}
	}

	notDuplicated := must.M1(NewRigid(ds, sh, nil, testConfig(false)))
	assert.ErrorIs(t, must.M1(notDuplicated.Get(Token{})).CheckDuplicated(), kge.ErrValidation)
}

func TestRandom(t *testing.T) {
	ds, sh := newFixture(t)
	train := make(map[dataset.Triple]bool)
	for _, triple := range ds.All("train") {
		train[triple] = true
	}

	sampler, err := NewRandom(ds, sh, newNegativeSampler(t, sh, false, true), testConfig(false))
	require.NoError(t, err)
	order := sampler.DataloaderSampler(true)
	assert.Equal(t, -1, order.Len())
	var numSteps int
	for token := range order.Tokens() {
		assert.Equal(t, numSteps, token.Step)
		batch, err := sampler.Get(token)
		require.NoError(t, err)

		// The fixture has no empty partition, so every entry is a real triple.
		assert.Equal(t, testBatchesPerStep*testNShard*testShardBatchSize, batch.NumTriples())
		perShard, err := batch.Reconstruct(sh)
		require.NoError(t, err)
		for _, triples := range perShard {
			assert.Len(t, triples, testBatchesPerStep*testShardBatchSize)
			for _, triple := range triples {
				require.Truef(t, train[triple], "sampled triple %s is not in the train split", triple)
			}
		}
		numSteps++
		if numSteps == 5 {
			break
		}
	}

	// Same seed, same sequence of batches; different workers, different batches.
	newSampler := func(worker int) *Random {
		config := testConfig(false)
		config.Worker = worker
		return must.M1(NewRandom(ds, sh, nil, config))
	}
	s0, s1, s2 := newSampler(0), newSampler(0), newSampler(1)
	for range 3 {
		b0, b1, b2 := must.M1(s0.Get(Token{})), must.M1(s1.Get(Token{})), must.M1(s2.Get(Token{}))
		assert.True(t, b0.Head.Equal(b1.Head))
		assert.True(t, b0.Tail.Equal(b1.Tail))
		assert.False(t, b0.Head.Equal(b2.Head))
	}
}

func TestRandomEmptyPartitions(t *testing.T) {
	// All triples have head and tail in the same entity, so only the diagonal partitions have triples.
	sh := must.M1(sharding.Create(20, 2, 0))
	var triples []dataset.Triple
	for entity := range int32(20) {
		triples = append(triples, dataset.Triple{Head: entity, Relation: 0, Tail: entity})
	}
	ds := must.M1(dataset.FromTriples(20, 1, map[string][]dataset.Triple{"train": triples}))
	sampler := must.M1(NewRandom(ds, sh, nil, Config{Part: "train", ShardBatchSize: 8, BatchesPerStep: 1}))
	batch := must.M1(sampler.Get(Token{}))
	for h := range 2 {
		for tail := range 2 {
			for p := range 4 {
				assert.Equal(t, h == tail, batch.TripleMask.At(0, h, tail, p))
			}
		}
	}
	perShard := must.M1(batch.Reconstruct(sh))
	for _, shardTriples := range perShard {
		assert.Len(t, shardTriples, 4)
		for _, triple := range shardTriples {
			assert.Equal(t, triple.Head, triple.Tail)
		}
	}
}

func TestTripleWeights(t *testing.T) {
	ds := must.M1(dataset.FromTriples(10, 2, map[string][]dataset.Triple{"train": {
		{Head: 0, Relation: 0, Tail: 1},
		{Head: 0, Relation: 0, Tail: 2},
		{Head: 3, Relation: 0, Tail: 2},
		{Head: 0, Relation: 1, Tail: 2},
	}}))
	weights := TripleWeights(ds, "train", 1)
	want := []float64{
		1 / math.Sqrt(2+1+1),
		1 / math.Sqrt(2+2+1),
		1 / math.Sqrt(1+2+1),
		1 / math.Sqrt(1+1+1),
	}
	require.Len(t, weights, len(want))
	for ii := range want {
		assert.InDelta(t, want[ii], weights[ii], 1e-6)
	}
}

func TestRandomWeightedFrequency(t *testing.T) {
	triples := []dataset.Triple{
		{Head: 0, Relation: 0, Tail: 1},
		{Head: 0, Relation: 0, Tail: 2},
		{Head: 0, Relation: 0, Tail: 3},
		{Head: 0, Relation: 0, Tail: 4},
		{Head: 5, Relation: 0, Tail: 6},
	}
	ds := must.M1(dataset.FromTriples(10, 1, map[string][]dataset.Triple{"train": triples}))
	sh := must.M1(sharding.Create(10, 1, 0))
	sampler := must.M1(NewRandom(ds, sh, nil, Config{
		Part: "train", ShardBatchSize: 100, BatchesPerStep: 10, HRTFreqWeighting: true,
	}))

	counts := make(map[dataset.Triple]int)
	var total int
	for range 20 {
		perShard := must.M1(must.M1(sampler.Get(Token{})).Reconstruct(sh))
		for _, triple := range perShard[0] {
			counts[triple]++
			total++
		}
	}
	require.Equal(t, 20000, total)

	weights := TripleWeights(ds, "train", 0)
	var sum float64
	for _, w := range weights {
		sum += float64(w)
	}
	for ii, triple := range triples {
		want := float64(weights[ii]) / sum
		got := float64(counts[triple]) / float64(total)
		assert.InDeltaf(t, want, got, 0.015, "frequency of triple %s", triple)
	}
}

func TestReconstructErrors(t *testing.T) {
	ds, sh := newFixture(t)
	sampler := must.M1(NewRigid(ds, sh, nil, testConfig(false)))
	batch := must.M1(sampler.Get(Token{}))

	other := must.M1(sharding.Create(testNEntity, 2, 0))
	_, err := batch.Reconstruct(other)
	assert.ErrorIs(t, err, kge.ErrValidation)

	// Local index past the end of the shard table.
	for ii, valid := range batch.TripleMask.Flat() {
		if valid {
			batch.Head.Flat()[ii] = int32(sh.MaxEntityPerShard)
			break
		}
	}
	_, err = batch.Reconstruct(sh)
	assert.ErrorIs(t, err, kge.ErrValidation)
}

func TestAliasTable(t *testing.T) {
	table := newAliasTable([]float64{1, 0, 3})
	rng := kge.NewRNG(1)
	counts := make([]int, 3)
	const draws = 40000
	for range draws {
		counts[table.Pick(rng)]++
	}
	assert.Zero(t, counts[1])
	assert.InDelta(t, 0.25, float64(counts[0])/draws, 0.015)
	assert.InDelta(t, 0.75, float64(counts[2])/draws, 0.015)

	assert.Panics(t, func() { newAliasTable([]float64{0, 0}) })
	assert.Panics(t, func() { newAliasTable([]float64{1, -1}) })
}

func TestRigidSetEpoch(t *testing.T) {
	ds, sh := newFixture(t)
	s0 := must.M1(NewRigid(ds, sh, nil, testConfig(false)))
	s1 := must.M1(NewRigid(ds, sh, nil, testConfig(false)))
	for range 3 {
		_ = s0.DataloaderSampler(true)
	}
	s1.SetEpoch(3)
	tokens0 := slices.Collect(s0.DataloaderSampler(true).Tokens())
	tokens1 := slices.Collect(s1.DataloaderSampler(true).Tokens())
	require.Equal(t, tokens0, tokens1)
	assert.Equal(t, 3, tokens1[0].Epoch)
	assert.True(t, must.M1(s0.Get(tokens0[0])).Head.Equal(must.M1(s1.Get(tokens1[0])).Head))
	assert.Equal(t, 4, slices.Collect(s1.DataloaderSampler(true).Tokens())[0].Epoch)
}
