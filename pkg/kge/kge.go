// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kge holds the definitions shared by the knowledge-graph embedding (KGE) data packages:
// error kinds and random number generator seeding.
//
// The packages under it build the data pipeline of a sharded KGE training run:
//
//   - sharding: deterministic, invertible partition of the entities across shards.
//   - dataset: immutable, validated triples (head, relation, tail) per split.
//   - negative: negative entity samplers.
//   - batchsampler: per-step sharded batches, laid out for an all-to-all exchange of tails.
//   - loader: parallel prefetching of batches, with one independently seeded sampler per worker.
package kge

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

var (
	// ErrConfiguration is returned (wrapped) for invalid shard counts, batch sizes, negative counts
	// or other invalid parameters.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrValidation is returned (wrapped) when data given to a constructor is malformed:
	// out-of-bounds entity or relation ids, triple arrays with the wrong shape.
	ErrValidation = errors.New("validation failed")

	// ErrSamplingExhaustion is returned (wrapped) when sampling is restricted to a set of
	// candidates that is empty.
	ErrSamplingExhaustion = errors.New("no eligible candidates to sample from")
)

// StreamSeed derives the seed of the random stream number `stream` from a base seed.
//
// Stream 0 is the base seed itself. Other streams are decorrelated with a splitmix64 step, so
// workers seeded with StreamSeed(seed, workerIdx) never share a stream.
func StreamSeed(seed uint64, stream int) uint64 {
	if stream == 0 {
		return seed
	}
	return splitMix64(seed + uint64(stream)*0x9E3779B97F4A7C15)
}

// NewRNG returns a new PCG based generator fully determined by seed.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, splitMix64(seed)))
}

func splitMix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}
