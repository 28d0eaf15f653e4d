// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package negative implements negative entity samplers for sharded knowledge-graph embedding batches.
//
// A negative sampler corrupts the head and/or the tail of the positive triples of a batch. The policy has
// three axes, all fixed at configuration time:
//
//   - Corruption scheme: replace heads (CorruptHead), tails (CorruptTail) or both (CorruptBoth).
//   - Locality: LocalSampling draws candidates only from the entities of the shard that processes the
//     triple, so no cross-shard lookup is needed when consuming them. Otherwise candidates come from every
//     shard and are laid out for an all-to-all exchange, like the tails of the batch.
//   - Format: FlatNegativeFormat draws one pool of candidates shared by all triples of a shard batch,
//     otherwise each triple gets its own candidates.
//
// Candidates are local indices in the shard that owns them, see sharding.Sharding.Entity to translate them.
package negative

import (
	"fmt"
	"strings"

	"github.com/gomlx/kgshard/pkg/core/arrays"
	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/kge/sharding"
	"github.com/pkg/errors"
)

// CorruptionScheme enumerates which triple positions are replaced by negative candidates.
type CorruptionScheme int

const (
	// CorruptHead replaces the head of the triples.
	CorruptHead CorruptionScheme = iota

	// CorruptTail replaces the tail of the triples.
	CorruptTail

	// CorruptBoth replaces the head with the leading Config.HeadNegatives candidates of each block, and the tail
	// with the remaining ones.
	CorruptBoth
)

var corruptionSchemeNames = []string{"h", "t", "ht"}

// String returns the short name of the scheme: "h", "t" or "ht".
func (c CorruptionScheme) String() string {
	if c < 0 || int(c) >= len(corruptionSchemeNames) {
		return fmt.Sprintf("CorruptionScheme(%d)", int(c))
	}
	return corruptionSchemeNames[c]
}

// ParseCorruptionScheme parses "h", "t", "ht" (also "head", "tail", "both"), case-insensitive.
func ParseCorruptionScheme(name string) (CorruptionScheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "h", "head":
		return CorruptHead, nil
	case "t", "tail":
		return CorruptTail, nil
	case "ht", "both":
		return CorruptBoth, nil
	}
	return CorruptHead, errors.Wrapf(kge.ErrConfiguration, "unknown corruption scheme %q, valid values are \"h\", \"t\" or \"ht\"", name)
}

// MarshalText implements encoding.TextMarshaler, used by the YAML and flag encodings.
func (c CorruptionScheme) MarshalText() ([]byte, error) {
	if c < 0 || int(c) >= len(corruptionSchemeNames) {
		return nil, errors.Wrapf(kge.ErrConfiguration, "invalid corruption scheme %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CorruptionScheme) UnmarshalText(text []byte) error {
	parsed, err := ParseCorruptionScheme(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Config of a negative sampler.
type Config struct {
	// NNegative is the number of candidates per triple (or per shard batch, with FlatNegativeFormat).
	// With global sampling, each shard contributes NNegative candidates, so a triple sees NShard*NNegative
	// candidates after the exchange.
	NNegative int `yaml:"n_negative"`

	CorruptionScheme CorruptionScheme `yaml:"corruption_scheme"`

	// LocalSampling restricts candidates to the entities of the shard processing the triple.
	LocalSampling bool `yaml:"local_sampling"`

	// FlatNegativeFormat shares one pool of candidates among all triples of a shard batch.
	FlatNegativeFormat bool `yaml:"flat_negative_format"`

	// HeadNegatives is the number of leading candidates of each block of NNegative that corrupt the head,
	// for CorruptBoth. If <= 0, it defaults to NNegative/2.
	HeadNegatives int `yaml:"head_negatives"`

	// Seed of the sampler random number generator.
	Seed uint64 `yaml:"seed"`
}

// Validate returns an error wrapping kge.ErrConfiguration if the configuration is invalid.
func (c Config) Validate() error {
	if c.NNegative <= 0 {
		return errors.Wrapf(kge.ErrConfiguration, "negative sampler requires n_negative > 0, got %d", c.NNegative)
	}
	if c.CorruptionScheme < CorruptHead || c.CorruptionScheme > CorruptBoth {
		return errors.Wrapf(kge.ErrConfiguration, "invalid corruption scheme %d", int(c.CorruptionScheme))
	}
	if c.HeadNegatives > c.NNegative {
		return errors.Wrapf(kge.ErrConfiguration, "head_negatives=%d cannot be larger than n_negative=%d",
			c.HeadNegatives, c.NNegative)
	}
	return nil
}

// EffectiveHeadNegatives returns the number of leading candidates of each block that corrupt the head.
func (c Config) EffectiveHeadNegatives() int {
	switch c.CorruptionScheme {
	case CorruptHead:
		return c.NNegative
	case CorruptTail:
		return 0
	}
	if c.HeadNegatives > 0 {
		return c.HeadNegatives
	}
	return c.NNegative / 2
}

// Positives are the positive triples of a batch, in the layout produced by the batch samplers, without
// duplication:
//
//   - Head, Relation: `[batchesPerStep, nShard (head shard), nShard (tail shard), positivesPerPartition]`,
//     heads as local indices of the head shard.
//   - Tail: `[batchesPerStep, nShard (tail shard), nShard (head shard), positivesPerPartition]`, local indices of
//     the tail shard.
type Positives struct {
	Head, Relation, Tail *arrays.Array[int32]
}

// BatchesPerStep is the leading dimension of the positives.
func (p *Positives) BatchesPerStep() int { return p.Head.Shape().Dim(0) }

// NShard is the number of shards of the positives.
func (p *Positives) NShard() int { return p.Head.Shape().Dim(1) }

// ShardBatchSize is the number of positive triples processed by each shard per step.
func (p *Positives) ShardBatchSize() int { return p.Head.Shape().Dim(2) * p.Head.Shape().Dim(3) }

// Negatives holds the sampled candidates.
//
// Entities is shaped:
//
//   - LocalSampling: `[batchesPerStep, nShard, B, NNegative]`, local indices in the processing shard.
//   - Global sampling: `[batchesPerStep, nShard (source), nShard (destination), B, NNegative]`, local indices in
//     the source shard, to be sent to the destination (processing) shard.
//
// where B is 1 with FlatNegativeFormat, or the shard batch size otherwise, with rows ordered by
// (tail shard, positive index) like the positives of the processing shard.
//
// After duplication (see Duplicate) the last axis holds two identical blocks of NNegative candidates.
type Negatives struct {
	Entities *arrays.Array[int32]

	Local, Flat bool
	Scheme      CorruptionScheme

	// NNegative is the size of each block of candidates along the last axis.
	NNegative int

	// HeadNegatives is the number of leading candidates of each block that corrupt the head.
	HeadNegatives int
}

// CorruptsHead returns whether the candidate at position k of the last axis of Entities replaces the head.
// Otherwise, it replaces the tail.
func (n *Negatives) CorruptsHead(k int) bool {
	return k%n.NNegative < n.HeadNegatives
}

// Duplicate returns a copy of the negatives with the last axis duplicated.
func (n *Negatives) Duplicate() *Negatives {
	dup := *n
	dup.Entities = n.Entities.DuplicateLastAxis()
	return &dup
}

// Candidates returns the global entity ids of the candidates seen by the given row of the processing shard
// at the given step, in the order the processing shard receives them: for global sampling, the candidates of
// source shard 0 come first, then source shard 1, and so on. With FlatNegativeFormat row must be 0.
func (n *Negatives) Candidates(sh *sharding.Sharding, step, shard, row int) []int32 {
	if n.Local {
		block := n.Entities.Shape().Dim(-1)
		candidates := make([]int32, block)
		for k := range block {
			candidates[k] = sh.Entity(int32(shard), n.Entities.At(step, shard, row, k))
		}
		return candidates
	}
	nShard := n.Entities.Shape().Dim(1)
	block := n.Entities.Shape().Dim(-1)
	candidates := make([]int32, 0, nShard*block)
	for src := range nShard {
		for k := range block {
			candidates = append(candidates, sh.Entity(int32(src), n.Entities.At(step, src, shard, row, k)))
		}
	}
	return candidates
}

// Sampler is the interface of negative samplers. Implementations own their random number generator, so they
// must not be shared by concurrent callers.
type Sampler interface {
	// Config returns the configuration of the sampler.
	Config() Config

	// Sample candidates for the given positive triples.
	Sample(positives *Positives) (*Negatives, error)
}
