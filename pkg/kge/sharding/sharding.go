// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sharding partitions the entities of a knowledge graph across shards, deterministically and reversibly.
//
// Each entity id in `[0, NEntity)` is assigned to exactly one (shard, local index) pair. The assignment is a
// pure lookup table, computed once from a seed:
//
//	sh, err := sharding.Create(nEntity, nShard, seed)
//	shard, idx := sh.Shard(entity), sh.LocalIdx(entity)
//	entity == sh.Entity(shard, idx)
//
// Shards are balanced: their sizes differ by at most one. The local indices of a shard are dense in
// `[0, ShardCounts[shard])`, and the unused tail slots of the smaller shards are marked with PaddingEntity.
package sharding

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PaddingEntity marks the slots of ShardAndIdxToEntity that don't hold an entity.
const PaddingEntity = int32(-1)

// Sharding is the immutable entity to (shard, local index) assignment.
//
// All information is available for reading, but it should not be changed after creation.
type Sharding struct {
	NEntity, NShard int

	// MaxEntityPerShard is the number of slots of each shard, `ceil(NEntity/NShard)`.
	MaxEntityPerShard int

	// EntityToShard and EntityToIdx have one entry per entity.
	EntityToShard, EntityToIdx []int32

	// ShardAndIdxToEntity is the reverse lookup table, shaped [NShard, MaxEntityPerShard] in row-major order:
	// slot (shard, idx) is at position `shard*MaxEntityPerShard + idx`.
	ShardAndIdxToEntity []int32

	// ShardCounts holds the number of entities in each shard.
	ShardCounts []int32

	// Seed used to create the sharding.
	Seed uint64
}

// Create a balanced sharding of nEntity entities into nShard shards.
//
// The assignment is fully determined by the seed: a seeded permutation of the entities is dealt
// round-robin to the shards, so entity at permuted position p goes to shard `p % nShard` with local index `p / nShard`.
//
// It returns an error wrapping kge.ErrConfiguration if nShard <= 0 or nShard > nEntity.
func Create(nEntity, nShard int, seed uint64) (*Sharding, error) {
	if nShard <= 0 || nShard > nEntity {
		return nil, errors.Wrapf(kge.ErrConfiguration,
			"sharding.Create(nEntity=%d, nShard=%d): number of shards must be in [1, nEntity]", nEntity, nShard)
	}
	if int64(nEntity) > int64(1<<31-1) {
		return nil, errors.Wrapf(kge.ErrConfiguration,
			"sharding.Create(nEntity=%d): entity ids must fit in an int32", nEntity)
	}
	s := &Sharding{
		NEntity:           nEntity,
		NShard:            nShard,
		MaxEntityPerShard: xslices.CeilDiv(nEntity, nShard),
		EntityToShard:     make([]int32, nEntity),
		EntityToIdx:       make([]int32, nEntity),
		ShardCounts:       make([]int32, nShard),
		Seed:              seed,
	}
	s.ShardAndIdxToEntity = xslices.SliceWithValue(nShard*s.MaxEntityPerShard, PaddingEntity)
	perm := kge.NewRNG(seed).Perm(nEntity)
	for position, entity := range perm {
		shard, idx := position%nShard, position/nShard
		s.EntityToShard[entity] = int32(shard)
		s.EntityToIdx[entity] = int32(idx)
		s.ShardAndIdxToEntity[shard*s.MaxEntityPerShard+idx] = int32(entity)
		s.ShardCounts[shard]++
	}
	klog.V(1).Infof("created %s", s)
	return s, nil
}

// Shard returns the shard owning the entity.
func (s *Sharding) Shard(entity int32) int32 { return s.EntityToShard[entity] }

// LocalIdx returns the index of the entity within its shard.
func (s *Sharding) LocalIdx(entity int32) int32 { return s.EntityToIdx[entity] }

// Entity returns the global entity id at the (shard, idx) slot, or PaddingEntity if the slot is padding.
//
// It panics if the slot is outside the table.
func (s *Sharding) Entity(shard, idx int32) int32 {
	if shard < 0 || int(shard) >= s.NShard || idx < 0 || int(idx) >= s.MaxEntityPerShard {
		exceptions.Panicf("Sharding.Entity(shard=%d, idx=%d) out of range for %d shards of %d slots",
			shard, idx, s.NShard, s.MaxEntityPerShard)
	}
	return s.ShardAndIdxToEntity[int(shard)*s.MaxEntityPerShard+int(idx)]
}

// Entities returns the global ids of the entities of the given shard, in local index order.
// The returned slice is a view of the reverse table: don't modify it.
func (s *Sharding) Entities(shard int) []int32 {
	start := shard * s.MaxEntityPerShard
	return s.ShardAndIdxToEntity[start : start+int(s.ShardCounts[shard])]
}

// Validate checks that the tables are consistent: the assignment is a bijection between entities
// and the non-padding slots, and the shards are balanced.
func (s *Sharding) Validate() error {
	if s.NShard <= 0 || s.NShard > s.NEntity {
		return errors.Wrapf(kge.ErrConfiguration, "sharding has %d shards for %d entities", s.NShard, s.NEntity)
	}
	if len(s.EntityToShard) != s.NEntity || len(s.EntityToIdx) != s.NEntity ||
		len(s.ShardAndIdxToEntity) != s.NShard*s.MaxEntityPerShard || len(s.ShardCounts) != s.NShard {
		return errors.Wrapf(kge.ErrValidation, "sharding tables have inconsistent sizes")
	}
	for shard, count := range s.ShardCounts {
		if count < 0 || int(count) > s.MaxEntityPerShard {
			return errors.Wrapf(kge.ErrValidation, "shard %d count %d out of range [0, %d]",
				shard, count, s.MaxEntityPerShard)
		}
	}
	counts := make([]int32, s.NShard)
	for entity := range s.NEntity {
		shard, idx := s.EntityToShard[entity], s.EntityToIdx[entity]
		if shard < 0 || int(shard) >= s.NShard || idx < 0 || idx >= s.ShardCounts[shard] {
			return errors.Wrapf(kge.ErrValidation, "entity %d mapped to invalid slot (%d, %d)", entity, shard, idx)
		}
		if got := s.ShardAndIdxToEntity[int(shard)*s.MaxEntityPerShard+int(idx)]; got != int32(entity) {
			return errors.Wrapf(kge.ErrValidation,
				"entity %d mapped to slot (%d, %d), but the slot holds entity %d", entity, shard, idx, got)
		}
		counts[shard]++
	}
	minCount, maxCount := counts[0], counts[0]
	for shard, count := range counts {
		if count != s.ShardCounts[shard] {
			return errors.Wrapf(kge.ErrValidation, "shard %d has %d entities, but ShardCounts says %d",
				shard, count, s.ShardCounts[shard])
		}
		for idx := int(count); idx < s.MaxEntityPerShard; idx++ {
			if s.ShardAndIdxToEntity[shard*s.MaxEntityPerShard+idx] != PaddingEntity {
				return errors.Wrapf(kge.ErrValidation, "slot (%d, %d) should be padding", shard, idx)
			}
		}
		minCount, maxCount = min(minCount, count), max(maxCount, count)
	}
	if maxCount-minCount > 1 {
		return errors.Wrapf(kge.ErrValidation, "shards are unbalanced: sizes range from %d to %d", minCount, maxCount)
	}
	return nil
}

// String returns an informative description of the sharding.
func (s *Sharding) String() string {
	minCount, maxCount := s.ShardCounts[0], s.ShardCounts[0]
	for _, count := range s.ShardCounts {
		minCount, maxCount = min(minCount, count), max(maxCount, count)
	}
	var sizes string
	if minCount == maxCount {
		sizes = humanize.Comma(int64(minCount))
	} else {
		sizes = fmt.Sprintf("%s-%s", humanize.Comma(int64(minCount)), humanize.Comma(int64(maxCount)))
	}
	return strings.Join([]string{
		fmt.Sprintf("Sharding: %s entities in %d shards", humanize.Comma(int64(s.NEntity)), s.NShard),
		fmt.Sprintf("%s entities per shard", sizes),
		fmt.Sprintf("seed=%d", s.Seed),
	}, ", ")
}
