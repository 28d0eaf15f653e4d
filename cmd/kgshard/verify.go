// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/gomlx/kgshard/pkg/kge/batchsampler"
	"github.com/gomlx/kgshard/pkg/kge/dataset"
	"github.com/gomlx/kgshard/pkg/kge/sharding"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// coverageVerifier checks the batches of a run: every batch must reconstruct into triples of the split,
// duplicated batches must have identical halves and, for rigid epochs, every triple of the split must
// be seen exactly once (twice if duplicated).
type coverageVerifier struct {
	sharding *sharding.Sharding
	expected map[dataset.Triple]int
	seen     map[dataset.Triple]int
}

func newCoverageVerifier(ds *dataset.Dataset, sh *sharding.Sharding, part string) *coverageVerifier {
	v := &coverageVerifier{
		sharding: sh,
		expected: make(map[dataset.Triple]int),
		seen:     make(map[dataset.Triple]int),
	}
	for _, triple := range ds.All(part) {
		v.expected[triple]++
	}
	return v
}

// Add verifies the batch and records its triples.
func (v *coverageVerifier) Add(batch *batchsampler.Batch) error {
	if batch.Duplicated {
		if err := batch.CheckDuplicated(); err != nil {
			return err
		}
	}
	perShard, err := batch.Reconstruct(v.sharding)
	if err != nil {
		return err
	}
	for shard, triples := range perShard {
		for _, triple := range triples {
			if v.expected[triple] == 0 {
				return errors.Wrapf(kge.ErrValidation, "shard %d got triple %s, which is not in the split", shard, triple)
			}
			if v.sharding.Shard(triple.Head) != int32(shard) {
				return errors.Wrapf(kge.ErrValidation, "shard %d got triple %s, whose head belongs to shard %d",
					shard, triple, v.sharding.Shard(triple.Head))
			}
			v.seen[triple]++
		}
	}
	return nil
}

// CheckEpoch verifies that the triples seen since the last call cover the split exactly once, or twice if
// duplicated, and resets the counts.
func (v *coverageVerifier) CheckEpoch(duplicated bool) error {
	multiplier := 1
	if duplicated {
		multiplier = 2
	}
	defer clear(v.seen)
	for triple, count := range v.expected {
		if got := v.seen[triple]; got != multiplier*count {
			return errors.Wrapf(kge.ErrValidation, "triple %s seen %d times in the epoch, expected %d",
				triple, got, multiplier*count)
		}
	}
	if len(v.seen) != len(v.expected) {
		return errors.Wrapf(kge.ErrValidation, "epoch saw %d distinct triples, expected %d", len(v.seen), len(v.expected))
	}
	klog.V(1).Infof("epoch coverage verified: %d distinct triples", len(v.expected))
	return nil
}
