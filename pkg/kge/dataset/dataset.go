// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dataset holds the immutable triples (head, relation, tail) of a knowledge graph, per named split.
//
// Loading triples from files and mapping entity/relation names to ids are left to the caller: a Dataset
// is built from integer ids, validated once, and read-only afterwards. Duplicate triples are preserved.
package dataset

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kgshard/pkg/core/arrays"
	"github.com/gomlx/kgshard/pkg/kge"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Triple of entity and relation ids.
type Triple struct {
	Head, Relation, Tail int32
}

// String implements fmt.Stringer.
func (t Triple) String() string {
	return fmt.Sprintf("(h=%d, r=%d, t=%d)", t.Head, t.Relation, t.Tail)
}

// Compare orders triples by head, then relation, then tail. It can be used with slices.SortFunc.
func Compare(a, b Triple) int {
	if a.Head != b.Head {
		return int(a.Head) - int(b.Head)
	}
	if a.Relation != b.Relation {
		return int(a.Relation) - int(b.Relation)
	}
	return int(a.Tail) - int(b.Tail)
}

// Dataset is the immutable collection of triples per split (e.g. "train", "valid", "test").
type Dataset struct {
	nEntity, nRelationType int
	splits                 map[string][]Triple
}

// New creates a Dataset from arrays shaped `(Int32)[count, 3]`, with columns head, relation and tail.
//
// It returns an error wrapping kge.ErrValidation if any array is malformed or any id is out of range.
// The arrays are copied.
func New(nEntity, nRelationType int, splits map[string]*arrays.Array[int32]) (*Dataset, error) {
	triples := make(map[string][]Triple, len(splits))
	for part, array := range splits {
		if array == nil {
			return nil, errors.Wrapf(kge.ErrValidation, "dataset split %q: nil triples array", part)
		}
		if err := array.Shape().Check(dtypes.Int32, -1, 3); err != nil {
			return nil, errors.Wrapf(kge.ErrValidation, "dataset split %q: triples must be shaped [count, 3]: %v", part, err)
		}
		flat := array.Flat()
		partTriples := make([]Triple, len(flat)/3)
		for ii := range partTriples {
			partTriples[ii] = Triple{Head: flat[3*ii], Relation: flat[3*ii+1], Tail: flat[3*ii+2]}
		}
		triples[part] = partTriples
	}
	return newDataset(nEntity, nRelationType, triples)
}

// FromTriples creates a Dataset from slices of triples. The slices are copied.
//
// It returns an error wrapping kge.ErrValidation if any id is out of range.
func FromTriples(nEntity, nRelationType int, splits map[string][]Triple) (*Dataset, error) {
	triples := make(map[string][]Triple, len(splits))
	for part, partTriples := range splits {
		triples[part] = slices.Clone(partTriples)
	}
	return newDataset(nEntity, nRelationType, triples)
}

func newDataset(nEntity, nRelationType int, splits map[string][]Triple) (*Dataset, error) {
	if nEntity <= 0 || nRelationType <= 0 || int64(nEntity) > int64(1<<31-1) || int64(nRelationType) > int64(1<<31-1) {
		return nil, errors.Wrapf(kge.ErrValidation,
			"dataset must have positive int32 number of entities and relation types, got nEntity=%d, nRelationType=%d",
			nEntity, nRelationType)
	}
	for part, triples := range splits {
		if part == "" {
			return nil, errors.Wrapf(kge.ErrValidation, "dataset split name cannot be empty")
		}
		for ii, triple := range triples {
			if triple.Head < 0 || int(triple.Head) >= nEntity || triple.Tail < 0 || int(triple.Tail) >= nEntity {
				return nil, errors.Wrapf(kge.ErrValidation,
					"dataset split %q triple #%d %s: entity id out of range [0, %d)", part, ii, triple, nEntity)
			}
			if triple.Relation < 0 || int(triple.Relation) >= nRelationType {
				return nil, errors.Wrapf(kge.ErrValidation,
					"dataset split %q triple #%d %s: relation id out of range [0, %d)", part, ii, triple, nRelationType)
			}
		}
	}
	ds := &Dataset{nEntity: nEntity, nRelationType: nRelationType, splits: splits}
	klog.V(1).Infof("created %s", ds)
	return ds, nil
}

// NEntity returns the number of entities.
func (ds *Dataset) NEntity() int { return ds.nEntity }

// NRelationType returns the number of relation types.
func (ds *Dataset) NRelationType() int { return ds.nRelationType }

// Parts returns the sorted names of the splits.
func (ds *Dataset) Parts() []string {
	return slices.Sorted(maps.Keys(ds.splits))
}

// HasPart returns whether the split exists.
func (ds *Dataset) HasPart(part string) bool {
	_, found := ds.splits[part]
	return found
}

// Count returns the number of triples in the split, 0 if the split doesn't exist.
func (ds *Dataset) Count(part string) int { return len(ds.splits[part]) }

// At returns the triple number ii of the split. It panics if out of range.
func (ds *Dataset) At(part string, ii int) Triple { return ds.splits[part][ii] }

// All iterates over the triples of the split, in order.
func (ds *Dataset) All(part string) iter.Seq2[int, Triple] {
	return func(yield func(int, Triple) bool) {
		for ii, triple := range ds.splits[part] {
			if !yield(ii, triple) {
				return
			}
		}
	}
}

// Triples returns a copy of the triples of the split.
func (ds *Dataset) Triples(part string) []Triple {
	return slices.Clone(ds.splits[part])
}

// Array returns a copy of the triples of the split as an array shaped `(Int32)[count, 3]`.
func (ds *Dataset) Array(part string) *arrays.Array[int32] {
	triples := ds.splits[part]
	flat := make([]int32, 0, 3*len(triples))
	for _, triple := range triples {
		flat = append(flat, triple.Head, triple.Relation, triple.Tail)
	}
	return arrays.FromFlat(flat, len(triples), 3)
}

// String returns an informative description of the dataset.
func (ds *Dataset) String() string {
	parts := make([]string, 0, len(ds.splits))
	for _, part := range ds.Parts() {
		parts = append(parts, fmt.Sprintf("%s=%s", part, humanize.Comma(int64(len(ds.splits[part])))))
	}
	return fmt.Sprintf("Dataset: %s entities, %s relation types, triples: [%s]",
		humanize.Comma(int64(ds.nEntity)), humanize.Comma(int64(ds.nRelationType)), strings.Join(parts, ", "))
}

// Synthetic creates a dataset with uniformly random triples, with counts[part] triples per split.
// It is deterministic given the seed.
func Synthetic(nEntity, nRelationType int, counts map[string]int, seed uint64) (*Dataset, error) {
	rng := kge.NewRNG(seed)
	splits := make(map[string][]Triple, len(counts))
	for _, part := range slices.Sorted(maps.Keys(counts)) {
		count := counts[part]
		if count < 0 {
			return nil, errors.Wrapf(kge.ErrConfiguration, "synthetic split %q with negative count %d", part, count)
		}
		if nEntity <= 0 || nRelationType <= 0 {
			break // Reported by newDataset.
		}
		triples := make([]Triple, count)
		for ii := range triples {
			triples[ii] = Triple{
				Head:     int32(rng.IntN(nEntity)),
				Relation: int32(rng.IntN(nRelationType)),
				Tail:     int32(rng.IntN(nEntity)),
			}
		}
		splits[part] = triples
	}
	return newDataset(nEntity, nRelationType, splits)
}
