// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package batchsampler

import (
	"math/rand/v2"

	"github.com/gomlx/exceptions"
)

// aliasTable implements Vose's alias method: O(n) construction and O(1) weighted draws.
type aliasTable struct {
	prob    []float64
	aliases []int
}

// newAliasTable builds the table for the given non-negative weights. It panics if all weights are zero.
func newAliasTable(weights []float64) *aliasTable {
	n := len(weights)
	var total float64
	for _, w := range weights {
		if w < 0 {
			exceptions.Panicf("aliasTable: negative weight %g", w)
		}
		total += w
	}
	if n == 0 || total <= 0 {
		exceptions.Panicf("aliasTable: requires at least one positive weight, got %d weights summing to %g", n, total)
	}

	at := &aliasTable{prob: make([]float64, n), aliases: make([]int, n)}
	small := make([]int, 0, n)
	large := make([]int, 0, n)
	for ii, w := range weights {
		at.prob[ii] = w * float64(n) / total
		at.aliases[ii] = ii
		if at.prob[ii] < 1 {
			small = append(small, ii)
		} else {
			large = append(large, ii)
		}
	}
	for len(small) > 0 && len(large) > 0 {
		s := small[len(small)-1]
		small = small[:len(small)-1]
		l := large[len(large)-1]
		large = large[:len(large)-1]

		at.aliases[s] = l
		at.prob[l] += at.prob[s] - 1
		if at.prob[l] < 1 {
			small = append(small, l)
		} else {
			large = append(large, l)
		}
	}
	// Leftovers are 1 up to rounding errors.
	for _, ii := range large {
		at.prob[ii] = 1
	}
	for _, ii := range small {
		at.prob[ii] = 1
	}
	return at
}

// Pick draws one index with probability proportional to its weight.
func (at *aliasTable) Pick(rng *rand.Rand) int {
	idx := rng.IntN(len(at.prob))
	if rng.Float64() < at.prob[idx] {
		return idx
	}
	return at.aliases[idx]
}
