// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the slices package.
package xslices

import "golang.org/x/exp/constraints"

// Iota returns a slice of incremental int values, starting with start and of length len.
// Eg: Iota(int32(3), 2) -> []int32{3, 4}
func Iota[T constraints.Integer](start T, len int) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// SliceWithValue creates a slice of given size filled with given value.
func SliceWithValue[T any](size int, value T) []T {
	s := make([]T, size)
	for ii := range s {
		s[ii] = value
	}
	return s
}

// CeilDiv returns the ceiling of numerator/denominator, for non-negative numerators and positive denominators.
func CeilDiv[T constraints.Integer](numerator, denominator T) T {
	return (numerator + denominator - 1) / denominator
}
