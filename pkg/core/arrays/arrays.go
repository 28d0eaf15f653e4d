// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package arrays implements Array, a dense multi-dimensional host array stored in row-major order.
//
// It is the container of the sharded batches yielded by the samplers: simpler than a tensor, it has
// no device storage and no finalizers, and its flat data can be handed to tensors.FromFlatDataAndDimensions
// without conversion.
package arrays

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kgshard/pkg/core/shapes"
)

// Element is the set of Go types an Array can hold.
type Element interface {
	int32 | float32 | bool
}

// DTypeFor returns the dtype corresponding to the Go type T.
func DTypeFor[T Element]() dtypes.DType {
	var zero T
	switch any(zero).(type) {
	case int32:
		return dtypes.Int32
	case float32:
		return dtypes.Float32
	case bool:
		return dtypes.Bool
	}
	return dtypes.InvalidDType
}

// Array is a dense row-major host array of elements T.
//
// Arrays yielded by the samplers are owned by the caller: the samplers don't keep references to them.
type Array[T Element] struct {
	shape shapes.Shape
	flat  []T
}

// Make creates a zero-initialized Array with the given dimensions.
func Make[T Element](dimensions ...int) *Array[T] {
	shape := shapes.Make(DTypeFor[T](), dimensions...)
	return &Array[T]{shape: shape, flat: make([]T, shape.Size())}
}

// FromFlat creates an Array that takes ownership of the flat data given.
// It panics if len(flat) doesn't match the dimensions.
func FromFlat[T Element](flat []T, dimensions ...int) *Array[T] {
	shape := shapes.Make(DTypeFor[T](), dimensions...)
	if shape.Size() != len(flat) {
		exceptions.Panicf("arrays.FromFlat(): flat data has %d elements, but shape %s requires %d",
			len(flat), shape, shape.Size())
	}
	return &Array[T]{shape: shape, flat: flat}
}

// Shape of the array.
func (a *Array[T]) Shape() shapes.Shape { return a.shape }

// Rank of the array.
func (a *Array[T]) Rank() int { return a.shape.Rank() }

// Size is the total number of elements.
func (a *Array[T]) Size() int { return len(a.flat) }

// Flat returns the underlying row-major storage.
// Don't modify it unless you own the array.
func (a *Array[T]) Flat() []T { return a.flat }

// At returns the element at the given indices.
func (a *Array[T]) At(indices ...int) T {
	return a.flat[a.shape.FlatIndex(indices...)]
}

// Set the element at the given indices.
func (a *Array[T]) Set(value T, indices ...int) {
	a.flat[a.shape.FlatIndex(indices...)] = value
}

// Clone returns a deep copy.
func (a *Array[T]) Clone() *Array[T] {
	return &Array[T]{shape: a.shape.Clone(), flat: slices.Clone(a.flat)}
}

// Equal returns whether both arrays have the same shape and elements.
func (a *Array[T]) Equal(other *Array[T]) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.shape.Equal(other.shape) && slices.Equal(a.flat, other.flat)
}

// Reshape returns a new Array with the given dimensions sharing the same storage.
// It panics if the total size changes.
func (a *Array[T]) Reshape(dimensions ...int) *Array[T] {
	return FromFlat(a.flat, dimensions...)
}

// DuplicateLastAxis returns a new array whose last axis is twice as long: each row along the last
// axis is followed by an exact copy of itself.
func (a *Array[T]) DuplicateLastAxis() *Array[T] {
	if a.Rank() == 0 {
		exceptions.Panicf("DuplicateLastAxis() of a scalar array %s", a.shape)
	}
	lastDim := a.shape.Dim(-1)
	dims := slices.Clone(a.shape.Dimensions)
	dims[len(dims)-1] = 2 * lastDim
	out := Make[T](dims...)
	if lastDim == 0 {
		return out
	}
	for row := 0; row < len(a.flat)/lastDim; row++ {
		src := a.flat[row*lastDim : (row+1)*lastDim]
		copy(out.flat[2*row*lastDim:], src)
		copy(out.flat[(2*row+1)*lastDim:], src)
	}
	return out
}

// SplitLastAxis returns two new arrays with the first and second halves of the last axis.
// It panics if the last axis has an odd dimension.
func (a *Array[T]) SplitLastAxis() (first, second *Array[T]) {
	if a.Rank() == 0 || a.shape.Dim(-1)%2 != 0 {
		exceptions.Panicf("SplitLastAxis() requires an even last axis, got shape %s", a.shape)
	}
	half := a.shape.Dim(-1) / 2
	dims := slices.Clone(a.shape.Dimensions)
	dims[len(dims)-1] = half
	first, second = Make[T](dims...), Make[T](dims...)
	if half == 0 {
		return
	}
	for row := 0; row < len(a.flat)/(2*half); row++ {
		copy(first.flat[row*half:(row+1)*half], a.flat[2*row*half:])
		copy(second.flat[row*half:(row+1)*half], a.flat[(2*row+1)*half:])
	}
	return
}

// Count returns the number of elements for which fn returns true.
func (a *Array[T]) Count(fn func(T) bool) int {
	var count int
	for _, v := range a.flat {
		if fn(v) {
			count++
		}
	}
	return count
}

// String implements fmt.Stringer. It only prints the shape and, for small arrays, the values.
func (a *Array[T]) String() string {
	if a == nil {
		return "Array<nil>"
	}
	const maxPrinted = 32
	if len(a.flat) <= maxPrinted {
		return fmt.Sprintf("%s%v", a.shape, a.flat)
	}
	return fmt.Sprintf("%s%v...", a.shape, a.flat[:maxPrinted])
}
