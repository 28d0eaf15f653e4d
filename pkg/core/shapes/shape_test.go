// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	shape0 := Make(dtypes.Int32)
	assert.Equal(t, 0, shape0.Rank())
	assert.Equal(t, 1, shape0.Size())
	assert.Equal(t, "(Int32)", shape0.String())

	shape1 := Make(dtypes.Int32, 3, 4, 4, 30)
	assert.Equal(t, 4, shape1.Rank())
	assert.Equal(t, 3*4*4*30, shape1.Size())
	assert.Equal(t, 30, shape1.Dim(-1))
	assert.Equal(t, 1*480+2*120+3*30+4, shape1.FlatIndex(1, 2, 3, 4))
	assert.Panics(t, func() { shape1.FlatIndex(3, 0, 0, 0) })
	assert.Panics(t, func() { shape1.FlatIndex(0, 0) })
	assert.Panics(t, func() { _ = shape1.Dim(4) })

	empty := Make(dtypes.Int32, 0, 3)
	assert.Equal(t, 0, empty.Size())
	assert.Panics(t, func() { Make(dtypes.Int32, -1) })

	assert.True(t, shape1.Equal(shape1.Clone()))
	assert.False(t, shape1.Equal(Make(dtypes.Bool, 3, 4, 4, 30)))
	assert.True(t, shape1.EqualDimensions(Make(dtypes.Bool, 3, 4, 4, 30)))
}

func TestCheck(t *testing.T) {
	shape := Make(dtypes.Int32, 7, 3)
	require.NoError(t, shape.Check(dtypes.Int32, 7, 3))
	require.NoError(t, shape.Check(dtypes.Int32, UncheckedAxis, 3))
	require.Error(t, shape.Check(dtypes.Float32, 7, 3))
	require.Error(t, shape.CheckDims(7))
	require.Error(t, shape.CheckDims(7, 2))
}
