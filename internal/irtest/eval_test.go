// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package irtest

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	F32 := dtypes.Float32
	m := ir.NewModule("test")
	body := m.NewRegion("body")
	bx := body.AddParameter(shapes.Make(F32, 2, 3))
	body.SetRoot(body.AddUnary(ops.OpTypeNeg, bx))

	r := m.Entry()
	x := r.AddParameter(shapes.Make(F32, 2, 3))
	row := r.AddParameter(shapes.Make(F32, 3))
	bRow := r.AddBroadcast(row, shapes.Make(F32, 2, 3), 1)
	sum := r.AddBinary(ops.OpTypeAdd, x, bRow)
	scaled := r.AddBinary(ops.OpTypeMul, sum, r.AddScalarConstant(F32, 2))
	neg := r.AddCall(body, scaled)
	tuple := r.AddTuple(neg, row)
	r.SetRoot(r.AddGetTupleElement(tuple, 0))

	got, err := Evaluate(r, Iota(shapes.Make(F32, 2, 3)), Array(shapes.Make(F32, 3), 10, 20, 30))
	require.NoError(t, err)
	want := Array(shapes.Make(F32, 2, 3), -22, -44, -66, -28, -50, -72)
	assert.True(t, want.Equal(got), "got %s, wanted %s", got, want)
	assert.False(t, Iota(shapes.Make(F32, 2, 3)).Equal(got))

	// Wrong number of arguments.
	_, err = Evaluate(r, Iota(shapes.Make(F32, 2, 3)))
	require.Error(t, err)

	// Unsupported op.
	r2 := ir.NewModule("rng").Entry()
	r2.SetRoot(r2.AddRng(ir.RngUniform, shapes.Make(F32, 2)))
	_, err = Evaluate(r2)
	require.Error(t, err)
	require.Panics(t, func() { MustEvaluate(r2) })
}

func TestEvaluateBroadcastingBinary(t *testing.T) {
	F32 := dtypes.Float32
	r := ir.NewModule("test").Entry()
	col := r.AddParameter(shapes.Make(F32, 2, 1))
	row := r.AddParameter(shapes.Make(F32, 1, 3))
	r.SetRoot(r.AddBinary(ops.OpTypeSub, col, row))
	got := MustEvaluate(r, Array(shapes.Make(F32, 2, 1), 10, 20), Array(shapes.Make(F32, 1, 3), 1, 2, 3))
	assert.Equal(t, []float64{9, 8, 7, 19, 18, 17}, got.Data)
}
