// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/outliner/annotations"
	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/types"
	"github.com/gomlx/outliner/types/shapes"
)

// demo builds a module, and classifies its convolutions and dots in ann.
type demo func(ann *annotations.Annotations) *ir.Module

var demos = map[string]demo{
	"conv":  convDemo,
	"loop":  loopDemo,
	"split": splitDemo,
}

func demoNames() []string {
	return types.SortedKeys(demos)
}

// convDemo is a convolution layer: bias, relu and an elementwise activation scaling.
func convDemo(ann *annotations.Annotations) *ir.Module {
	m := ir.NewModule("conv")
	r := m.Entry()
	f32 := dtypes.Float32
	outShape := shapes.Make(f32, 1, 8, 8, 16)
	image := r.AddParameter(shapes.Make(f32, 1, 8, 8, 3)).SetName("image")
	kernel := r.AddParameter(shapes.Make(f32, 3, 3, 3, 16)).SetName("kernel")
	bias := r.AddParameter(shapes.Make(f32, 16)).SetName("bias")
	gain := r.AddParameter(outShape).SetName("gain")

	conv := r.AddConvolution(image, kernel, outShape).SetMetadata(ir.Metadata{OpType: "Conv2D", OpName: "layer/conv"})
	ann.Classify(conv, annotations.Forward)
	biased := r.AddBinary(ops.OpTypeAdd, conv, r.AddBroadcast(bias, outShape, 3))
	zeros := r.AddBroadcast(r.AddScalarConstant(f32, 0), outShape)
	activation := r.AddBinary(ops.OpTypeMax, biased, zeros).SetMetadata(ir.Metadata{OpType: "Relu", OpName: "layer/relu"})
	decay := r.AddUnary(ops.OpTypeExp, r.AddUnary(ops.OpTypeNeg, activation))
	r.SetRoot(r.AddTuple(r.AddBinary(ops.OpTypeMul, decay, gain)))
	return m
}

// loopDemo is a while loop whose body does a matrix-vector product and a scaled in-place update of the
// matrix.
func loopDemo(ann *annotations.Annotations) *ir.Module {
	m := ir.NewModule("loop")
	s32, f32 := dtypes.Int32, dtypes.Float32
	counterShape, vectorShape, matrixShape := shapes.Make(s32), shapes.Make(f32, 4), shapes.Make(f32, 4, 4)
	stateShape := shapes.MakeTuple([]shapes.Shape{counterShape, vectorShape, matrixShape})

	cond := m.NewRegion("cond")
	{
		state := cond.AddParameter(stateShape)
		counter := cond.AddGetTupleElement(state, 0)
		cond.SetRoot(cond.AddBinary(ops.OpTypeLessThan, counter, cond.AddScalarConstant(s32, 10)))
	}

	body := m.NewRegion("body")
	{
		state := body.AddParameter(stateShape)
		counter := body.AddGetTupleElement(state, 0)
		vector := body.AddGetTupleElement(state, 1)
		matrix := body.AddGetTupleElement(state, 2)
		next := body.AddBinary(ops.OpTypeAdd, counter, body.AddScalarConstant(s32, 1))
		product := body.AddDot(vector, matrix, vectorShape)
		ann.Classify(product, annotations.Forward)
		gradient := body.AddDot(matrix, matrix, matrixShape)
		ann.Classify(gradient, annotations.BackpropFilter)
		learningRate := body.AddBroadcast(body.AddScalarConstant(f32, 0.01), matrixShape)
		updated := body.AddBinary(ops.OpTypeSub, matrix, body.AddBinary(ops.OpTypeMul, gradient, learningRate))
		body.SetRoot(body.AddTuple(next, product, updated))
	}

	r := m.Entry()
	init := r.AddTuple(
		r.AddParameter(counterShape).SetName("step"),
		r.AddParameter(vectorShape).SetName("x"),
		r.AddParameter(matrixShape).SetName("w"))
	r.SetRoot(r.AddTuple(r.AddWhile(cond, body, init)))
	return m
}

// splitDemo calls a sub-region with a sigmoid, and slices its result at a constant position.
func splitDemo(_ *annotations.Annotations) *ir.Module {
	m := ir.NewModule("split")
	f32 := dtypes.Float32
	shape := shapes.Make(f32, 8)

	sigmoid := m.NewRegion("sigmoid")
	{
		x := sigmoid.AddParameter(shape)
		half := sigmoid.AddScalarConstant(f32, 0.5)
		tanh := sigmoid.AddUnary(ops.OpTypeTanh, sigmoid.AddBinary(ops.OpTypeMul, half, x))
		sigmoid.SetRoot(sigmoid.AddBinary(ops.OpTypeAdd, half, sigmoid.AddBinary(ops.OpTypeMul, half, tanh)))
	}

	r := m.Entry()
	x := r.AddParameter(shape).SetName("x")
	y := r.AddCall(sigmoid, x)
	start := r.AddScalarConstant(dtypes.Int32, 2)
	r.SetRoot(r.AddTuple(r.AddDynamicSlice(y, shapes.Make(f32, 4), start)))
	return m
}
