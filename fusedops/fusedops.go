// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fusedops holds the built-in pattern tables: small subgraphs (activations, their gradients,
// bias additions, scaled in-place updates, ...) that the backend implements as a single fused op.
//
// The tables are run with a matcher.Matcher, see New and NewWideConstants. Each matched subgraph is
// outlined into a fusion whose kind is the name of the pattern, calling a region named
// RegionPrefix + pattern name.
package fusedops

import (
	"slices"

	"github.com/gomlx/outliner/annotations"
	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/matcher"
	"github.com/gomlx/outliner/pattern"
	"github.com/gomlx/outliner/predicates"
	"github.com/janpfeifer/must"
)

// RegionPrefix is prepended to the pattern name to name the outlined regions.
const RegionPrefix = "_pop_op_"

// Short aliases for the table below.
type (
	node = pattern.Node
	ids  = []pattern.NodeID
)

const param = ops.OpTypeParameter

// scaleAdd returns the patterns of a random number generator followed by a scale and an add with
// constants, with and without broadcast constants.
func scaleAdd(name string, isRng predicates.Predicate) []pattern.Def {
	return []pattern.Def{
		{
			Name: name, MetaTarget: 4, Outputs: ids{0},
			Nodes: []node{
				{Op: ops.OpTypeAdd, Operands: ids{2, 1}},
				{Op: ops.OpTypeConstant},
				{Op: ops.OpTypeMul, Operands: ids{4, 3}},
				{Op: ops.OpTypeConstant},
				{Op: ops.OpTypeRng, Operands: ids{5, 6}, Verify: isRng},
				{Op: ops.OpTypeConstant},
				{Op: ops.OpTypeConstant},
			},
		},
		{
			Name: name, MetaTarget: 6, Outputs: ids{0},
			Nodes: []node{
				{Op: ops.OpTypeAdd, Operands: ids{3, 1}},
				{Op: ops.OpTypeBroadcast, Operands: ids{2}},
				{Op: ops.OpTypeConstant},
				{Op: ops.OpTypeMul, Operands: ids{6, 4}},
				{Op: ops.OpTypeBroadcast, Operands: ids{5}},
				{Op: ops.OpTypeConstant},
				{Op: ops.OpTypeRng, Operands: ids{7, 8}, Verify: isRng},
				{Op: ops.OpTypeConstant},
				{Op: ops.OpTypeConstant},
			},
		},
	}
}

// scaledInplace returns the patterns A = A op B*c, where c is a broadcast scalar constant, and op is
// an add or a subtract. A is updated in place.
func scaledInplace(op ops.OpType) []pattern.Def {
	return []pattern.Def{
		{
			// B is the result of a convolution.
			Name: "conv_scaled_inplace", MetaTarget: 4, Inputs: ids{5, 6, 7}, Outputs: ids{0}, InplaceInputs: ids{5},
			Nodes: []node{
				{Op: op, Operands: ids{5, 1}},
				{Op: ops.OpTypeMul, Operands: ids{4, 2}},
				{Op: ops.OpTypeBroadcast, Operands: ids{3}},
				{Op: ops.OpTypeConstant, Verify: predicates.IsScalarConstant},
				{Op: ops.OpTypeConvolution, Operands: ids{6, 7}},
				{Op: param}, {Op: param}, {Op: param},
			},
		},
		{
			Name: "scaled_inplace", Inputs: ids{4, 5}, Outputs: ids{0}, InplaceInputs: ids{4},
			Nodes: []node{
				{Op: op, Operands: ids{4, 1}},
				{Op: ops.OpTypeMul, Operands: ids{5, 2}},
				{Op: ops.OpTypeBroadcast, Operands: ids{3}},
				{Op: ops.OpTypeConstant, Verify: predicates.IsScalarConstant},
				{Op: param}, {Op: param},
			},
		},
	}
}

// lateDefs lists the patterns in priority order.
func lateDefs() []pattern.Def {
	defs := []pattern.Def{
		// Dynamic update slice and dynamic slice of a vector at a constant position.
		{
			Name: "const_slice_update", Inputs: ids{2, 3}, Outputs: ids{0},
			Nodes: []node{
				{Op: ops.OpTypeDynamicUpdateSlice, Operands: ids{2, 3, 1}},
				{Op: ops.OpTypeConstant},
				{Op: param}, {Op: param},
			},
		},
		{
			Name: "const_slice", Inputs: ids{2}, Outputs: ids{0},
			Nodes: []node{
				{Op: ops.OpTypeDynamicSlice, Operands: ids{2, 1}},
				{Op: ops.OpTypeConstant},
				{Op: param},
			},
		},

		// Relu.
		{
			Name: "relu", Inputs: ids{2}, Outputs: ids{0}, InplaceInputs: ids{2},
			Nodes: []node{
				{Op: ops.OpTypeMax, Operands: ids{2, 1}, Verify: predicates.IsFloatType},
				{Op: ops.OpTypeConstant, Verify: predicates.IsConstantZero},
				{Op: param},
			},
		},
		{
			Name: "relu", Inputs: ids{3}, Outputs: ids{0}, InplaceInputs: ids{3},
			Nodes: []node{
				{Op: ops.OpTypeMax, Operands: ids{3, 1}, Verify: predicates.IsFloatType},
				{Op: ops.OpTypeBroadcast, Operands: ids{2}},
				{Op: ops.OpTypeConstant, Verify: predicates.IsConstantZero},
				{Op: param},
			},
		},

		// Sigmoid, as 0.5 + 0.5*tanh(0.5*x).
		{
			Name: "sigmoid", Inputs: ids{5}, Outputs: ids{0}, InplaceInputs: ids{5},
			Nodes: []node{
				{Op: ops.OpTypeAdd, Operands: ids{4, 1}, Verify: predicates.IsFloatType},
				{Op: ops.OpTypeMul, Operands: ids{4, 2}},
				{Op: ops.OpTypeTanh, Operands: ids{3}},
				{Op: ops.OpTypeMul, Operands: ids{4, 5}},
				{Op: ops.OpTypeConstant, Verify: predicates.IsConstantHalf},
				{Op: param},
			},
		},
		{
			Name: "sigmoid", Inputs: ids{6}, Outputs: ids{0}, InplaceInputs: ids{6},
			Nodes: []node{
				{Op: ops.OpTypeAdd, Operands: ids{1, 4}, Verify: predicates.IsFloatType},
				{Op: ops.OpTypeMul, Operands: ids{2, 4}},
				{Op: ops.OpTypeTanh, Operands: ids{3}},
				{Op: ops.OpTypeMul, Operands: ids{6, 4}},
				{Op: ops.OpTypeBroadcast, Operands: ids{5}},
				{Op: ops.OpTypeConstant, Verify: predicates.IsConstantHalf},
				{Op: param},
			},
		},

		// ReluGrad: select(x > 0, grad, 0).
		{
			Name: "relugrad", Inputs: ids{4, 3}, Outputs: ids{0},
			Nodes: []node{
				{Op: ops.OpTypeSelect, Operands: ids{1, 3, 2}, Verify: predicates.IsFloatType},
				{Op: ops.OpTypeGreaterThan, Operands: ids{4, 2}, Verify: predicates.IsTfReluGradOp},
				{Op: ops.OpTypeConstant, Verify: predicates.IsConstantZero},
				{Op: param}, {Op: param},
			},
		},
		{
			Name: "relugrad", Inputs: ids{5, 4}, Outputs: ids{0},
			Nodes: []node{
				{Op: ops.OpTypeSelect, Operands: ids{1, 4, 2}, Verify: predicates.IsFloatType},
				{Op: ops.OpTypeGreaterThan, Operands: ids{5, 2}, Verify: predicates.IsTfReluGradOp},
				{Op: ops.OpTypeBroadcast, Operands: ids{3}},
				{Op: ops.OpTypeConstant, Verify: predicates.IsConstantZero},
				{Op: param}, {Op: param},
			},
		},

		// SigmoidGrad: grad * (y * (1 - y)).
		{
			Name: "sigmoidgrad", Inputs: ids{5, 4}, Outputs: ids{0},
			Nodes: []node{
				{Op: ops.OpTypeMul, Operands: ids{1, 2}, Verify: predicates.IsFloatType},
				{Op: ops.OpTypeMul, Operands: ids{4, 5}},
				{Op: ops.OpTypeSub, Operands: ids{3, 5}},
				{Op: ops.OpTypeConstant, Verify: predicates.IsConstantOne},
				{Op: param}, {Op: param},
			},
		},
		{
			Name: "sigmoidgrad", Inputs: ids{6, 5}, Outputs: ids{0},
			Nodes: []node{
				{Op: ops.OpTypeMul, Operands: ids{1, 2}, Verify: predicates.IsFloatType},
				{Op: ops.OpTypeMul, Operands: ids{5, 6}},
				{Op: ops.OpTypeSub, Operands: ids{3, 6}},
				{Op: ops.OpTypeBroadcast, Operands: ids{4}},
				{Op: ops.OpTypeConstant, Verify: predicates.IsConstantOne},
				{Op: param}, {Op: param},
			},
		},

		// Bias added to the result of a convolution, which is not outlined.
		{
			Name: "biasadd", Inputs: ids{2, 3}, Outputs: ids{0}, InplaceInputs: ids{2},
			Nodes: []node{
				{Op: ops.OpTypeAdd, Operands: ids{2, 1}},
				{Op: ops.OpTypeBroadcast, Operands: ids{3}},
				{Op: pattern.AnyOp, Verify: predicates.IsConvolution},
				{Op: param, Verify: predicates.Is1DVector},
			},
		},

		// Padding with zeros.
		{
			Name: "zero_pad", Inputs: ids{2}, Outputs: ids{0},
			Nodes: []node{
				{Op: ops.OpTypePad, Operands: ids{2, 1}},
				{Op: ops.OpTypeConstant, Verify: predicates.IsConstantZero},
				{Op: param},
			},
		},
	}
	defs = append(defs, scaleAdd("norm_scale_add", predicates.IsRandomNormal)...)
	defs = append(defs, scaleAdd("uniform_scale_add", predicates.IsRandomUniform)...)
	defs = append(defs, pattern.Def{
		// Bias gradient reduction and application to the bias parameter: b = b - c*sum(grad).
		Name: "bias_apply", Inputs: ids{1, 7}, Outputs: ids{0}, InplaceInputs: ids{1},
		Nodes: []node{
			{Op: ops.OpTypeSub, Operands: ids{1, 2}, Verify: predicates.IsOutputFeed},
			{Op: param, Verify: predicates.IsTrueParameter},
			{Op: ops.OpTypeMul, Operands: ids{5, 3}},
			{Op: ops.OpTypeBroadcast, Operands: ids{4}},
			{Op: ops.OpTypeConstant},
			{Op: ops.OpTypeReduce, Operands: ids{7, 6}, Verify: predicates.IsBiasReduce},
			{Op: ops.OpTypeConstant, Verify: predicates.IsConstantZero},
			{Op: param},
		},
	})
	for _, op := range []ops.OpType{ops.OpTypeAdd, ops.OpTypeSub} {
		defs = append(defs, scaledInplace(op)...)
	}
	defs = append(defs, pattern.Def{
		// Reduce-window that only pads its operand.
		Name: "padding_reduce_window", Inputs: ids{1, 2}, Outputs: ids{0},
		Nodes: []node{
			{Op: ops.OpTypeReduceWindow, Operands: ids{1, 2}, Verify: predicates.IsPaddingReduceWindow},
			{Op: param}, {Op: param},
		},
	})
	return defs
}

var (
	latePatterns = must.M1(pattern.NewSet(lateDefs()...))

	wideConstantPatterns = must.M1(pattern.NewSet(pattern.Def{
		Name: ir.FusionKindWideConstant, Outputs: ids{0},
		Nodes: []node{
			{Op: ops.OpTypeBroadcast, Operands: ids{1}},
			{Op: ops.OpTypeConstant, Verify: predicates.IsScalarConstant},
		},
	}))
)

// Patterns returns the fused ops table, in priority order.
func Patterns() []*pattern.Pattern { return slices.Clone(latePatterns) }

// WideConstantPatterns returns the patterns of constants broadcast to a larger shape.
func WideConstantPatterns() []*pattern.Pattern { return slices.Clone(wideConstantPatterns) }

// New returns a matcher for the fused ops table. In-place inputs of the matched patterns are recorded
// in ann (it can be nil, see matcher.New).
func New(ann *annotations.Annotations, opts matcher.Options) *matcher.Matcher {
	return matcher.New(latePatterns, opts, ann).WithRegionPrefix(RegionPrefix)
}

// NewWideConstants returns a matcher that outlines broadcasts of scalar constants into fusions of kind
// ir.FusionKindWideConstant. Run before New, it hides those broadcasts from the fused ops table, so
// only the table variants without broadcast apply.
func NewWideConstants(ann *annotations.Annotations, opts matcher.Options) *matcher.Matcher {
	return matcher.New(wideConstantPatterns, opts, ann).WithRegionPrefix(RegionPrefix)
}
