// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package predicates is a library of named instruction classifiers, to be used as the Verify
// condition of pattern nodes.
//
// Each Predicate has a name, used when printing patterns and in logs, and can be combined with
// And, Or and Not.
package predicates

import (
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/pattern"
)

// Predicate is a named classifier of instructions. It implements pattern.Classifier.
type Predicate struct {
	name string
	fn   func(inst *ir.Instruction) bool
}

var _ pattern.Classifier = Predicate{}

// New creates a named predicate.
func New(name string, fn func(inst *ir.Instruction) bool) Predicate {
	return Predicate{name: name, fn: fn}
}

// Classify implements pattern.Classifier.
func (p Predicate) Classify(inst *ir.Instruction) bool { return p.fn(inst) }

// Name of the predicate.
func (p Predicate) Name() string { return p.name }

// String implements fmt.Stringer.
func (p Predicate) String() string { return p.name }

// And returns a predicate that holds when all the given predicates hold.
func And(predicates ...Predicate) Predicate {
	names := make([]string, len(predicates))
	for ii, p := range predicates {
		names[ii] = p.name
	}
	return New("And("+strings.Join(names, ",")+")", func(inst *ir.Instruction) bool {
		for _, p := range predicates {
			if !p.fn(inst) {
				return false
			}
		}
		return true
	})
}

// Or returns a predicate that holds when any of the given predicates hold.
func Or(predicates ...Predicate) Predicate {
	names := make([]string, len(predicates))
	for ii, p := range predicates {
		names[ii] = p.name
	}
	return New("Or("+strings.Join(names, ",")+")", func(inst *ir.Instruction) bool {
		for _, p := range predicates {
			if p.fn(inst) {
				return true
			}
		}
		return false
	})
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return New("Not("+p.name+")", func(inst *ir.Instruction) bool { return !p.fn(inst) })
}

// isAllValue returns whether inst is a non-empty constant with all elements equal to value.
func isAllValue(inst *ir.Instruction, value float64) bool {
	literal := inst.Literal()
	return literal != nil && literal.Shape().Size() > 0 && literal.IsAll(value)
}

// OfOpType returns a predicate that holds for instructions of any of the given op types.
func OfOpType(opTypes ...ops.OpType) Predicate {
	names := make([]string, len(opTypes))
	for ii, op := range opTypes {
		names[ii] = op.String()
	}
	return New("OfOpType("+strings.Join(names, ",")+")", func(inst *ir.Instruction) bool {
		for _, op := range opTypes {
			if inst.OpType() == op {
				return true
			}
		}
		return false
	})
}

// FusionOfKind returns a predicate that holds for fusions of any of the given kinds.
func FusionOfKind(kinds ...string) Predicate {
	return New("FusionOfKind("+strings.Join(kinds, ",")+")", func(inst *ir.Instruction) bool {
		if inst.OpType() != ops.OpTypeFusion {
			return false
		}
		for _, kind := range kinds {
			if inst.FusionKind() == kind {
				return true
			}
		}
		return false
	})
}

// WithMetadataOpType returns a predicate that holds for instructions created by a framework operation
// of the given type (see ir.Metadata).
func WithMetadataOpType(opType string) Predicate {
	return New("WithMetadataOpType("+opType+")", func(inst *ir.Instruction) bool {
		return inst.Metadata().OpType == opType
	})
}

var (
	// IsFloatType holds for instructions producing floating point values.
	IsFloatType = New("IsFloatType", func(inst *ir.Instruction) bool {
		return !inst.Shape().IsTuple() && inst.Shape().DType.IsFloat()
	})

	IsF16 = New("IsF16", func(inst *ir.Instruction) bool { return inst.Shape().DType == dtypes.Float16 })
	IsF32 = New("IsF32", func(inst *ir.Instruction) bool { return inst.Shape().DType == dtypes.Float32 })

	// IsF32ToF16Convert holds for conversions from Float32 to Float16.
	IsF32ToF16Convert = New("IsF32ToF16Convert", func(inst *ir.Instruction) bool {
		return inst.OpType() == ops.OpTypeConvert && IsF16.fn(inst) && IsF32.fn(inst.Operand(0))
	})

	// IsF16ToF32Convert holds for conversions from Float16 to Float32.
	IsF16ToF32Convert = New("IsF16ToF32Convert", func(inst *ir.Instruction) bool {
		return inst.OpType() == ops.OpTypeConvert && IsF32.fn(inst) && IsF16.fn(inst.Operand(0))
	})

	IsScalar = New("IsScalar", func(inst *ir.Instruction) bool { return inst.Shape().IsScalar() })

	// Is1DVector holds for instructions producing rank 1 values.
	Is1DVector = New("Is1DVector", func(inst *ir.Instruction) bool {
		return !inst.Shape().IsTuple() && inst.Shape().Rank() == 1
	})

	IsScalarConstant = New("IsScalarConstant", func(inst *ir.Instruction) bool {
		return inst.OpType() == ops.OpTypeConstant && inst.Shape().IsScalar()
	})

	IsScalarIntegerConstant = New("IsScalarIntegerConstant", func(inst *ir.Instruction) bool {
		return IsScalarConstant.fn(inst) && inst.Shape().DType.IsInt()
	})

	IsConstantZero = New("IsConstantZero", func(inst *ir.Instruction) bool { return isAllValue(inst, 0) })
	IsConstantHalf = New("IsConstantHalf", func(inst *ir.Instruction) bool { return isAllValue(inst, 0.5) })
	IsConstantOne  = New("IsConstantOne", func(inst *ir.Instruction) bool { return isAllValue(inst, 1) })

	IsRandomNormal = New("IsRandomNormal", func(inst *ir.Instruction) bool {
		return inst.OpType() == ops.OpTypeRng && inst.Distribution() == ir.RngNormal
	})

	IsRandomUniform = New("IsRandomUniform", func(inst *ir.Instruction) bool {
		return inst.OpType() == ops.OpTypeRng && inst.Distribution() == ir.RngUniform
	})

	// IsTrueParameter holds for parameters of the entry region, as opposed to parameters of
	// called regions.
	IsTrueParameter = New("IsTrueParameter", func(inst *ir.Instruction) bool {
		return inst.OpType() == ops.OpTypeParameter && inst.Region() != nil && inst.Region().IsEntry()
	})

	// IsOutputFeed holds for the root of the region, or for an instruction whose only user is the root.
	IsOutputFeed = New("IsOutputFeed", func(inst *ir.Instruction) bool {
		root := inst.Region().Root()
		if inst == root {
			return true
		}
		return inst.UserCount() == 1 && inst.Users()[0] == root
	})

	IsAddOrSubtract = OfOpType(ops.OpTypeAdd, ops.OpTypeSub)

	// IsCompareEqual holds for equality comparisons.
	IsCompareEqual = OfOpType(ops.OpTypeEqual)

	// IsBiasAdd holds for additions where each axis of the bias (operand 1) is either 1 or equal to
	// the corresponding axis of operand 0.
	IsBiasAdd = New("IsBiasAdd", func(inst *ir.Instruction) bool {
		if inst.OpType() != ops.OpTypeAdd {
			return false
		}
		opShape, biasShape := inst.Operand(0).Shape(), inst.Operand(1).Shape()
		if opShape.Rank() != biasShape.Rank() {
			return false
		}
		for axis, dim := range biasShape.Dimensions {
			if dim != 1 && dim != opShape.Dimensions[axis] {
				return false
			}
		}
		return true
	})

	// IsBiasReduce holds for sum reductions of all but one axis, whose reducer adds its two parameters.
	IsBiasReduce = New("IsBiasReduce", func(inst *ir.Instruction) bool {
		if inst.OpType() != ops.OpTypeReduce || inst.Shape().Rank() != 1 {
			return false
		}
		root := inst.CalledRegions()[0].Root()
		if root.OpType() != ops.OpTypeAdd {
			return false
		}
		for _, operand := range root.Operands() {
			if operand.OpType() != ops.OpTypeParameter {
				return false
			}
		}
		return true
	})

	// IsPaddingReduceWindow holds for reduce-windows that don't change the shape of their operand and
	// whose reducer returns its second parameter: they only pad the operand with the init value.
	IsPaddingReduceWindow = New("IsPaddingReduceWindow", func(inst *ir.Instruction) bool {
		if inst.OpType() != ops.OpTypeReduceWindow {
			return false
		}
		root := inst.CalledRegions()[0].Root()
		return root.OpType() == ops.OpTypeParameter && root.ParameterNumber() == 1
	})

	// IsTfReluGradOp holds for instructions created by a ReluGrad framework operation.
	IsTfReluGradOp = WithMetadataOpType("ReluGrad")

	// IsConvolution holds for convolutions and for fusions implementing a convolution.
	IsConvolution = Or(OfOpType(ops.OpTypeConvolution),
		FusionOfKind(ir.FusionKindDepthwiseConv, "conv_with_reverse", "depthwise_filter"))

	// IsWideConstant holds for constants broadcast to a larger shape: either a fusion of kind
	// ir.FusionKindWideConstant, or a broadcast of a scalar constant.
	IsWideConstant = New("IsWideConstant", func(inst *ir.Instruction) bool {
		switch inst.OpType() {
		case ops.OpTypeFusion:
			info, found := ir.LookupFusionKind(inst.FusionKind())
			return found && info.WideConstant
		case ops.OpTypeBroadcast:
			return IsScalarConstant.fn(inst.Operand(0))
		}
		return false
	})

	// IsConstantLike holds for constants and wide constants: values that can be materialized on any
	// device.
	IsConstantLike = Or(OfOpType(ops.OpTypeConstant), IsWideConstant)
)
