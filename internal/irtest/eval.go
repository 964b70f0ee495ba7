// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package irtest provides a reference evaluator of ir regions, used by tests to check that a graph
// rewrite preserves the values computed by a region.
//
// It supports only the ops whose result is fully determined by their operands and attributes, e.g.:
// elementwise ops, broadcasts, reshapes, tuples, calls and fusions. Values are stored as float64,
// whatever their DType.
package irtest

import (
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/outliner/ir"
	. "github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/types/shapes"
	"github.com/pkg/errors"
)

// Value is the result of evaluating an instruction: an array (row-major Data) or a tuple (Elements).
type Value struct {
	Shape    shapes.Shape
	Data     []float64
	Elements []*Value
}

// Array creates an array value. data must have one value per element of the shape.
func Array(shape shapes.Shape, data ...float64) *Value {
	if shape.IsTuple() || shape.Size() != len(data) {
		exceptions.Panicf("irtest.Array(%s): got %d values", shape, len(data))
	}
	return &Value{Shape: shape.Clone(), Data: slices.Clone(data)}
}

// Iota creates an array value with the values 1, 2, 3, ... It is handy for test arguments.
func Iota(shape shapes.Shape) *Value {
	data := make([]float64, shape.Size())
	for ii := range data {
		data[ii] = float64(ii + 1)
	}
	return Array(shape, data...)
}

// Equal returns whether the two values have the same shape and (approximately) the same elements.
func (v *Value) Equal(other *Value) bool {
	if !v.Shape.Equal(other.Shape) || len(v.Elements) != len(other.Elements) || len(v.Data) != len(other.Data) {
		return false
	}
	for ii, element := range v.Elements {
		if !element.Equal(other.Elements[ii]) {
			return false
		}
	}
	for ii, x := range v.Data {
		y := other.Data[ii]
		if x != y && math.Abs(x-y) > 1e-9*math.Max(1, math.Abs(x)) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	if v.Shape.IsTuple() {
		return fmt.Sprintf("%v", v.Elements)
	}
	return fmt.Sprintf("%s%v", v.Shape, v.Data)
}

// Evaluate computes the value of the root of the region, given one argument per parameter.
// Unsupported ops and shape mismatches are returned as errors.
func Evaluate(region *ir.Region, args ...*Value) (result *Value, err error) {
	err = exceptions.TryCatch[error](func() { result = evaluate(region, args) })
	if err != nil {
		err = errors.WithMessagef(err, "evaluating region %q", region.Name())
	}
	return
}

// MustEvaluate is like Evaluate, but panics on error.
func MustEvaluate(region *ir.Region, args ...*Value) *Value {
	result, err := Evaluate(region, args...)
	if err != nil {
		panic(err)
	}
	return result
}

func evaluate(region *ir.Region, args []*Value) *Value {
	if len(args) != region.NumParameters() {
		exceptions.Panicf("region %q has %d parameters, got %d arguments", region.Name(), region.NumParameters(), len(args))
	}
	values := make(map[*ir.Instruction]*Value, region.InstructionCount())
	for _, inst := range region.PostOrder() {
		operands := make([]*Value, inst.NumOperands())
		for ii, operand := range inst.Operands() {
			operands[ii] = values[operand]
		}
		if inst.OpType() == OpTypeParameter {
			arg := args[inst.ParameterNumber()]
			if !arg.Shape.Equal(inst.Shape()) {
				exceptions.Panicf("argument #%d has shape %s, parameter %s", inst.ParameterNumber(), arg.Shape, inst)
			}
			values[inst] = arg
			continue
		}
		values[inst] = evaluateInstruction(inst, operands)
	}
	return values[region.Root()]
}

func evaluateInstruction(inst *ir.Instruction, operands []*Value) *Value {
	shape := inst.Shape()
	switch op := inst.OpType(); {
	case op == OpTypeConstant:
		data := make([]float64, shape.Size())
		for ii := range data {
			data[ii] = inst.Literal().Value(ii)
		}
		return Array(shape, data...)

	case op == OpTypeTuple:
		return &Value{Shape: shape.Clone(), Elements: operands}

	case op == OpTypeGetTupleElement:
		return operands[0].Elements[inst.TupleIndex()]

	case op == OpTypeCall || op == OpTypeFusion:
		return evaluate(inst.CalledRegions()[0], operands)

	case op == OpTypeReshape || op == OpTypeConvert || op == OpTypeBitcast:
		return Array(shape, operands[0].Data...)

	case op == OpTypeBroadcast:
		return broadcast(inst, operands[0])

	case ElementwiseUnaryOps.Has(op):
		fn := unaryFns[op]
		if fn == nil {
			exceptions.Panicf("unsupported unary op in %s", inst)
		}
		return elementwise(shape, operands, func(x []float64) float64 { return fn(x[0]) })

	case ElementwiseBinaryOps.Has(op):
		fn := binaryFns[op]
		if fn == nil {
			exceptions.Panicf("unsupported binary op in %s", inst)
		}
		return elementwise(shape, operands, func(x []float64) float64 { return fn(x[0], x[1]) })

	case op == OpTypeSelect:
		return elementwise(shape, operands, func(x []float64) float64 {
			if x[0] != 0 {
				return x[1]
			}
			return x[2]
		})

	case op == OpTypeClamp:
		return elementwise(shape, operands, func(x []float64) float64 { return math.Min(math.Max(x[1], x[0]), x[2]) })
	}
	exceptions.Panicf("irtest cannot evaluate %s", inst)
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var unaryFns = map[OpType]func(float64) float64{
	OpTypeAbs:        math.Abs,
	OpTypeCeil:       math.Ceil,
	OpTypeCos:        math.Cos,
	OpTypeExp:        math.Exp,
	OpTypeExpm1:      math.Expm1,
	OpTypeFloor:      math.Floor,
	OpTypeLog:        math.Log,
	OpTypeLog1p:      math.Log1p,
	OpTypeLogicalNot: func(x float64) float64 { return boolToFloat(x == 0) },
	OpTypeLogistic:   func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
	OpTypeNeg:        func(x float64) float64 { return -x },
	OpTypeRound:      math.Round,
	OpTypeRsqrt:      func(x float64) float64 { return 1 / math.Sqrt(x) },
	OpTypeSin:        math.Sin,
	OpTypeSqrt:       math.Sqrt,
	OpTypeTanh:       math.Tanh,
	OpTypeSign: func(x float64) float64 {
		switch {
		case x > 0:
			return 1
		case x < 0:
			return -1
		}
		return 0
	},
}

var binaryFns = map[OpType]func(x, y float64) float64{
	OpTypeAdd:            func(x, y float64) float64 { return x + y },
	OpTypeSub:            func(x, y float64) float64 { return x - y },
	OpTypeMul:            func(x, y float64) float64 { return x * y },
	OpTypeDiv:            func(x, y float64) float64 { return x / y },
	OpTypeMax:            math.Max,
	OpTypeMin:            math.Min,
	OpTypePow:            math.Pow,
	OpTypeRem:            math.Mod,
	OpTypeAtan2:          math.Atan2,
	OpTypeEqual:          func(x, y float64) float64 { return boolToFloat(x == y) },
	OpTypeNotEqual:       func(x, y float64) float64 { return boolToFloat(x != y) },
	OpTypeLessThan:       func(x, y float64) float64 { return boolToFloat(x < y) },
	OpTypeLessOrEqual:    func(x, y float64) float64 { return boolToFloat(x <= y) },
	OpTypeGreaterThan:    func(x, y float64) float64 { return boolToFloat(x > y) },
	OpTypeGreaterOrEqual: func(x, y float64) float64 { return boolToFloat(x >= y) },
	OpTypeLogicalAnd:     func(x, y float64) float64 { return boolToFloat(x != 0 && y != 0) },
	OpTypeLogicalOr:      func(x, y float64) float64 { return boolToFloat(x != 0 || y != 0) },
}

// strides returns the row-major strides of the dimensions.
func strides(dims []int) []int {
	s := make([]int, len(dims))
	stride := 1
	for axis := len(dims) - 1; axis >= 0; axis-- {
		s[axis] = stride
		stride *= dims[axis]
	}
	return s
}

// elementwise applies fn to the operands, broadcasting scalars and axes of dimension 1.
func elementwise(shape shapes.Shape, operands []*Value, fn func(x []float64) float64) *Value {
	outStrides := strides(shape.Dimensions)
	operandStrides := make([][]int, len(operands))
	for ii, operand := range operands {
		if !operand.Shape.IsScalar() && operand.Shape.Rank() != shape.Rank() {
			exceptions.Panicf("elementwise operand #%d has shape %s, output %s", ii, operand.Shape, shape)
		}
		operandStrides[ii] = strides(operand.Shape.Dimensions)
	}
	data := make([]float64, shape.Size())
	x := make([]float64, len(operands))
	for flat := range data {
		for ii, operand := range operands {
			idx := 0
			for axis, dim := range operand.Shape.Dimensions {
				if dim != 1 {
					idx += (flat / outStrides[axis] % shape.Dimensions[axis]) * operandStrides[ii][axis]
				}
			}
			x[ii] = operand.Data[idx]
		}
		data[flat] = fn(x)
	}
	return Array(shape, data...)
}

// broadcast maps axis i of the operand to axis Dimensions()[i] of the output.
func broadcast(inst *ir.Instruction, operand *Value) *Value {
	shape := inst.Shape()
	axes := inst.Dimensions()
	outStrides := strides(shape.Dimensions)
	operandStrides := strides(operand.Shape.Dimensions)
	data := make([]float64, shape.Size())
	for flat := range data {
		idx := 0
		for axis, outAxis := range axes {
			if operand.Shape.Dimensions[axis] != 1 {
				idx += (flat / outStrides[outAxis] % shape.Dimensions[outAxis]) * operandStrides[axis]
			}
		}
		data[flat] = operand.Data[idx]
	}
	return Array(shape, data...)
}
