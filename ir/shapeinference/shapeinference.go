// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapeinference calculates the shape resulting from IR operations and validates their inputs.
//
// It is used by the ir.Region builders, so that every instruction carries a valid shape.
//
// It defines a BinaryOp function for shape inference for the majority of binary functions, using the standard
// broadcasting rules. The unary functions don't change the shape.
//
// For the remainder ops, it defines one function per OpType.
package shapeinference

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/types"
	"github.com/gomlx/outliner/types/shapes"
	"github.com/pkg/errors"
)

var (
	// BooleanOperations take booleans as input, aka. logical operations.
	BooleanOperations = types.SetWith(
		ops.OpTypeLogicalAnd,
		ops.OpTypeLogicalOr,
		ops.OpTypeLogicalNot,
	)

	// BitwiseOperations operates only on integer (binary) numbers and won't work on floats or complex numbers.
	BitwiseOperations = types.SetWith(
		ops.OpTypeShiftLeft,
		ops.OpTypeShiftRightArithmetic,
		ops.OpTypeShiftRightLogical,
		ops.OpTypeClz,
	)

	// NumberOperations can take any type of number as input: integers, floats, or complex numbers.
	NumberOperations = types.SetWith(
		ops.OpTypeAdd,
		ops.OpTypeSub,
		ops.OpTypeMul,
		ops.OpTypeDiv,
		ops.OpTypePow,
		ops.OpTypeRem,
		ops.OpTypeAbs,
		ops.OpTypeSign,
		ops.OpTypeEqual,
		ops.OpTypeNotEqual,
		ops.OpTypeGreaterOrEqual,
		ops.OpTypeGreaterThan,
		ops.OpTypeLessOrEqual,
		ops.OpTypeLessThan,
	)

	SignedNumberOperations = types.SetWith(
		ops.OpTypeNeg,
	)

	// FloatOperations operates only on float (and not on complex numbers).
	FloatOperations = types.SetWith(
		ops.OpTypeAtan2,
		ops.OpTypeLogistic,
		ops.OpTypeCos,
		ops.OpTypeSin,
		ops.OpTypeTanh,
		ops.OpTypeIsFinite,
	)

	// FloatOrComplexOperations operates only on float or complex numbers and won't work on integer or boolean values.
	FloatOrComplexOperations = types.SetWith(
		ops.OpTypeExp,
		ops.OpTypeExpm1,
		ops.OpTypeLog,
		ops.OpTypeLog1p,
		ops.OpTypeCeil,
		ops.OpTypeFloor,
		ops.OpTypeRound,
		ops.OpTypeRsqrt,
		ops.OpTypeSqrt,
	)

	// StandardBinaryOperations include all operations that have two operands usually named lhs (left-hand-side) and
	// rhs (right-hand-side) and whose output has the broadcast shape and the dtype of the operands.
	StandardBinaryOperations = types.SetWith(
		ops.OpTypeAdd,
		ops.OpTypeAtan2,
		ops.OpTypeSub,
		ops.OpTypeMul,
		ops.OpTypeDiv,
		ops.OpTypePow,
		ops.OpTypeRem,
		ops.OpTypeLogicalAnd,
		ops.OpTypeLogicalOr,
		ops.OpTypeMax,
		ops.OpTypeMin,
		ops.OpTypeShiftLeft,
		ops.OpTypeShiftRightArithmetic,
		ops.OpTypeShiftRightLogical,
	)

	// ComparisonOperations include all operations that take two inputs and returns booleans with the results of
	// a comparison.
	ComparisonOperations = types.SetWith(
		ops.OpTypeEqual,
		ops.OpTypeNotEqual,
		ops.OpTypeGreaterOrEqual,
		ops.OpTypeGreaterThan,
		ops.OpTypeLessOrEqual,
		ops.OpTypeLessThan,
	)
)

// dtypeCheck validates the dtype of an operand against the op type families above.
func dtypeCheck(kind string, opType ops.OpType, operand shapes.Shape) error {
	dtype := operand.DType
	if BooleanOperations.Has(opType) && dtype != dtypes.Bool {
		return errors.Errorf("logical %s %s must have boolean (dtype.Bool) data types as input, got %s", kind, opType, operand)
	}
	if BitwiseOperations.Has(opType) && !dtype.IsInt() {
		return errors.Errorf("bitwise %s %s must have an integer (Int8, UInt8, Int32, ...) data type as input, got %s", kind, opType, operand)
	}
	if SignedNumberOperations.Has(opType) && (dtype.IsUnsigned() || !(dtype.IsInt() || dtype.IsFloat() || dtype.IsComplex())) {
		return errors.Errorf("signed %s %s must have a signed data type as input, got %s", kind, opType, operand)
	}
	if NumberOperations.Has(opType) && !(dtype.IsInt() || dtype.IsFloat() || dtype.IsComplex()) {
		return errors.Errorf("numeric %s %s must have a number (Int32, Float32, Complex64, ...) data type as input, got %s", kind, opType, operand)
	}
	if FloatOperations.Has(opType) && !dtype.IsFloat() {
		return errors.Errorf("float %s %s must have a float (Float32, Float64, ...) data type as input, got %s", kind, opType, operand)
	}
	if FloatOrComplexOperations.Has(opType) && !(dtype.IsFloat() || dtype.IsComplex()) {
		return errors.Errorf("float/complex %s %s must have a float or complex (Float32, Complex64, ...) data type as input, got %s", kind, opType, operand)
	}
	return nil
}

// BinaryOp returns the expected output shape for ops in the StandardBinaryOperations set.
//
// It returns an error if the data type (shape.DType) is invalid for the operation -- e.g.: non-matching
// dtypes, or LogicalAnd not having booleans (dtype.Bool) as input.
func BinaryOp(opType ops.OpType, lhsShape, rhsShape shapes.Shape) (output shapes.Shape, err error) {
	if !StandardBinaryOperations.Has(opType) {
		err = errors.Errorf("operation %s is not in the StandardBinaryOperations set, cannot process it with BinaryOp", opType)
		return
	}
	if lhsShape.IsTuple() || rhsShape.IsTuple() || !lhsShape.Ok() || !rhsShape.Ok() {
		err = errors.Errorf("invalid shape for %s or %s for BinaryOp %s", lhsShape, rhsShape, opType)
		return
	}
	if lhsShape.DType != rhsShape.DType {
		err = errors.Errorf("data types (DType) for BinaryOp %s must match, got %s and %s", opType, lhsShape, rhsShape)
		return
	}
	if err = dtypeCheck("BinaryOp", opType, lhsShape); err != nil {
		return
	}
	return binaryOpImpl(opType, lhsShape, rhsShape)
}

func binaryOpImpl(opType ops.OpType, lhsShape, rhsShape shapes.Shape) (output shapes.Shape, err error) {
	// Trivial cases: if one of the sides is a scalar, return the other side shape.
	if lhsShape.IsScalar() {
		return rhsShape.Clone(), nil
	}
	if rhsShape.IsScalar() {
		return lhsShape.Clone(), nil
	}

	// Other cases, either the dimensions match or one of them is 1.
	if lhsShape.Rank() != rhsShape.Rank() {
		err = errors.Errorf("if operands are not scalars, their rank must match for BinaryOp (%s), got shapes %s and %s",
			opType, lhsShape, rhsShape)
		return
	}
	output = lhsShape.Clone()
	for axis := range output.Rank() {
		lhsDim := lhsShape.Dimensions[axis]
		rhsDim := rhsShape.Dimensions[axis]
		if lhsDim != 1 && rhsDim != 1 && lhsDim != rhsDim {
			err = errors.Errorf("dimension of axis #%d doesn't match and cannot be broadcast for BinaryOp (%s), got shapes %s and %s",
				axis, opType, lhsShape, rhsShape)
			return
		}
		output.Dimensions[axis] = max(lhsDim, rhsDim)
	}
	return
}

// ComparisonOp returns the broadcast shape with dtype set to Bool, for comparison operations (Equal, LessThan, GreaterOrEqual, etc.)
func ComparisonOp(opType ops.OpType, lhsShape, rhsShape shapes.Shape) (output shapes.Shape, err error) {
	if !ComparisonOperations.Has(opType) {
		err = errors.Errorf("operation %s is not in the ComparisonOperations set, cannot process it with ComparisonOp", opType)
		return
	}
	if lhsShape.IsTuple() || rhsShape.IsTuple() || !lhsShape.Ok() || !rhsShape.Ok() {
		err = errors.Errorf("invalid shape for %s or %s for ComparisonOp %s", lhsShape, rhsShape, opType)
		return
	}
	if lhsShape.DType != rhsShape.DType {
		err = errors.Errorf("data types (DType) for ComparisonOp %s must match, got %s and %s", opType, lhsShape, rhsShape)
		return
	}
	output, err = binaryOpImpl(opType, lhsShape, rhsShape)
	if err != nil {
		return
	}
	output.DType = dtypes.Bool
	return
}

// UnaryOp checks the validity of the data type for elementwise unary operations and returns either an error or
// the output shape, which is the same as the operand (Bool for IsFinite).
func UnaryOp(opType ops.OpType, operand shapes.Shape) (output shapes.Shape, err error) {
	if !ops.ElementwiseUnaryOps.Has(opType) {
		err = errors.Errorf("operation %s is not an elementwise unary operation, cannot process it with UnaryOp", opType)
		return
	}
	if operand.IsTuple() || !operand.Ok() {
		err = errors.Errorf("invalid shape %s for UnaryOp %s", operand, opType)
		return
	}
	if err = dtypeCheck("UnaryOp", opType, operand); err != nil {
		return
	}
	output = operand.Clone()
	if opType == ops.OpTypeIsFinite {
		output.DType = dtypes.Bool
	}
	return
}

// SelectOp returns the shape resulting from the Select operation.
//
// Shape constraints for the operation:
//
//  1. The onTrue and onFalse must have the exact same shape.
//  2. The predicate must either be a scalar or match the shape of onTrue, except for the DType that
//     must be Bool.
func SelectOp(predicate, onTrue, onFalse shapes.Shape) (output shapes.Shape, err error) {
	if predicate.DType != dtypes.Bool {
		err = errors.Errorf("predicate for Select() must be a boolean, got %s instead", predicate)
		return
	}
	if !onTrue.Equal(onFalse) {
		err = errors.Errorf("onTrue (%s) and onFalse (%s) values for Select() must match each other's shape",
			onTrue, onFalse)
		return
	}
	if !predicate.IsScalar() && !slices.Equal(predicate.Dimensions, onTrue.Dimensions) {
		err = errors.Errorf("predicate for Select() must either be a scalar or match the output shape (not the DType), instead got shapes predicate=%s, onTrue=%s and onFalse=%s",
			predicate, onTrue, onFalse)
		return
	}
	return onTrue.Clone(), nil
}

// ClampOp returns the shape of Clamp(minValue, operand, maxValue): minValue and maxValue must be scalars
// or have the shape of the operand.
func ClampOp(minValue, operand, maxValue shapes.Shape) (output shapes.Shape, err error) {
	for _, bound := range []shapes.Shape{minValue, maxValue} {
		if bound.DType != operand.DType {
			err = errors.Errorf("Clamp() bounds must have the same dtype as the operand %s, got %s", operand, bound)
			return
		}
		if !bound.IsScalar() && !bound.Equal(operand) {
			err = errors.Errorf("Clamp() bounds must be scalars or match the operand shape %s, got %s", operand, bound)
			return
		}
	}
	return operand.Clone(), nil
}

// ReshapeOp to the given dimensions: trivial output shape, but this function also checks
// that the sizes are the same.
func ReshapeOp(operand shapes.Shape, dims []int) (output shapes.Shape, err error) {
	if operand.IsTuple() {
		return shapes.Invalid(), errors.Errorf("Reshape() cannot reshape tuple %s", operand)
	}
	output = shapes.Make(operand.DType, dims...)
	if operand.Size() != output.Size() {
		err = errors.Errorf("Reshape() cannot reshape %s to dimensions %v, their size don't match",
			operand, dims)
		return shapes.Invalid(), err
	}
	return
}

// TransposeOp all axes of the operand.
// There must be one value in permutations for each axis in the operand.
// The output will have: output.Shape.Dimension[ii] = operand.Shape.Dimension[permutations[i]].
func TransposeOp(operand shapes.Shape, permutations []int) (output shapes.Shape, err error) {
	rank := operand.Rank()
	if len(permutations) != rank {
		err = errors.Errorf("Transpose() requires all axes permutations to be defined, operand has shape %s, but %d permutations were given",
			operand, len(permutations))
		return
	}
	if rank == 0 {
		return operand, nil
	}

	// Check permutation axes are within range and unique.
	axesSet := slices.Clone(permutations)
	slices.Sort(axesSet)
	for ii, srcAxis := range axesSet {
		if srcAxis < 0 || srcAxis >= rank {
			err = errors.Errorf("invalid permutation axis %d given to Transpose(%s), it must be within the range of its rank",
				srcAxis, operand)
			return
		}
		if ii > 0 && srcAxis == axesSet[ii-1] {
			err = errors.Errorf("invalid permutations given to Transpose(%s, %v), there cannot be any repeated axis, each must appear exactly once",
				operand, permutations)
			return
		}
	}

	output = operand.Clone()
	for axis := range output.Dimensions {
		srcAxis := permutations[axis]
		output.Dimensions[axis] = operand.Dimensions[srcAxis]
	}
	return
}

// BroadcastInDimOp verifies that the arguments are valid. The output shape is already known, so nothing is returned.
func BroadcastInDimOp(operand, outputShape shapes.Shape, broadcastAxes []int) error {
	if operand.DType != outputShape.DType {
		return errors.Errorf("Broadcast() cannot change the dtype of %s to %s", operand, outputShape)
	}
	if len(broadcastAxes) != operand.Rank() {
		return errors.Errorf("there must be exactly one broadcastAxes (%v) per axis in the operand (%s)",
			broadcastAxes, operand)
	}

	// Verify that the values of expandedAxis and create a map of the expanded axis.
	preservedSet := types.MakeSet[int](len(broadcastAxes))
	for axisInOperand, axisInOutput := range broadcastAxes {
		if axisInOutput < 0 || axisInOutput >= outputShape.Rank() {
			return errors.Errorf("broadcastAxes (%v) defines a value out-of-range (%d-th value -> %d), they must be between 0 and outputShape.Rank()-1=%d",
				broadcastAxes, axisInOperand, axisInOutput, outputShape.Rank()-1)
		}
		if preservedSet.Has(axisInOutput) {
			return errors.Errorf("broadcastAxes (%v) repeats axis %d (broadcastAxes[%d]), they must be all unique and between 0 and outputShape.Rank()-1=%d",
				broadcastAxes, axisInOutput, axisInOperand, outputShape.Rank()-1)
		}
		preservedSet.Insert(axisInOutput)
		if operand.Dimensions[axisInOperand] != 1 && operand.Dimensions[axisInOperand] != outputShape.Dimensions[axisInOutput] {
			return errors.Errorf("the values of outputShape (%v) that are being broadcast (listed in broadcastAxes) "+
				"must match the corresponding value in the operand shape (%s) or be 1 (if broadcasting), "+
				"but the value of outputShape.Dimensions[%d]=%d does not match the value in operand.Shape().Dimensions[%d]=%d",
				outputShape, operand, axisInOutput, outputShape.Dimensions[axisInOutput], axisInOperand, operand.Dimensions[axisInOperand])
		}
	}
	return nil
}

// ConcatenateOp calculates the output shape of a Concatenate operation.
// It takes a slice of input shapes and the dimension along which to concatenate.
func ConcatenateOp(inputs []shapes.Shape, axis int) (output shapes.Shape, err error) {
	if len(inputs) == 0 {
		return shapes.Invalid(), errors.Errorf("ConcatenateOp requires at least one input shape")
	}
	firstShape := inputs[0]
	rank := firstShape.Rank()
	output = firstShape.Clone()
	if firstShape.IsTuple() || !firstShape.Ok() {
		return shapes.Invalid(), errors.Errorf("invalid shape %s for first input of ConcatenateOp", firstShape)
	}
	if axis < 0 || axis >= rank {
		return shapes.Invalid(), errors.Errorf("invalid concatenation axis %d for shapes with rank %d", axis, rank)
	}
	for ii, currentShape := range inputs[1:] {
		if currentShape.DType != firstShape.DType || currentShape.Rank() != rank {
			return shapes.Invalid(), errors.Errorf("mismatched shapes for ConcatenateOp: input #0 is %s, input #%d is %s",
				firstShape, ii+1, currentShape)
		}
		for d := range rank {
			if d == axis {
				output.Dimensions[d] += currentShape.Dimensions[d]
			} else if currentShape.Dimensions[d] != output.Dimensions[d] {
				return shapes.Invalid(), errors.Errorf("mismatched dimensions for ConcatenateOp at axis %d (non-concatenation axis): input #0 has %d, input #%d has %d",
					d, output.Dimensions[d], ii+1, currentShape.Dimensions[d])
			}
		}
	}
	return output, nil
}

// DynamicUpdateSliceOp checks that the update fits in the operand and that there is one scalar integer
// start index per axis. The output has the shape of the operand.
func DynamicUpdateSliceOp(operand, update shapes.Shape, startIndices []shapes.Shape) (output shapes.Shape, err error) {
	if operand.DType != update.DType || operand.Rank() != update.Rank() {
		return shapes.Invalid(), errors.Errorf("DynamicUpdateSlice() update %s is not compatible with operand %s", update, operand)
	}
	for axis, dim := range update.Dimensions {
		if dim > operand.Dimensions[axis] {
			return shapes.Invalid(), errors.Errorf("DynamicUpdateSlice() update %s is larger than operand %s on axis %d", update, operand, axis)
		}
	}
	if len(startIndices) != operand.Rank() {
		return shapes.Invalid(), errors.Errorf("DynamicUpdateSlice() requires one start index per axis of %s, got %d", operand, len(startIndices))
	}
	for ii, index := range startIndices {
		if !index.IsScalar() || !index.DType.IsInt() {
			return shapes.Invalid(), errors.Errorf("DynamicUpdateSlice() start index #%d must be a scalar integer, got %s", ii, index)
		}
	}
	return operand.Clone(), nil
}
