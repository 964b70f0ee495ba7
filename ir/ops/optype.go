// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ops defines OpType, the closed enum of the operations of the IR, and its classifications.
package ops

import (
	"github.com/gomlx/outliner/types"
)

// OpType is the closed enum of the operations an Instruction can perform.
//
// Operations that are not part of the enum are expressed as OpTypeCustomCall, with a target name
// registered with RegisterCustomOp.
type OpType int

//go:generate go tool enumer -type=OpType -trimprefix=OpType -output=gen_optype_enumer.go optype.go

const (
	OpTypeInvalid OpType = iota
	OpTypeParameter
	OpTypeConstant
	OpTypeIota
	OpTypeRng
	OpTypeInfeed
	OpTypeOutfeed
	OpTypeCustomCall
	OpTypeTuple
	OpTypeGetTupleElement
	OpTypeCall
	OpTypeWhile
	OpTypeFusion
	OpTypeReduce
	OpTypeReduceWindow
	OpTypeBroadcast
	OpTypeReshape
	OpTypeTranspose
	OpTypeConvert
	OpTypeBitcast
	OpTypeConvolution
	OpTypeDot
	OpTypeDynamicSlice
	OpTypeDynamicUpdateSlice
	OpTypeScatter
	OpTypeGather
	OpTypeConcatenate
	OpTypeSlice
	OpTypePad
	OpTypeAllReduce

	// Elementwise unary operations.

	OpTypeAbs
	OpTypeCeil
	OpTypeClz
	OpTypeCos
	OpTypeExp
	OpTypeExpm1
	OpTypeFloor
	OpTypeIsFinite
	OpTypeLog
	OpTypeLog1p
	OpTypeLogicalNot
	OpTypeLogistic
	OpTypeNeg
	OpTypeRound
	OpTypeRsqrt
	OpTypeSign
	OpTypeSin
	OpTypeSqrt
	OpTypeTanh

	// Elementwise binary operations.

	OpTypeAdd
	OpTypeAtan2
	OpTypeDiv
	OpTypeEqual
	OpTypeGreaterOrEqual
	OpTypeGreaterThan
	OpTypeLessOrEqual
	OpTypeLessThan
	OpTypeNotEqual
	OpTypeMax
	OpTypeMin
	OpTypeMul
	OpTypePow
	OpTypeRem
	OpTypeSub
	OpTypeLogicalAnd
	OpTypeLogicalOr
	OpTypeShiftLeft
	OpTypeShiftRightArithmetic
	OpTypeShiftRightLogical

	// Elementwise ternary operations.

	OpTypeSelect
	OpTypeClamp

	// OpTypeLast should always be kept the last, it is used as a counter/marker for OpType.
	OpTypeLast
)

var (
	// ElementwiseUnaryOps maps each element of the single operand to one element of the output.
	ElementwiseUnaryOps = types.SetWith(
		OpTypeAbs, OpTypeCeil, OpTypeClz, OpTypeCos, OpTypeExp, OpTypeExpm1, OpTypeFloor,
		OpTypeIsFinite, OpTypeLog, OpTypeLog1p, OpTypeLogicalNot, OpTypeLogistic, OpTypeNeg,
		OpTypeRound, OpTypeRsqrt, OpTypeSign, OpTypeSin, OpTypeSqrt, OpTypeTanh,
	)

	// ElementwiseBinaryOps combine the elements of two operands (with broadcasting).
	ElementwiseBinaryOps = types.SetWith(
		OpTypeAdd, OpTypeAtan2, OpTypeDiv, OpTypeEqual, OpTypeGreaterOrEqual, OpTypeGreaterThan,
		OpTypeLessOrEqual, OpTypeLessThan, OpTypeNotEqual, OpTypeMax, OpTypeMin, OpTypeMul, OpTypePow,
		OpTypeRem, OpTypeSub, OpTypeLogicalAnd, OpTypeLogicalOr, OpTypeShiftLeft,
		OpTypeShiftRightArithmetic, OpTypeShiftRightLogical,
	)

	// ElementwiseTernaryOps are Select and Clamp.
	ElementwiseTernaryOps = types.SetWith(OpTypeSelect, OpTypeClamp)

	// SideEffectOps are never removed, duplicated or reordered by the passes.
	// Custom calls may also have side effects, see RegisterCustomOp.
	SideEffectOps = types.SetWith(OpTypeInfeed, OpTypeOutfeed, OpTypeRng, OpTypeAllReduce)
)

// IsElementwise returns whether the op type is an elementwise operation.
func (op OpType) IsElementwise() bool {
	return ElementwiseUnaryOps.Has(op) || ElementwiseBinaryOps.Has(op) || ElementwiseTernaryOps.Has(op)
}

// AssociativityClass returns the associativity class of an op type, and whether it is associative at all.
//
// Operations in the same class can be re-associated freely among themselves: all classes are both
// associative and commutative. Each associative op type is its own class, so Add and Mul are never mixed.
func (op OpType) AssociativityClass() (class OpType, ok bool) {
	switch op {
	case OpTypeAdd, OpTypeMul, OpTypeMax, OpTypeMin, OpTypeLogicalAnd, OpTypeLogicalOr:
		return op, true
	}
	return OpTypeInvalid, false
}
