// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/outliner/types/shapes"
)

// Literal is the value of a constant instruction.
//
// Values are stored as float64 regardless of the dtype, one per element in row-major order, or a
// single value for a "splat" literal where every element has the same value.
type Literal struct {
	shape  shapes.Shape
	values []float64
}

// NewLiteral creates a literal with the given shape. values must either have one value per element of
// the shape, or a single value used for all elements.
func NewLiteral(shape shapes.Shape, values ...float64) *Literal {
	if shape.IsTuple() || !shape.Ok() {
		exceptions.Panicf("NewLiteral(%s): literals must have an array shape", shape)
	}
	if len(values) != 1 && len(values) != shape.Size() {
		exceptions.Panicf("NewLiteral(%s): got %d values, wanted 1 or %d", shape, len(values), shape.Size())
	}
	return &Literal{shape: shape.Clone(), values: slices.Clone(values)}
}

// NewScalarLiteral creates a scalar literal of the given dtype.
func NewScalarLiteral(dtype dtypes.DType, value float64) *Literal {
	return NewLiteral(shapes.Make(dtype), value)
}

// Shape of the literal.
func (l *Literal) Shape() shapes.Shape { return l.shape }

// IsScalar returns whether the literal is a scalar.
func (l *Literal) IsScalar() bool { return l.shape.IsScalar() }

// Value returns the element at the flat (row-major) index.
func (l *Literal) Value(flatIndex int) float64 {
	if len(l.values) == 1 {
		return l.values[0]
	}
	return l.values[flatIndex]
}

// IsAll returns whether every element of the literal equals value.
func (l *Literal) IsAll(value float64) bool {
	for _, v := range l.values {
		if v != value {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer.
func (l *Literal) String() string {
	if l == nil {
		return "<nil>"
	}
	if len(l.values) == 1 {
		return fmt.Sprintf("%g", l.values[0])
	}
	return fmt.Sprintf("%v", l.values)
}
