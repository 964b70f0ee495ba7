// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import "github.com/gomlx/exceptions"

// Flatten returns the array leaves of the shape in depth-first order.
// For an array shape it returns the shape itself.
func (s Shape) Flatten() []Shape {
	if !s.IsTuple() {
		return []Shape{s}
	}
	var leaves []Shape
	for _, element := range s.TupleShapes {
		leaves = append(leaves, element.Flatten()...)
	}
	return leaves
}

// LeafCount returns the number of array leaves of the shape. It is 1 for array shapes.
func (s Shape) LeafCount() int {
	if !s.IsTuple() {
		return 1
	}
	count := 0
	for _, element := range s.TupleShapes {
		count += element.LeafCount()
	}
	return count
}

// Leaf returns the leaf with the given flattened index.
// It panics if the index is out of range.
func (s Shape) Leaf(flatIndex int) Shape {
	leaves := s.Flatten()
	if flatIndex < 0 || flatIndex >= len(leaves) {
		exceptions.Panicf("Shape.Leaf(%d) out-of-bounds for shape %s with %d leaves", flatIndex, s, len(leaves))
	}
	return leaves[flatIndex]
}

// LeafOffset returns the flattened index of the first leaf of the tuple element tupleIndex.
// It panics if s is not a tuple or if tupleIndex is out of range.
func (s Shape) LeafOffset(tupleIndex int) int {
	if !s.IsTuple() {
		exceptions.Panicf("Shape.LeafOffset(%d) requires a tuple, got %s", tupleIndex, s)
	}
	if tupleIndex < 0 || tupleIndex >= s.TupleSize() {
		exceptions.Panicf("Shape.LeafOffset(%d) out-of-bounds for tuple %s", tupleIndex, s)
	}
	offset := 0
	for _, element := range s.TupleShapes[:tupleIndex] {
		offset += element.LeafCount()
	}
	return offset
}

// InsertIntoTuple returns the flattened index, within tupleShape, of the leaf flatIndex of the
// element tupleIndex.
func InsertIntoTuple(tupleShape Shape, tupleIndex, flatIndex int) int {
	return tupleShape.LeafOffset(tupleIndex) + flatIndex
}

// ExtractFromTuple is the inverse of InsertIntoTuple: given the flattened index of a leaf of
// tupleShape it returns the flattened index of that leaf within the element tupleIndex.
// It returns -1 if the leaf is not part of that element.
func ExtractFromTuple(tupleShape Shape, tupleIndex, flatIndex int) int {
	start := tupleShape.LeafOffset(tupleIndex)
	end := start + tupleShape.TupleShapes[tupleIndex].LeafCount()
	if flatIndex < start || flatIndex >= end {
		return -1
	}
	return flatIndex - start
}

// BroadcastCompatible returns whether the dimensions of the two array shapes can be broadcast
// together, aligning the axes from the end: each pair of dimensions must be equal, or one of them 1.
// DTypes are not compared. Tuples are never compatible.
func BroadcastCompatible(a, b Shape) bool {
	if a.IsTuple() || b.IsTuple() {
		return false
	}
	for ii := 1; ii <= min(a.Rank(), b.Rank()); ii++ {
		aDim, bDim := a.Dimensions[a.Rank()-ii], b.Dimensions[b.Rank()-ii]
		if aDim != bDim && aDim != 1 && bDim != 1 {
			return false
		}
	}
	return true
}
