// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import "slices"

// CustomOpInfo describes a custom call target, registered with RegisterCustomOp.
type CustomOpInfo struct {
	// AllocatingIndices are the operand positions whose memory layout is dictated by the custom op.
	AllocatingIndices []int

	// SideEffect marks custom calls that must never be removed, duplicated or reordered.
	SideEffect bool

	// Elementwise marks custom calls that operate elementwise on their operands.
	Elementwise bool
}

// IsAllocating returns whether the operand position is an allocating index.
func (info CustomOpInfo) IsAllocating(operandIndex int) bool {
	return slices.Contains(info.AllocatingIndices, operandIndex)
}

// FusionKindInfo describes how passes see through a fusion kind, registered with RegisterFusionKind.
type FusionKindInfo struct {
	// AllocatingIndices are the operand positions whose memory layout is dictated by the fused computation.
	AllocatingIndices []int

	// Transparent fusions are looked into by layout propagation, as if their region was a call.
	Transparent bool

	// WideConstant fusions broadcast a constant: they are treated like constants (no device placement,
	// sources of allocations).
	WideConstant bool
}

// IsAllocating returns whether the operand position is an allocating index.
func (info FusionKindInfo) IsAllocating(operandIndex int) bool {
	return slices.Contains(info.AllocatingIndices, operandIndex)
}

var (
	registeredCustomOps   = make(map[string]CustomOpInfo)
	registeredFusionKinds = make(map[string]FusionKindInfo)
)

// RegisterCustomOp registers the information of a custom call target.
//
// To be safe, call RegisterCustomOp during initialization of a package.
func RegisterCustomOp(target string, info CustomOpInfo) {
	registeredCustomOps[target] = info
}

// LookupCustomOp returns the information registered for a custom call target.
func LookupCustomOp(target string) (info CustomOpInfo, found bool) {
	info, found = registeredCustomOps[target]
	return
}

// RegisterFusionKind registers the information of a fusion kind.
//
// To be safe, call RegisterFusionKind during initialization of a package.
func RegisterFusionKind(kind string, info FusionKindInfo) {
	registeredFusionKinds[kind] = info
}

// LookupFusionKind returns the information registered for a fusion kind.
func LookupFusionKind(kind string) (info FusionKindInfo, found bool) {
	info, found = registeredFusionKinds[kind]
	return
}

const (
	// FusionKindWideConstant is the fusion kind of a constant broadcast to a larger shape.
	FusionKindWideConstant = "wide_const"

	// FusionKindDepthwiseConv is the fusion kind of a depthwise convolution, which allocates both its
	// input and its kernel.
	FusionKindDepthwiseConv = "depthwise_conv"
)

func init() {
	RegisterFusionKind(FusionKindWideConstant, FusionKindInfo{WideConstant: true})
	RegisterFusionKind(FusionKindDepthwiseConv, FusionKindInfo{AllocatingIndices: []int{0, 1}})
}
