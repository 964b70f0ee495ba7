// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package annotations holds the per-compilation information shared by the passes: which instructions
// mutate their operands in place, how convolutions are classified and which calls were created from
// which outlined regions.
//
// An Annotations object is created fresh for each compilation, written by the passes that own each
// piece of information, and frozen (see Annotations.Freeze) once later stages only read it.
package annotations

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/types"
)

// ConvClass is the role of a convolution (or dot) in the training graph.
type ConvClass int

const (
	// Unclassified is the zero value, used for instructions that were never classified.
	Unclassified ConvClass = iota
	Forward
	Inference
	BackpropInput
	BackpropFilter
)

var convClassNames = []string{"Unclassified", "Forward", "Inference", "BackpropInput", "BackpropFilter"}

// String implements fmt.Stringer.
func (c ConvClass) String() string {
	if c < 0 || int(c) >= len(convClassNames) {
		return fmt.Sprintf("ConvClass(%d)", int(c))
	}
	return convClassNames[c]
}

// IsForward returns whether the class is part of the forward computation (training or inference).
func (c ConvClass) IsForward() bool {
	return c == Forward || c == Inference
}

// Annotations is the explicit context passed to the passes of one compilation.
//
// It is only accessed through its methods, so that once frozen it can no longer be changed.
type Annotations struct {
	// inplaceInstructions mutate (one of) their operands in place. They are never duplicated, and
	// never fused by the expression outliner.
	inplaceInstructions types.Set[*ir.Instruction]

	// inplaceCalls maps fused calls created from patterns with in-place inputs, to the operand
	// positions that the call mutates.
	inplaceCalls map[*ir.Instruction][]int

	// classification of convolutions and dot products. Missing instructions are Unclassified.
	classification map[*ir.Instruction]ConvClass

	// fusionMap maps each outlined region to the instruction calling it.
	fusionMap map[*ir.Region]*ir.Instruction

	frozen bool
}

// New returns empty Annotations.
func New() *Annotations {
	return &Annotations{
		inplaceInstructions: types.MakeSet[*ir.Instruction](),
		inplaceCalls:        make(map[*ir.Instruction][]int),
		classification:      make(map[*ir.Instruction]ConvClass),
		fusionMap:           make(map[*ir.Region]*ir.Instruction),
	}
}

// Freeze marks the point after which the annotations are read-only: any further write panics.
func (a *Annotations) Freeze() { a.frozen = true }

// IsFrozen returns whether Freeze was called.
func (a *Annotations) IsFrozen() bool { return a.frozen }

func (a *Annotations) checkWritable(method string) {
	if a.frozen {
		exceptions.Panicf("Annotations.%s: annotations are frozen", method)
	}
}

// MarkInplace records that inst mutates one of its operands in place.
func (a *Annotations) MarkInplace(inst *ir.Instruction) {
	a.checkWritable("MarkInplace")
	a.inplaceInstructions.Insert(inst)
}

// IsInplace returns whether inst mutates one of its operands in place, either because it was marked
// with MarkInplace or because it is a fused call with in-place operands.
func (a *Annotations) IsInplace(inst *ir.Instruction) bool {
	if a == nil {
		return false
	}
	if a.inplaceInstructions.Has(inst) {
		return true
	}
	_, found := a.inplaceCalls[inst]
	return found
}

// AddInplaceCall records that the fused call mutates its operands at the given positions.
func (a *Annotations) AddInplaceCall(call *ir.Instruction, operandIndices []int) {
	a.checkWritable("AddInplaceCall")
	a.inplaceCalls[call] = slices.Clone(operandIndices)
}

// IsMutatedInPlace returns whether inst is an operand that some in-place instruction or fused call
// (other than except) writes to.
func (a *Annotations) IsMutatedInPlace(inst, except *ir.Instruction) bool {
	if a == nil {
		return false
	}
	for call, indices := range a.inplaceCalls {
		if call == except || call.Region() == nil {
			continue
		}
		for _, idx := range indices {
			if idx < call.NumOperands() && call.Operand(idx) == inst {
				return true
			}
		}
	}
	for user := range a.inplaceInstructions {
		if user != except && user.Region() != nil && user.OperandIndex(inst) != -1 {
			return true
		}
	}
	return false
}

// Classify records the class of a convolution or dot instruction.
func (a *Annotations) Classify(inst *ir.Instruction, class ConvClass) {
	a.checkWritable("Classify")
	a.classification[inst] = class
}

// ClassOf returns the class of inst, Unclassified if it was never classified.
func (a *Annotations) ClassOf(inst *ir.Instruction) ConvClass {
	if a == nil {
		return Unclassified
	}
	return a.classification[inst]
}

// InplaceCall returns the operand positions mutated in place by the fused call, or nil if call is not
// an in-place fused call.
func (a *Annotations) InplaceCall(call *ir.Instruction) []int {
	if a == nil {
		return nil
	}
	return slices.Clone(a.inplaceCalls[call])
}

// NumInplaceCalls returns the number of fused calls recorded with AddInplaceCall.
func (a *Annotations) NumInplaceCalls() int {
	if a == nil {
		return 0
	}
	return len(a.inplaceCalls)
}

// FusionCall returns the instruction calling the outlined region, or nil if region was not recorded
// with RecordFusion.
func (a *Annotations) FusionCall(region *ir.Region) *ir.Instruction {
	if a == nil {
		return nil
	}
	return a.fusionMap[region]
}

// NumFusions returns the number of outlined regions recorded.
func (a *Annotations) NumFusions() int {
	if a == nil {
		return 0
	}
	return len(a.fusionMap)
}

// RecordFusion records that region was outlined and is called by call.
func (a *Annotations) RecordFusion(region *ir.Region, call *ir.Instruction) {
	a.checkWritable("RecordFusion")
	a.fusionMap[region] = call
}

// Forget removes every annotation of inst, e.g. because it was removed from its region.
func (a *Annotations) Forget(inst *ir.Instruction) {
	a.checkWritable("Forget")
	a.inplaceInstructions.Remove(inst)
	delete(a.inplaceCalls, inst)
	delete(a.classification, inst)
}

// Transfer moves the annotations of from to to, used when an instruction is replaced by a clone
// (e.g. when outlined into a new region).
func (a *Annotations) Transfer(from, to *ir.Instruction) {
	a.checkWritable("Transfer")
	if a.inplaceInstructions.Has(from) {
		a.inplaceInstructions.Remove(from)
		a.inplaceInstructions.Insert(to)
	}
	if class, found := a.classification[from]; found {
		delete(a.classification, from)
		a.classification[to] = class
	}
	if indices, found := a.inplaceCalls[from]; found {
		delete(a.inplaceCalls, from)
		a.inplaceCalls[to] = indices
	}
}
