// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/types/shapes"
)

// Sharding is the device placement of an instruction. A nil *Sharding means unconstrained.
type Sharding struct {
	Device int
}

// OnDevice returns a Sharding that places an instruction on the given device.
func OnDevice(device int) *Sharding {
	return &Sharding{Device: device}
}

// String implements fmt.Stringer.
func (s *Sharding) String() string {
	if s == nil {
		return "{unconstrained}"
	}
	return fmt.Sprintf("{device=%d}", s.Device)
}

// Metadata carries the user-level description of an instruction, e.g.: the name and type of
// the framework operation that originated it.
type Metadata struct {
	OpType, OpName string
}

// RngDistribution is the distribution sampled by an OpTypeRng instruction.
type RngDistribution int

const (
	RngUniform RngDistribution = iota
	RngNormal
)

// String implements fmt.Stringer.
func (d RngDistribution) String() string {
	if d == RngNormal {
		return "normal"
	}
	return "uniform"
}

// Instruction is a node of the dataflow graph of a Region.
//
// Operands and users are kept mutually consistent by the Region builders and the mutation
// methods: if `a` is an operand of `b`, then `b` is listed once in `a.Users()`.
type Instruction struct {
	id       int
	name     string
	opType   ops.OpType
	shape    shapes.Shape
	region   *Region
	operands []*Instruction
	users    []*Instruction

	controlPredecessors, controlSuccessors []*Instruction

	calledRegions []*Region
	sharding      *Sharding
	metadata      Metadata

	// Op specific attributes.
	parameterNumber  int
	tupleIndex       int
	literal          *Literal
	dimensions       []int
	fusionKind       string
	customCallTarget string
	distribution     RngDistribution
	sideEffect       bool
}

// ID is unique within the Module.
func (inst *Instruction) ID() int { return inst.id }

// Name of the instruction, unique within the Module unless changed with SetName.
func (inst *Instruction) Name() string { return inst.name }

// SetName changes the name of the instruction.
func (inst *Instruction) SetName(name string) *Instruction {
	inst.name = name
	return inst
}

// OpType returns the operation performed by the instruction.
func (inst *Instruction) OpType() ops.OpType { return inst.opType }

// Shape of the value produced by the instruction.
func (inst *Instruction) Shape() shapes.Shape { return inst.shape }

// Region that contains the instruction. It is nil once the instruction is removed.
func (inst *Instruction) Region() *Region { return inst.region }

// Operands of the instruction. The returned slice must not be modified.
func (inst *Instruction) Operands() []*Instruction { return inst.operands }

// Operand returns the i-th operand.
func (inst *Instruction) Operand(i int) *Instruction { return inst.operands[i] }

// NumOperands returns the number of operands.
func (inst *Instruction) NumOperands() int { return len(inst.operands) }

// OperandIndex returns the first position of operand in the operands of inst, or -1.
func (inst *Instruction) OperandIndex(operand *Instruction) int {
	return slices.Index(inst.operands, operand)
}

// OperandIndices returns all positions of operand in the operands of inst.
func (inst *Instruction) OperandIndices(operand *Instruction) []int {
	var indices []int
	for ii, op := range inst.operands {
		if op == operand {
			indices = append(indices, ii)
		}
	}
	return indices
}

// Users returns a copy of the list of instructions that use inst as an operand, each listed once.
func (inst *Instruction) Users() []*Instruction { return slices.Clone(inst.users) }

// UserCount returns the number of distinct users.
func (inst *Instruction) UserCount() int { return len(inst.users) }

// IsUsedBy returns whether user has inst as one of its operands.
func (inst *Instruction) IsUsedBy(user *Instruction) bool { return slices.Contains(inst.users, user) }

// ControlPredecessors returns a copy of the instructions that must execute before inst.
func (inst *Instruction) ControlPredecessors() []*Instruction {
	return slices.Clone(inst.controlPredecessors)
}

// ControlSuccessors returns a copy of the instructions that must execute after inst.
func (inst *Instruction) ControlSuccessors() []*Instruction {
	return slices.Clone(inst.controlSuccessors)
}

// HasControlEdges returns whether inst has any control predecessor or successor.
func (inst *Instruction) HasControlEdges() bool {
	return len(inst.controlPredecessors) > 0 || len(inst.controlSuccessors) > 0
}

// CalledRegions returns the regions invoked by the instruction: the body of a call, the condition and
// body of a while loop, the fused region of a fusion or the reducer of a reduction.
func (inst *Instruction) CalledRegions() []*Region { return inst.calledRegions }

// Sharding returns the device placement, or nil if unconstrained.
func (inst *Instruction) Sharding() *Sharding { return inst.sharding }

// SetSharding sets the device placement. Use nil to clear it.
func (inst *Instruction) SetSharding(sharding *Sharding) *Instruction {
	if sharding != nil {
		sharding = &Sharding{Device: sharding.Device}
	}
	inst.sharding = sharding
	return inst
}

// Metadata returns the user-level description of the instruction.
func (inst *Instruction) Metadata() Metadata { return inst.metadata }

// SetMetadata sets the user-level description of the instruction.
func (inst *Instruction) SetMetadata(metadata Metadata) *Instruction {
	inst.metadata = metadata
	return inst
}

// ParameterNumber of an OpTypeParameter instruction.
func (inst *Instruction) ParameterNumber() int { return inst.parameterNumber }

// TupleIndex of an OpTypeGetTupleElement instruction.
func (inst *Instruction) TupleIndex() int { return inst.tupleIndex }

// Literal value of an OpTypeConstant instruction, nil for other op types.
func (inst *Instruction) Literal() *Literal { return inst.literal }

// Dimensions attribute: broadcast axes for OpTypeBroadcast, permutation for OpTypeTranspose
// and the axis (single value) for OpTypeConcatenate.
func (inst *Instruction) Dimensions() []int { return inst.dimensions }

// FusionKind of an OpTypeFusion instruction.
func (inst *Instruction) FusionKind() string { return inst.fusionKind }

// CustomCallTarget of an OpTypeCustomCall instruction.
func (inst *Instruction) CustomCallTarget() string { return inst.customCallTarget }

// Distribution of an OpTypeRng instruction.
func (inst *Instruction) Distribution() RngDistribution { return inst.distribution }

// HasSideEffect returns whether the instruction has an effect beyond the value it produces, in which
// case it is never removed, duplicated or reordered by the passes.
func (inst *Instruction) HasSideEffect() bool {
	return inst.sideEffect || ops.SideEffectOps.Has(inst.opType)
}

// IsElementwise returns whether the instruction is an elementwise operation.
func (inst *Instruction) IsElementwise() bool {
	if inst.opType == ops.OpTypeCustomCall {
		info, found := LookupCustomOp(inst.customCallTarget)
		return found && info.Elementwise
	}
	return inst.opType.IsElementwise()
}

// String implements fmt.Stringer, e.g.: "add.3 = (Float32)[2 3] Add(x.1, y.2)".
func (inst *Instruction) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s = %s %s(", inst.name, inst.shape, inst.opType)
	for ii, operand := range inst.operands {
		if ii > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(operand.name)
	}
	sb.WriteString(")")
	switch inst.opType {
	case ops.OpTypeParameter:
		_, _ = fmt.Fprintf(&sb, " #%d", inst.parameterNumber)
	case ops.OpTypeGetTupleElement:
		_, _ = fmt.Fprintf(&sb, " index=%d", inst.tupleIndex)
	case ops.OpTypeConstant:
		_, _ = fmt.Fprintf(&sb, " %s", inst.literal)
	case ops.OpTypeFusion:
		_, _ = fmt.Fprintf(&sb, " kind=%s", inst.fusionKind)
	case ops.OpTypeCustomCall:
		_, _ = fmt.Fprintf(&sb, " target=%s", inst.customCallTarget)
	}
	for _, region := range inst.calledRegions {
		_, _ = fmt.Fprintf(&sb, " calls=%s", region.name)
	}
	if inst.sharding != nil {
		_, _ = fmt.Fprintf(&sb, " sharding=%s", inst.sharding)
	}
	return sb.String()
}

// addUser registers user, if not yet listed.
func (inst *Instruction) addUser(user *Instruction) {
	if !slices.Contains(inst.users, user) {
		inst.users = append(inst.users, user)
	}
}

// removeUser unregisters user, if it no longer has inst as an operand.
func (inst *Instruction) removeUser(user *Instruction) {
	if slices.Contains(user.operands, inst) {
		return
	}
	if idx := slices.Index(inst.users, user); idx != -1 {
		inst.users = slices.Delete(inst.users, idx, idx+1)
	}
}
