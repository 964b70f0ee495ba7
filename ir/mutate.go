// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"slices"

	"github.com/gomlx/outliner/ir/ops"
	"github.com/pkg/errors"
)

// ReplaceOperandWith replaces the operand at position operandIndex with newOperand, keeping the user
// lists consistent. Shapes are not checked.
func (inst *Instruction) ReplaceOperandWith(operandIndex int, newOperand *Instruction) error {
	if operandIndex < 0 || operandIndex >= len(inst.operands) {
		return errors.Errorf("%s.ReplaceOperandWith(%d): operand index out of range", inst.name, operandIndex)
	}
	if newOperand == nil || newOperand.region != inst.region {
		return errors.Errorf("%s.ReplaceOperandWith(%d): new operand %v not in region", inst.name, operandIndex, newOperand)
	}
	old := inst.operands[operandIndex]
	if old == newOperand {
		return nil
	}
	inst.operands[operandIndex] = newOperand
	old.removeUser(inst)
	newOperand.addUser(inst)
	return nil
}

// ReplaceUseWith replaces every use of inst by user with newProducer.
func (inst *Instruction) ReplaceUseWith(user, newProducer *Instruction) error {
	if !inst.IsUsedBy(user) {
		return errors.Errorf("%s.ReplaceUseWith(%s): not a user", inst.name, user.name)
	}
	for _, idx := range user.OperandIndices(inst) {
		if err := user.ReplaceOperandWith(idx, newProducer); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceAllUsesWith replaces every use of inst with newProducer, which must have the same shape. If inst is
// the root of its region, newProducer becomes the root.
//
// Uses by newProducer itself are kept, so newProducer can be a function of inst.
func (inst *Instruction) ReplaceAllUsesWith(newProducer *Instruction) error {
	if newProducer == nil || newProducer.region != inst.region {
		return errors.Errorf("%s.ReplaceAllUsesWith(%v): new producer not in region", inst.name, newProducer)
	}
	if !inst.shape.Equal(newProducer.shape) {
		return errors.Errorf("%s.ReplaceAllUsesWith(%s): shapes differ, %s != %s",
			inst.name, newProducer.name, inst.shape, newProducer.shape)
	}
	for _, user := range slices.Clone(inst.users) {
		if user == newProducer {
			continue
		}
		if err := inst.ReplaceUseWith(user, newProducer); err != nil {
			return err
		}
	}
	if inst.region.root == inst {
		inst.region.root = newProducer
	}
	return nil
}

// AddControlDependencyTo adds a control edge: inst must execute before successor. It is a no-op if the
// edge already exists.
func (inst *Instruction) AddControlDependencyTo(successor *Instruction) error {
	if successor == inst {
		return errors.Errorf("%s.AddControlDependencyTo: an instruction cannot depend on itself", inst.name)
	}
	if successor == nil || successor.region != inst.region {
		return errors.Errorf("%s.AddControlDependencyTo(%v): successor not in region", inst.name, successor)
	}
	if slices.Contains(inst.controlSuccessors, successor) {
		return nil
	}
	inst.controlSuccessors = append(inst.controlSuccessors, successor)
	successor.controlPredecessors = append(successor.controlPredecessors, inst)
	return nil
}

// RemoveControlDependencyTo removes the control edge from inst to successor.
func (inst *Instruction) RemoveControlDependencyTo(successor *Instruction) error {
	idx := slices.Index(inst.controlSuccessors, successor)
	if idx == -1 {
		return errors.Errorf("%s.RemoveControlDependencyTo(%s): no such control edge", inst.name, successor.name)
	}
	inst.controlSuccessors = slices.Delete(inst.controlSuccessors, idx, idx+1)
	idx = slices.Index(successor.controlPredecessors, inst)
	successor.controlPredecessors = slices.Delete(successor.controlPredecessors, idx, idx+1)
	return nil
}

// DropAllControlDeps removes all control edges from and to inst.
func (inst *Instruction) DropAllControlDeps() {
	for _, pred := range inst.controlPredecessors {
		idx := slices.Index(pred.controlSuccessors, inst)
		pred.controlSuccessors = slices.Delete(pred.controlSuccessors, idx, idx+1)
	}
	for _, succ := range inst.controlSuccessors {
		idx := slices.Index(succ.controlPredecessors, inst)
		succ.controlPredecessors = slices.Delete(succ.controlPredecessors, idx, idx+1)
	}
	inst.controlPredecessors = nil
	inst.controlSuccessors = nil
}

// IsRemovable returns whether inst can be removed from its region right away: it has no users, no control
// edges, is not the root, nor a parameter.
func (inst *Instruction) IsRemovable() bool {
	return inst.region != nil && len(inst.users) == 0 && !inst.HasControlEdges() &&
		inst.region.root != inst && inst.opType != ops.OpTypeParameter
}

// RemoveInstruction removes inst from the region, detaching it from the user lists of its operands.
//
// inst must have no users, no control edges (see DropAllControlDeps), and must not be the root
// nor a parameter.
func (r *Region) RemoveInstruction(inst *Instruction) error {
	if inst.region != r {
		return errors.Errorf("Region(%q).RemoveInstruction(%s): instruction not in region", r.name, inst.name)
	}
	if len(inst.users) > 0 {
		return errors.Errorf("Region(%q).RemoveInstruction(%s): instruction still has %d users", r.name, inst.name, len(inst.users))
	}
	if inst.HasControlEdges() {
		return errors.Errorf("Region(%q).RemoveInstruction(%s): instruction still has control edges", r.name, inst.name)
	}
	if r.root == inst {
		return errors.Errorf("Region(%q).RemoveInstruction(%s): cannot remove the root", r.name, inst.name)
	}
	if inst.opType == ops.OpTypeParameter {
		return errors.Errorf("Region(%q).RemoveInstruction(%s): cannot remove a parameter", r.name, inst.name)
	}
	operands := inst.operands
	inst.operands = nil
	for _, operand := range operands {
		operand.removeUser(inst)
	}
	r.instructions = slices.DeleteFunc(r.instructions, func(i *Instruction) bool { return i == inst })
	inst.region = nil
	for _, called := range inst.calledRegions {
		r.module.dropRegion(called)
	}
	return nil
}

// dropRegion removes a region no longer called from the module, together with the regions it calls.
func (m *Module) dropRegion(r *Region) {
	m.regions = slices.DeleteFunc(m.regions, func(other *Region) bool { return other == r })
	r.owner = nil
	for _, inst := range r.instructions {
		for _, called := range inst.calledRegions {
			m.dropRegion(called)
		}
	}
}

// RemoveInstructionAndUnusedOperands removes inst, and then recursively the operands left without users,
// as long as they are removable and have no side effect.
func (r *Region) RemoveInstructionAndUnusedOperands(inst *Instruction) error {
	operands := slices.Clone(inst.operands)
	if err := r.RemoveInstruction(inst); err != nil {
		return err
	}
	for _, operand := range operands {
		if operand.region == r && operand.IsRemovable() && !operand.HasSideEffect() {
			if err := r.RemoveInstructionAndUnusedOperands(operand); err != nil {
				return err
			}
		}
	}
	return nil
}
