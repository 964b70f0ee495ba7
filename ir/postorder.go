// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"github.com/gomlx/outliner/types"
	"github.com/pkg/errors"
)

// PostOrder returns all instructions of the region such that every instruction comes after its operands
// and its control predecessors. The order is deterministic: ties are broken by insertion order.
//
// It panics if the region has a cycle, see Module.Verify.
func (r *Region) PostOrder() []*Instruction {
	order, err := r.postOrder()
	if err != nil {
		panic(err)
	}
	return order
}

func (r *Region) postOrder() ([]*Instruction, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[*Instruction]int, len(r.instructions))
	order := make([]*Instruction, 0, len(r.instructions))
	var visit func(inst *Instruction) error
	visit = func(inst *Instruction) error {
		switch state[inst] {
		case done:
			return nil
		case visiting:
			return errors.Errorf("Region(%q) has a cycle through %s", r.name, inst.name)
		}
		state[inst] = visiting
		for _, operand := range inst.operands {
			if err := visit(operand); err != nil {
				return err
			}
		}
		for _, pred := range inst.controlPredecessors {
			if err := visit(pred); err != nil {
				return err
			}
		}
		state[inst] = done
		order = append(order, inst)
		return nil
	}
	for _, inst := range r.instructions {
		if err := visit(inst); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// ReachableFrom returns the instructions reachable from the start instructions following users and
// control successors, including the start instructions themselves.
func ReachableFrom(start ...*Instruction) types.Set[*Instruction] {
	reached := types.MakeSet[*Instruction]()
	stack := append([]*Instruction(nil), start...)
	for len(stack) > 0 {
		inst := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached.Has(inst) {
			continue
		}
		reached.Insert(inst)
		stack = append(stack, inst.users...)
		stack = append(stack, inst.controlSuccessors...)
	}
	return reached
}
