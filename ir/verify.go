// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"slices"

	"github.com/gomlx/outliner/ir/ops"
	"github.com/pkg/errors"
)

// Verify checks the structural invariants of the module:
//
//   - Operand and user lists are mutually consistent, and edges never cross regions.
//   - Control edges are symmetric.
//   - Every region has a root, parameters are numbered in order, regions are acyclic.
//   - Called regions are owned by the instruction calling them, and call arguments match the parameters.
//
// It returns the first violation found.
func (m *Module) Verify() error {
	for _, r := range m.regions {
		if err := r.verify(); err != nil {
			return errors.WithMessagef(err, "Module(%q)", m.name)
		}
	}
	return nil
}

func (r *Region) verify() error {
	if r.root == nil {
		return errors.Errorf("Region(%q) has no root", r.name)
	}
	if r.root.region != r {
		return errors.Errorf("Region(%q) root %s is not in the region", r.name, r.root.name)
	}
	for ii, param := range r.parameters {
		if param.parameterNumber != ii || param.region != r {
			return errors.Errorf("Region(%q) parameter #%d (%s) is inconsistent", r.name, ii, param.name)
		}
	}
	for _, inst := range r.instructions {
		if inst.region != r {
			return errors.Errorf("Region(%q) lists %s, which belongs to another region", r.name, inst.name)
		}
		for _, operand := range inst.operands {
			if operand.region != r {
				return errors.Errorf("Region(%q): operand %s of %s is not in the region", r.name, operand.name, inst.name)
			}
			if !slices.Contains(operand.users, inst) {
				return errors.Errorf("Region(%q): %s uses %s, but is not listed as its user", r.name, inst.name, operand.name)
			}
		}
		for ii, user := range inst.users {
			if user.region != r || !slices.Contains(user.operands, inst) {
				return errors.Errorf("Region(%q): %s lists user %s, which doesn't use it", r.name, inst.name, user.name)
			}
			if slices.Contains(inst.users[ii+1:], user) {
				return errors.Errorf("Region(%q): %s lists user %s twice", r.name, inst.name, user.name)
			}
		}
		for _, succ := range inst.controlSuccessors {
			if succ.region != r || !slices.Contains(succ.controlPredecessors, inst) {
				return errors.Errorf("Region(%q): control edge %s -> %s is not symmetric", r.name, inst.name, succ.name)
			}
		}
		for _, pred := range inst.controlPredecessors {
			if pred.region != r || !slices.Contains(pred.controlSuccessors, inst) {
				return errors.Errorf("Region(%q): control edge %s -> %s is not symmetric", r.name, pred.name, inst.name)
			}
		}
		for _, called := range inst.calledRegions {
			if called.owner != inst {
				return errors.Errorf("Region(%q): %s calls %q, which is owned by another instruction", r.name, inst.name, called.name)
			}
		}
		switch inst.opType {
		case ops.OpTypeCall, ops.OpTypeFusion:
			body := inst.calledRegions[0]
			if len(body.parameters) != len(inst.operands) {
				return errors.Errorf("Region(%q): %s passes %d arguments to %q, which has %d parameters",
					r.name, inst.name, len(inst.operands), body.name, len(body.parameters))
			}
			for ii, operand := range inst.operands {
				if !operand.shape.Equal(body.parameters[ii].shape) {
					return errors.Errorf("Region(%q): %s argument #%d has shape %s, %q parameter has shape %s",
						r.name, inst.name, ii, operand.shape, body.name, body.parameters[ii].shape)
				}
			}
			if !body.root.shape.Equal(inst.shape) {
				return errors.Errorf("Region(%q): %s has shape %s, but %q returns %s",
					r.name, inst.name, inst.shape, body.name, body.root.shape)
			}
		}
	}
	if _, err := r.postOrder(); err != nil {
		return err
	}
	return nil
}
