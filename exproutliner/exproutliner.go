// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package exproutliner groups trees of elementwise operations into calls of their own region, so they
// can be lowered as a single expression.
//
// Candidates are elementwise instructions (including custom calls registered as elementwise) used exactly once, with no control edges and which don't
// mutate their operands in place. Starting from the last candidate in post-order, each group grows
// backwards through the operands that are candidates too. Groups of two or more instructions are
// outlined into a call named ExpressionName.
package exproutliner

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/outliner/annotations"
	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/outline"
	"github.com/gomlx/outliner/types"
	"github.com/gomlx/outliner/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ExpressionName is the name of the regions created for the outlined expressions.
const ExpressionName = "__arithmetic_expression"

// RunExpressionOutliner outlines the elementwise expressions of region. It returns whether anything was
// outlined.
func RunExpressionOutliner(region *ir.Region) (bool, error) {
	return Run(region, nil)
}

// Run outlines the elementwise expressions of region. Instructions marked in place in ann are never
// outlined, and ann (if not nil) is updated with the new regions.
func Run(region *ir.Region, ann *annotations.Annotations) (changed bool, err error) {
	if region == nil {
		return false, errors.New("exproutliner: nil region")
	}
	err = exceptions.TryCatch[error](func() {
		changed = run(region, ann)
	})
	if err != nil {
		return false, errors.WithMessagef(err, "outlining expressions of region %q", region.Name())
	}
	return
}

// IsExpressionOp returns whether inst can be part of an outlined expression, regardless of its
// position in the graph. Custom calls qualify if their target is registered as elementwise.
func IsExpressionOp(inst *ir.Instruction) bool {
	if inst.OpType() == ops.OpTypeClamp {
		return true
	}
	return inst.IsElementwise() && !inst.Shape().IsTuple() && !inst.HasSideEffect()
}

// hasExpressionShapes returns whether the operand shapes of inst can be handled by an expression.
func hasExpressionShapes(inst *ir.Instruction) bool {
	switch op := inst.OpType(); {
	case op == ops.OpTypeClamp || op == ops.OpTypeCustomCall:
		for _, operand := range inst.Operands() {
			if !operand.Shape().Equal(inst.Shape()) {
				return false
			}
		}
		return true
	case op == ops.OpTypeSelect:
		pred, onTrue, onFalse := inst.Operand(0), inst.Operand(1), inst.Operand(2)
		if pred.Shape().Size() == 1 {
			return true
		}
		// The predicate is boolean: only the dimensions can match.
		dims := pred.Shape().Dimensions
		return slices.Equal(dims, onTrue.Shape().Dimensions) && slices.Equal(dims, onFalse.Shape().Dimensions)
	case ops.ElementwiseBinaryOps.Has(op):
		lhs, rhs := inst.Operand(0).Shape(), inst.Operand(1).Shape()
		return lhs.Equal(rhs) || shapes.BroadcastCompatible(lhs, rhs)
	}
	return true
}

// isCandidate returns whether inst can be outlined in an expression.
func isCandidate(inst *ir.Instruction, ann *annotations.Annotations) bool {
	return IsExpressionOp(inst) && inst.UserCount() == 1 && !ann.IsInplace(inst) &&
		!inst.HasControlEdges() && hasExpressionShapes(inst)
}

func run(region *ir.Region, ann *annotations.Annotations) bool {
	// Candidates, last first.
	var seeds []*ir.Instruction
	pending := types.MakeSet[*ir.Instruction]()
	for _, inst := range region.PostOrder() {
		if isCandidate(inst, ann) {
			seeds = append(seeds, inst)
			pending.Insert(inst)
		}
	}
	slices.Reverse(seeds)

	var groups [][]*ir.Instruction
	for _, root := range seeds {
		if !pending.Has(root) {
			continue
		}
		group := grow(root, pending, ann)
		for _, inst := range group {
			pending.Remove(inst)
		}
		if len(group) > 1 {
			groups = append(groups, group)
		}
	}

	count := 0
	for _, group := range groups {
		if outlineGroup(region, group, ann) {
			count++
		}
	}
	klog.V(1).Infof("exproutliner: region %q: %d expressions outlined", region.Name(), count)
	return count > 0
}

// grow returns the group of root: root plus, recursively, its pending operands whose users are all in
// the group. root is the first element.
func grow(root *ir.Instruction, pending types.Set[*ir.Instruction], ann *annotations.Annotations) []*ir.Instruction {
	group := []*ir.Instruction{root}
	inGroup := types.SetWith(root)
	queue := []*ir.Instruction{root}
	for len(queue) > 0 {
		inst := queue[0]
		queue = queue[1:]
		for _, operand := range inst.Operands() {
			if inGroup.Has(operand) || !pending.Has(operand) || ann.IsInplace(operand) {
				continue
			}
			allUsersIn := true
			for _, user := range operand.Users() {
				allUsersIn = allUsersIn && inGroup.Has(user)
			}
			if !allUsersIn {
				continue
			}
			inGroup.Insert(operand)
			group = append(group, operand)
			queue = append(queue, operand)
		}
	}
	return group
}

// outlineGroup outlines the group into a call. It returns false if the outlining was not possible.
func outlineGroup(region *ir.Region, group []*ir.Instruction, ann *annotations.Annotations) bool {
	root := group[0]
	members := types.SetWith(group...)
	var inputs []*ir.Instruction
	for _, inst := range region.PostOrder() {
		if !members.Has(inst) {
			continue
		}
		for _, operand := range inst.Operands() {
			if !members.Has(operand) && !slices.Contains(inputs, operand) {
				inputs = append(inputs, operand)
			}
		}
	}
	_, err := outline.Outline(outline.Request{
		Region:       region,
		Name:         ExpressionName,
		Kind:         outline.Call,
		Instructions: group,
		Inputs:       inputs,
		Outputs:      []*ir.Instruction{root},
		MetaTarget:   root,
		Sharding:     root.Sharding(),
		Annotations:  ann,
	})
	if err != nil {
		var conflict *outline.OutlineConflictError
		if errors.As(err, &conflict) {
			klog.V(2).Infof("exproutliner: skipping expression rooted at %s: %v", root.Name(), err)
			return false
		}
		panic(err)
	}
	return true
}
