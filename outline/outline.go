// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package outline extracts a set of instructions of a region into a new region, and replaces them
// with a single call (or fusion) of it.
//
// The caller describes the subgraph with a Request: the instructions to replace, the inputs (values
// computed outside the subgraph, which become the parameters of the new region) and the outputs
// (replaced instructions whose values are used outside the subgraph). Outline checks that the request
// is consistent before it modifies anything: if a check fails it returns an *OutlineConflictError and
// the graph is left untouched.
package outline

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/outliner/annotations"
	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/types"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Kind of instruction created to call the outlined region.
type Kind int

const (
	// Fusion creates an ops.OpTypeFusion instruction.
	Fusion Kind = iota

	// Call creates an ops.OpTypeCall instruction.
	Call
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k == Call {
		return "call"
	}
	return "fusion"
}

// Request describes the subgraph to outline.
type Request struct {
	// Region where the instructions are, and where the call is created.
	Region *ir.Region

	// Name of the new region, made unique in the module.
	Name string

	// Kind of the calling instruction. FusionKind defaults to Name if empty.
	Kind       Kind
	FusionKind string

	// Instructions to replace. Their operands must either be replaced as well, or be listed in Inputs.
	Instructions []*ir.Instruction

	// Inputs become the parameters of the new region, in the given order, and the operands of the call.
	Inputs []*ir.Instruction

	// Outputs are the replaced instructions whose values are returned by the new region: if there is only
	// one it is the root of the new region, otherwise the root is a tuple of them.
	Outputs []*ir.Instruction

	// MetaTarget, if not nil, is the replaced instruction whose metadata is copied to the call.
	MetaTarget *ir.Instruction

	// Sharding of the call. If nil the call is unconstrained.
	Sharding *ir.Sharding

	// ControlPredecessors and ControlSuccessors are extra instructions that must execute before
	// (resp. after) the call. External control edges of the replaced instructions are moved to the
	// call automatically.
	ControlPredecessors, ControlSuccessors []*ir.Instruction

	// Annotations, if not nil, is updated: annotations of removed instructions are transferred to their
	// clones, and the new region is recorded in the fusion map.
	Annotations *annotations.Annotations
}

// Result of Outline.
type Result struct {
	// Call is the new call or fusion instruction.
	Call *ir.Instruction

	// Region is the new outlined region.
	Region *ir.Region

	// Replacements maps each output to the value that replaced it in the parent region: the call itself,
	// or a get-tuple-element of it.
	Replacements map[*ir.Instruction]*ir.Instruction

	// Clones maps each replaced instruction to its copy in the new region.
	Clones map[*ir.Instruction]*ir.Instruction

	// Removed lists the replaced instructions removed from the parent region. Replaced instructions still
	// used outside the subgraph (see IsDuplicable) are kept, and listed in Kept.
	Removed, Kept []*ir.Instruction
}

// OutlineConflictError is returned when an outlining would break an invariant of the graph, for
// instance by creating a cycle.
type OutlineConflictError struct {
	Region      string
	Name        string
	Instruction string
	Reason      string
}

// Error implements the error interface.
func (e *OutlineConflictError) Error() string {
	if e.Instruction == "" {
		return fmt.Sprintf("cannot outline %q in region %q: %s", e.Name, e.Region, e.Reason)
	}
	return fmt.Sprintf("cannot outline %q in region %q: %s: %s", e.Name, e.Region, e.Instruction, e.Reason)
}

func (req *Request) conflict(inst *ir.Instruction, format string, args ...any) error {
	e := &OutlineConflictError{Name: req.Name, Reason: fmt.Sprintf(format, args...)}
	if req.Region != nil {
		e.Region = req.Region.Name()
	}
	if inst != nil {
		e.Instruction = inst.Name()
	}
	return errors.WithStack(e)
}

// IsDuplicable returns whether inst can be left in its region while a copy of it is outlined: it must
// have no side effect, no control edges and must not mutate any operand in place.
func IsDuplicable(inst *ir.Instruction, ann *annotations.Annotations) bool {
	return !inst.HasSideEffect() && !inst.HasControlEdges() && !ann.IsInplace(inst)
}

// Outline replaces the instructions of the request by a call to a new region computing them.
//
// It returns an *OutlineConflictError, and leaves the graph unchanged, if the request is inconsistent:
//
//   - An instruction, input or output is not in the region, or an output is not a replaced instruction.
//   - An operand of a replaced instruction is neither replaced nor an input.
//   - A replaced instruction, which is not an output, is used outside the subgraph (or is the root) and
//     is not duplicable (see IsDuplicable). Such instructions are kept in the region, and so are the
//     replaced instructions they use, which must be duplicable as well.
//   - The call would be part of a cycle: some external user of an output, or some control successor,
//     reaches (following users and control edges) an input, a control predecessor or a replaced
//     instruction.
func Outline(req Request) (*Result, error) {
	if req.Annotations != nil && req.Annotations.IsFrozen() {
		return nil, errors.Errorf("cannot outline %q: annotations are frozen", req.Name)
	}
	if err := Check(req); err != nil {
		return nil, err
	}
	var result *Result
	err := exceptions.TryCatch[error](func() { result = req.apply() })
	if err != nil {
		return nil, errors.WithMessagef(err, "outlining %q in region %q", req.Name, req.Region.Name())
	}
	return result, nil
}

// Check runs the consistency tests of Outline without modifying the graph. It returns nil if Outline
// would succeed, or the *OutlineConflictError it would return.
func Check(req Request) error {
	r := req.Region
	if r == nil {
		return req.conflict(nil, "no region given")
	}
	if len(req.Instructions) == 0 {
		return req.conflict(nil, "no instructions to outline")
	}
	if len(req.Outputs) == 0 {
		return req.conflict(nil, "no outputs")
	}
	replaced := types.SetWith(req.Instructions...)
	inputs := types.SetWith(req.Inputs...)
	for _, inst := range req.Instructions {
		if !r.Contains(inst) {
			return req.conflict(inst, "instruction is not in the region")
		}
		if inst.OpType() == ops.OpTypeParameter {
			return req.conflict(inst, "parameters cannot be outlined")
		}
		if inputs.Has(inst) {
			return req.conflict(inst, "instruction is both replaced and an input")
		}
		for _, operand := range inst.Operands() {
			if !replaced.Has(operand) && !inputs.Has(operand) {
				return req.conflict(inst, "operand %s is neither outlined nor an input", operand.Name())
			}
		}
	}
	for _, input := range req.Inputs {
		if !r.Contains(input) {
			return req.conflict(input, "input is not in the region")
		}
	}
	for ii, output := range req.Outputs {
		if !replaced.Has(output) {
			return req.conflict(output, "output is not an outlined instruction")
		}
		if slices.Contains(req.Outputs[:ii], output) {
			return req.conflict(output, "duplicate output")
		}
	}
	if req.MetaTarget != nil && !replaced.Has(req.MetaTarget) {
		return req.conflict(req.MetaTarget, "meta target is not an outlined instruction")
	}
	for _, inst := range slices.Concat(req.ControlPredecessors, req.ControlSuccessors) {
		if !r.Contains(inst) || replaced.Has(inst) {
			return req.conflict(inst, "control dependency must be an instruction of the region outside the outlined subgraph")
		}
	}

	// Replaced instructions used outside the subgraph stay in the region, and so do the replaced
	// instructions they use.
	outputs := types.SetWith(req.Outputs...)
	var stack []*ir.Instruction
	for _, inst := range req.Instructions {
		if outputs.Has(inst) {
			continue
		}
		external := inst == r.Root()
		for _, user := range inst.Users() {
			if !replaced.Has(user) {
				external = true
				break
			}
		}
		if external {
			stack = append(stack, inst)
		}
	}
	kept := types.MakeSet[*ir.Instruction]()
	for len(stack) > 0 {
		inst := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if kept.Has(inst) {
			continue
		}
		kept.Insert(inst)
		if !IsDuplicable(inst, req.Annotations) {
			return req.conflict(inst, "instruction is used outside the outlined subgraph and cannot be duplicated")
		}
		for _, operand := range inst.Operands() {
			if replaced.Has(operand) {
				stack = append(stack, operand)
			}
		}
	}

	// Cycles: everything that will depend on the call must not be needed by it.
	preds, succs := req.controlEdges(replaced)
	var start []*ir.Instruction
	for _, output := range req.Outputs {
		for _, user := range output.Users() {
			if !replaced.Has(user) {
				start = append(start, user)
			}
		}
	}
	start = append(start, succs...)
	reached := ir.ReachableFrom(start...)
	for _, inst := range slices.Concat(req.Inputs, preds, req.Instructions) {
		if reached.Has(inst) {
			return req.conflict(inst, "outlining would create a cycle")
		}
	}
	return nil
}

// controlEdges returns the control predecessors and successors the call will have.
func (req *Request) controlEdges(replaced types.Set[*ir.Instruction]) (preds, succs []*ir.Instruction) {
	preds = slices.Clone(req.ControlPredecessors)
	succs = slices.Clone(req.ControlSuccessors)
	for _, inst := range req.Instructions {
		for _, pred := range inst.ControlPredecessors() {
			if !replaced.Has(pred) && !slices.Contains(preds, pred) {
				preds = append(preds, pred)
			}
		}
		for _, succ := range inst.ControlSuccessors() {
			if !replaced.Has(succ) && !slices.Contains(succs, succ) {
				succs = append(succs, succ)
			}
		}
	}
	return
}

// apply performs the outlining of a checked request. Errors of the graph mutations are raised as panics.
func (req *Request) apply() *Result {
	r := req.Region
	m := r.Module()
	replaced := types.SetWith(req.Instructions...)
	preds, succs := req.controlEdges(replaced)
	order := slices.DeleteFunc(r.PostOrder(), func(inst *ir.Instruction) bool { return !replaced.Has(inst) })

	// Build the new region.
	body := m.NewRegion(req.Name)
	mapping := make(map[*ir.Instruction]*ir.Instruction, len(req.Inputs)+len(order))
	for _, input := range req.Inputs {
		param := body.AddParameter(input.Shape())
		if _, found := mapping[input]; !found {
			mapping[input] = param
		}
	}
	result := &Result{
		Region:       body,
		Replacements: make(map[*ir.Instruction]*ir.Instruction, len(req.Outputs)),
		Clones:       make(map[*ir.Instruction]*ir.Instruction, len(order)),
	}
	for _, inst := range order {
		operands := make([]*ir.Instruction, inst.NumOperands())
		for ii, operand := range inst.Operands() {
			operands[ii] = mapping[operand]
		}
		clone := body.AddClone(inst, operands...)
		mapping[inst] = clone
		result.Clones[inst] = clone
	}
	for _, inst := range order {
		for _, succ := range inst.ControlSuccessors() {
			if replaced.Has(succ) {
				must(mapping[inst].AddControlDependencyTo(mapping[succ]))
			}
		}
	}
	if len(req.Outputs) == 1 {
		body.SetRoot(mapping[req.Outputs[0]])
	} else {
		elements := make([]*ir.Instruction, len(req.Outputs))
		for ii, output := range req.Outputs {
			elements[ii] = mapping[output]
		}
		body.SetRoot(body.AddTuple(elements...))
	}

	// Call it from the parent region.
	var call *ir.Instruction
	if req.Kind == Call {
		call = r.AddCall(body, req.Inputs...)
	} else {
		kind := req.FusionKind
		if kind == "" {
			kind = req.Name
		}
		call = r.AddFusion(kind, body, req.Inputs...)
	}
	result.Call = call
	if req.MetaTarget != nil {
		call.SetMetadata(req.MetaTarget.Metadata())
	}
	call.SetSharding(req.Sharding)
	for _, pred := range preds {
		must(pred.AddControlDependencyTo(call))
	}
	for _, succ := range succs {
		must(call.AddControlDependencyTo(succ))
	}

	// Rewire the external uses of the outputs.
	wasRoot := r.Root()
	for ii, output := range req.Outputs {
		replacement := call
		if len(req.Outputs) > 1 {
			replacement = r.AddGetTupleElement(call, ii)
		}
		result.Replacements[output] = replacement
		for _, user := range output.Users() {
			if !replaced.Has(user) && user != replacement {
				must(output.ReplaceUseWith(user, replacement))
			}
		}
		if wasRoot == output {
			r.SetRoot(replacement)
		}
	}

	// Remove what is no longer used, users first.
	for _, inst := range slices.Backward(order) {
		inst.DropAllControlDeps()
		if !inst.IsRemovable() {
			result.Kept = append(result.Kept, inst)
			continue
		}
		must(r.RemoveInstruction(inst))
		result.Removed = append(result.Removed, inst)
		if req.Annotations != nil {
			req.Annotations.Transfer(inst, mapping[inst])
		}
	}
	slices.Reverse(result.Kept)
	if req.Annotations != nil {
		req.Annotations.RecordFusion(body, call)
	}
	klog.V(1).Infof("outlined %d instructions (%d kept) of region %q into %s %q", len(result.Removed),
		len(result.Kept), r.Name(), req.Kind, body.Name())
	return result
}

// must panics with err if it is not nil.
func must(err error) {
	if err != nil {
		panic(err)
	}
}
