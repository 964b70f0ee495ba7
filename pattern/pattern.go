// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pattern defines the declarative subgraph templates searched by the matcher.
//
// A Pattern is a list of nodes, each with an op type constraint, an optional Classifier and the
// list of its operands, given as indices of other nodes of the same pattern. Node 0 is the anchor:
// matching starts there and walks the operands top-down.
//
// Some nodes are inputs: they are not replaced, instead they become the parameters of the region the
// match is outlined into. The position of a node in the inputs list is its input slot, and the
// parameter number in the outlined region. Input nodes must be leaves (no operands) and, if their
// op type is AnyOp or ops.OpTypeParameter, they match any instruction.
//
// All other nodes are replaced. Outputs are the replaced nodes whose values are used outside the
// match: a single output becomes the root of the outlined region, more than one are returned as
// a tuple, in the order given.
//
// Patterns are validated when created (see New), and are immutable afterwards, so they can be
// shared by any number of matchers.
package pattern

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// AnyOp is the wildcard op type constraint: it matches instructions of any op type.
const AnyOp = ops.OpTypeInvalid

// NodeID is the index of a node in its pattern.
type NodeID = int

// Classifier is a predicate over a concrete instruction, checked in addition to the op type of a
// pattern node. See package predicates for a library of them.
type Classifier interface {
	Classify(inst *ir.Instruction) bool
}

// ClassifierFunc adapts a function to a Classifier.
type ClassifierFunc func(inst *ir.Instruction) bool

// Classify implements Classifier.
func (fn ClassifierFunc) Classify(inst *ir.Instruction) bool { return fn(inst) }

// Node of a pattern.
type Node struct {
	// Op that the matched instruction must have, or AnyOp.
	Op ops.OpType

	// Operands are the ids of the nodes that must match the operands of the matched instruction, in
	// order. The matched instruction must have exactly len(Operands) operands, except for input
	// nodes, whose operands are not looked at.
	Operands []NodeID

	// Verify is an optional extra condition on the matched instruction.
	Verify Classifier
}

// Matches returns whether inst satisfies the op type and the classifier of the node.
// Operands are not checked.
func (n *Node) Matches(inst *ir.Instruction) bool {
	if n.Op != AnyOp && n.Op != inst.OpType() {
		return false
	}
	return n.Verify == nil || n.Verify.Classify(inst)
}

// Pattern is a validated subgraph template, see New.
type Pattern struct {
	name          string
	metaTarget    NodeID
	inputs        []NodeID
	outputs       []NodeID
	inplaceInputs []NodeID
	nodes         []Node

	// inputSlots[node] is the input slot of the node, or -1 for replaced nodes.
	inputSlots []int
}

// Def holds the arguments of New, to declare pattern tables as literals. See NewSet.
type Def struct {
	Name          string
	MetaTarget    NodeID
	Inputs        []NodeID
	Outputs       []NodeID
	InplaceInputs []NodeID
	Nodes         []Node
}

// New creates and validates a pattern.
//
//   - name: used to name the outlined regions.
//   - metaTarget: the replaced node whose instruction metadata is copied to the outlining call.
//   - inputs: the input nodes; their position in the list is their input slot.
//   - outputs: the replaced nodes whose values are returned by the outlined region. outputs[0] must be
//     node 0, the anchor.
//   - inplaceInputs: the subset of inputs that the fused computation mutates in place.
//   - nodes: the nodes of the pattern.
//
// It returns an *InvalidPatternError if the declaration is malformed.
func New(name string, metaTarget NodeID, inputs, outputs, inplaceInputs []NodeID, nodes []Node) (*Pattern, error) {
	p := &Pattern{
		name:          name,
		metaTarget:    metaTarget,
		inputs:        slices.Clone(inputs),
		outputs:       slices.Clone(outputs),
		inplaceInputs: slices.Clone(inplaceInputs),
		nodes:         make([]Node, len(nodes)),
	}
	for ii, node := range nodes {
		p.nodes[ii] = Node{Op: node.Op, Operands: slices.Clone(node.Operands), Verify: node.Verify}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// MustNew is like New, but panics on error. Used for static pattern tables.
func MustNew(name string, metaTarget NodeID, inputs, outputs, inplaceInputs []NodeID, nodes []Node) *Pattern {
	p, err := New(name, metaTarget, inputs, outputs, inplaceInputs, nodes)
	if err != nil {
		panic(err)
	}
	return p
}

// Build creates the pattern declared by def, see New.
func (def Def) Build() (*Pattern, error) {
	return New(def.Name, def.MetaTarget, def.Inputs, def.Outputs, def.InplaceInputs, def.Nodes)
}

// NewSet builds a set of patterns, in priority order. The errors of all malformed declarations are
// combined (see go.uber.org/multierr), each one an *InvalidPatternError.
func NewSet(defs ...Def) ([]*Pattern, error) {
	patterns := make([]*Pattern, 0, len(defs))
	var err error
	for _, def := range defs {
		p, defErr := def.Build()
		if defErr != nil {
			err = multierr.Append(err, defErr)
			continue
		}
		patterns = append(patterns, p)
	}
	if err != nil {
		return nil, err
	}
	return patterns, nil
}

// Name of the pattern.
func (p *Pattern) Name() string { return p.name }

// MetaTarget is the node whose instruction metadata is copied to the outlining call.
func (p *Pattern) MetaTarget() NodeID { return p.metaTarget }

// Inputs returns the input nodes, indexed by input slot.
func (p *Pattern) Inputs() []NodeID { return slices.Clone(p.inputs) }

// NumInputs returns the number of input slots.
func (p *Pattern) NumInputs() int { return len(p.inputs) }

// Outputs returns the output nodes, in the order they are returned by the outlined region.
func (p *Pattern) Outputs() []NodeID { return slices.Clone(p.outputs) }

// InplaceInputs returns the input nodes mutated in place.
func (p *Pattern) InplaceInputs() []NodeID { return slices.Clone(p.inplaceInputs) }

// InplaceSlots returns the input slots of the in-place inputs, which are also the operand positions
// of the outlining call that are mutated in place.
func (p *Pattern) InplaceSlots() []int {
	slots := make([]int, len(p.inplaceInputs))
	for ii, node := range p.inplaceInputs {
		slots[ii] = p.inputSlots[node]
	}
	return slots
}

// NumNodes returns the number of nodes of the pattern.
func (p *Pattern) NumNodes() int { return len(p.nodes) }

// Node returns the node with the given id.
func (p *Pattern) Node(id NodeID) *Node { return &p.nodes[id] }

// IsInput returns whether the node is an input.
func (p *Pattern) IsInput(id NodeID) bool { return p.inputSlots[id] >= 0 }

// InputSlot returns the input slot of the node, or -1 if it is a replaced node.
func (p *Pattern) InputSlot(id NodeID) int { return p.inputSlots[id] }

// NodeMatches returns whether inst satisfies the op type and classifier of the node. Input nodes
// declared as ops.OpTypeParameter accept any op type.
func (p *Pattern) NodeMatches(id NodeID, inst *ir.Instruction) bool {
	node := &p.nodes[id]
	if p.IsInput(id) && node.Op == ops.OpTypeParameter {
		return node.Verify == nil || node.Verify.Classify(inst)
	}
	return node.Matches(inst)
}

// IsOutput returns whether the node is an output.
func (p *Pattern) IsOutput(id NodeID) bool { return slices.Contains(p.outputs, id) }

// Replaced returns the ids of the replaced (non-input) nodes, in increasing order.
func (p *Pattern) Replaced() []NodeID {
	var replaced []NodeID
	for id := range p.nodes {
		if !p.IsInput(id) {
			replaced = append(replaced, id)
		}
	}
	return replaced
}

// String implements fmt.Stringer.
func (p *Pattern) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Pattern(%q, inputs=%v, outputs=%v", p.name, p.inputs, p.outputs)
	if len(p.inplaceInputs) > 0 {
		_, _ = fmt.Fprintf(&sb, ", inplace=%v", p.inplaceInputs)
	}
	sb.WriteString(") {")
	for id, node := range p.nodes {
		op := "Any"
		if node.Op != AnyOp {
			op = node.Op.String()
		}
		_, _ = fmt.Fprintf(&sb, " #%d=%s%v", id, op, node.Operands)
	}
	sb.WriteString(" }")
	return sb.String()
}

// InvalidPatternError is returned for malformed pattern declarations.
type InvalidPatternError struct {
	// Pattern is the name of the pattern.
	Pattern string

	// Node is the offending node or label, or -1 if the problem is not about a specific node.
	Node NodeID

	// Reason is a human-readable description of the problem.
	Reason string
}

// Error implements error.
func (e *InvalidPatternError) Error() string {
	if e.Node < 0 {
		return fmt.Sprintf("invalid pattern %q: %s", e.Pattern, e.Reason)
	}
	return fmt.Sprintf("invalid pattern %q: node #%d: %s", e.Pattern, e.Node, e.Reason)
}

func (p *Pattern) invalid(node NodeID, format string, args ...any) error {
	return errors.WithStack(&InvalidPatternError{Pattern: p.name, Node: node, Reason: fmt.Sprintf(format, args...)})
}

// validate the structural rules of a pattern. They don't depend on any graph.
func (p *Pattern) validate() error {
	numNodes := len(p.nodes)
	exists := func(id NodeID) bool { return id >= 0 && id < numNodes }
	if p.name == "" {
		return p.invalid(-1, "pattern name is empty")
	}
	if len(p.outputs) == 0 {
		return p.invalid(-1, "no outputs declared")
	}

	// Labels.
	p.inputSlots = make([]int, numNodes)
	for ii := range p.inputSlots {
		p.inputSlots[ii] = -1
	}
	for slot, id := range p.inputs {
		if !exists(id) {
			return p.invalid(id, "input #%d references a non-existent node", slot)
		}
		if p.inputSlots[id] >= 0 {
			return p.invalid(id, "input declared twice")
		}
		p.inputSlots[id] = slot
	}
	for ii, id := range p.outputs {
		if !exists(id) {
			return p.invalid(id, "output #%d references a non-existent node", ii)
		}
		if slices.Contains(p.outputs[:ii], id) {
			return p.invalid(id, "output declared twice")
		}
		if p.inputSlots[id] >= 0 {
			return p.invalid(id, "an input cannot be an output")
		}
	}
	for _, id := range p.inplaceInputs {
		if !exists(id) || p.inputSlots[id] < 0 {
			return p.invalid(id, "in-place input is not a declared input")
		}
	}
	if !exists(p.metaTarget) {
		return p.invalid(p.metaTarget, "meta target references a non-existent node")
	}
	if p.inputSlots[p.metaTarget] >= 0 {
		return p.invalid(p.metaTarget, "meta target must be a replaced node, not an input")
	}

	// Node operands.
	numReplaced := 0
	for id, node := range p.nodes {
		for _, operand := range node.Operands {
			if !exists(operand) {
				return p.invalid(id, "operand references non-existent node #%d", operand)
			}
		}
		if p.inputSlots[id] >= 0 {
			if len(node.Operands) > 0 {
				return p.invalid(id, "input nodes must be leaves, but it has operands %v", node.Operands)
			}
		} else {
			numReplaced++
		}
	}
	if numReplaced == 0 {
		return p.invalid(-1, "no replaced node, all nodes are inputs")
	}
	if p.outputs[0] != 0 {
		return p.invalid(p.outputs[0], "the first output must be node #0, the anchor of the pattern")
	}
	if err := p.checkAcyclic(); err != nil {
		return err
	}
	if err := p.checkConnected(); err != nil {
		return err
	}
	reached := make([]bool, numNodes)
	var visit func(id NodeID)
	visit = func(id NodeID) {
		if reached[id] {
			return
		}
		reached[id] = true
		for _, operand := range p.nodes[id].Operands {
			visit(operand)
		}
	}
	visit(0)
	for id, ok := range reached {
		if !ok {
			return p.invalid(id, "node is not reachable from the anchor node #0")
		}
	}
	return nil
}

func (p *Pattern) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(p.nodes))
	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return p.invalid(id, "the pattern has a cycle through this node")
		}
		state[id] = visiting
		for _, operand := range p.nodes[id].Operands {
			if err := visit(operand); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for id := range p.nodes {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// checkConnected checks that the replaced nodes, with the edges between them, are weakly connected.
func (p *Pattern) checkConnected() error {
	neighbours := make([][]NodeID, len(p.nodes))
	for id, node := range p.nodes {
		if p.IsInput(id) {
			continue
		}
		for _, operand := range node.Operands {
			if p.IsInput(operand) {
				continue
			}
			neighbours[id] = append(neighbours[id], operand)
			neighbours[operand] = append(neighbours[operand], id)
		}
	}
	replaced := p.Replaced()
	seen := make([]bool, len(p.nodes))
	stack := []NodeID{replaced[0]}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, neighbours[id]...)
	}
	for _, id := range replaced {
		if !seen[id] {
			return p.invalid(id, "replaced nodes are not connected to the rest of the pattern")
		}
	}
	return nil
}
