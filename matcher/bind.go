// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"slices"

	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/pattern"
)

// chainNode marks, in binder.claimed, the instructions claimed by a look-through chain.
const chainNode = -1

// binding records that an instruction was claimed by node id (or by chainNode).
type binding struct {
	inst *ir.Instruction
	id   pattern.NodeID
}

// binder binds the nodes of one pattern to instructions of a region, top-down from the anchor.
//
// Every binding is recorded in a log, so a failed branch can be rolled back to a previous mark.
//
// An instruction is claimed by at most one replaced node, or by any number of input nodes: the same
// value can fill several input slots.
type binder struct {
	p        *pattern.Pattern
	region   *ir.Region
	maxDepth int

	bound   []*ir.Instruction
	claimed map[*ir.Instruction][]pattern.NodeID
	log     []binding
	traces  []Trace
}

func newBinder(p *pattern.Pattern, region *ir.Region, maxDepth int) *binder {
	return &binder{
		p:        p,
		region:   region,
		maxDepth: maxDepth,
		bound:    make([]*ir.Instruction, p.NumNodes()),
		claimed:  make(map[*ir.Instruction][]pattern.NodeID),
	}
}

type mark struct{ log, traces int }

func (b *binder) mark() mark { return mark{len(b.log), len(b.traces)} }

// rollback undoes every binding and trace recorded after m.
func (b *binder) rollback(m mark) {
	for _, c := range slices.Backward(b.log[m.log:]) {
		if c.id != chainNode {
			b.bound[c.id] = nil
		}
		ids := b.claimed[c.inst]
		if len(ids) <= 1 {
			delete(b.claimed, c.inst)
		} else {
			b.claimed[c.inst] = ids[:len(ids)-1]
		}
	}
	b.log = b.log[:m.log]
	b.traces = b.traces[:m.traces]
}

func (b *binder) claim(inst *ir.Instruction, id pattern.NodeID) {
	if id != chainNode {
		b.bound[id] = inst
	}
	b.claimed[inst] = append(b.claimed[inst], id)
	b.log = append(b.log, binding{inst, id})
}

// onlyInputs returns whether all ids are input nodes.
func (b *binder) onlyInputs(ids []pattern.NodeID) bool {
	for _, id := range ids {
		if id == chainNode || !b.p.IsInput(id) {
			return false
		}
	}
	return true
}

// match tries to bind the whole pattern, anchored at inst. On success it returns the match, with the
// bindings by node id, otherwise nil.
func (b *binder) match(inst *ir.Instruction) *Match {
	if !b.bind(0, inst) {
		b.rollback(mark{})
		return nil
	}
	m := &Match{
		Pattern:          b.p,
		Region:           b.region,
		Instructions:     slices.Clone(b.bound),
		ParameterIndices: make(map[*ir.Instruction][]int),
		Traces:           slices.Clone(b.traces),
	}
	for slot, id := range b.p.Inputs() {
		m.ParameterIndices[b.bound[id]] = append(m.ParameterIndices[b.bound[id]], slot)
	}
	b.rollback(mark{})
	return m
}

// bind binds node id to inst and, recursively, its operands. If it fails, the bindings it made are
// rolled back.
func (b *binder) bind(id pattern.NodeID, inst *ir.Instruction) bool {
	if previous := b.bound[id]; previous != nil {
		return previous == inst
	}
	if ids, found := b.claimed[inst]; found && !(b.p.IsInput(id) && b.onlyInputs(ids)) {
		return false
	}
	if !b.region.Contains(inst) || !b.p.NodeMatches(id, inst) {
		return false
	}
	if b.p.IsInput(id) {
		b.claim(inst, id)
		return true
	}
	node := b.p.Node(id)
	if inst.NumOperands() != len(node.Operands) {
		return false
	}
	start := b.mark()
	b.claim(inst, id)
	for k, child := range node.Operands {
		if b.bind(child, inst.Operand(k)) {
			continue
		}
		if id == 0 && b.lookThrough(inst, k, child) {
			continue
		}
		b.rollback(start)
		return false
	}
	return true
}

// lookThrough searches, below operand k of the anchor, a chain of operations of the anchor's
// associativity class for an operand that matches node child. On success the chain is recorded as a
// Trace.
func (b *binder) lookThrough(anchor *ir.Instruction, k int, child pattern.NodeID) bool {
	if b.maxDepth <= 0 {
		return false
	}
	class, ok := anchor.OpType().AssociativityClass()
	if !ok {
		return false
	}
	start := b.mark()
	var chain []*ir.Instruction
	parent, link := anchor, anchor.Operand(k)
	for len(chain) < b.maxDepth {
		if !b.isChainLink(link, parent, anchor, class) {
			break
		}
		b.claim(link, chainNode)
		chain = append(chain, link)
		for j, operand := range link.Operands() {
			if !operand.Shape().Equal(anchor.Shape()) {
				continue
			}
			if b.bind(child, operand) {
				b.traces = append(b.traces, Trace{
					Operand:    k,
					Chain:      slices.Clone(chain),
					Found:      operand,
					FoundIndex: j,
				})
				return true
			}
		}
		next := slices.IndexFunc(link.Operands(), func(operand *ir.Instruction) bool {
			opClass, ok := operand.OpType().AssociativityClass()
			return ok && opClass == class
		})
		if next < 0 {
			break
		}
		parent, link = link, link.Operand(next)
	}
	b.rollback(start)
	return false
}

// isChainLink returns whether link can be re-associated with the anchor: it belongs to the same
// associativity class, has the same shape and its only use is by parent.
func (b *binder) isChainLink(link, parent, anchor *ir.Instruction, class ops.OpType) bool {
	linkClass, ok := link.OpType().AssociativityClass()
	if !ok || linkClass != class {
		return false
	}
	if !b.region.Contains(link) || !link.Shape().Equal(anchor.Shape()) {
		return false
	}
	if link.UserCount() != 1 || len(parent.OperandIndices(link)) != 1 {
		return false
	}
	if link.HasControlEdges() || link.HasSideEffect() || link == b.region.Root() {
		return false
	}
	_, claimed := b.claimed[link]
	return !claimed
}
