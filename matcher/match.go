// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"fmt"
	"strings"

	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/pattern"
)

// Match is an occurrence of a pattern in a region.
type Match struct {
	Pattern      *pattern.Pattern
	PatternIndex int
	Region       *ir.Region

	// Instructions bound to each node of the pattern, indexed by node id.
	Instructions []*ir.Instruction

	// ParameterIndices maps each instruction bound to an input node to its input slots.
	ParameterIndices map[*ir.Instruction][]int

	// Traces of the associative look-throughs used by the match, see Trace.
	Traces []Trace

	// Sharding decided for the call replacing the match, nil if unconstrained.
	Sharding *ir.Sharding

	// ControlPredecessors are the instructions that must execute before the call replacing the match:
	// the readers of the inputs it mutates in place.
	ControlPredecessors []*ir.Instruction
}

// Inputs returns the instructions bound to the input nodes, in input slot order.
func (m *Match) Inputs() []*ir.Instruction {
	inputs := make([]*ir.Instruction, m.Pattern.NumInputs())
	for slot, id := range m.Pattern.Inputs() {
		inputs[slot] = m.Instructions[id]
	}
	return inputs
}

// Replaced returns the instructions bound to the replaced (non-input) nodes, in node order.
func (m *Match) Replaced() []*ir.Instruction {
	ids := m.Pattern.Replaced()
	replaced := make([]*ir.Instruction, len(ids))
	for ii, id := range ids {
		replaced[ii] = m.Instructions[id]
	}
	return replaced
}

// Outputs returns the instructions bound to the output nodes, in the order declared by the pattern.
func (m *Match) Outputs() []*ir.Instruction {
	ids := m.Pattern.Outputs()
	outputs := make([]*ir.Instruction, len(ids))
	for ii, id := range ids {
		outputs[ii] = m.Instructions[id]
	}
	return outputs
}

// MetaTarget returns the instruction bound to the meta target node of the pattern.
func (m *Match) MetaTarget() *ir.Instruction {
	return m.Instructions[m.Pattern.MetaTarget()]
}

// Anchor returns the instruction bound to node 0 of the pattern.
func (m *Match) Anchor() *ir.Instruction { return m.Instructions[0] }

// String implements fmt.Stringer.
func (m *Match) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s@%s(", m.Pattern.Name(), m.Anchor().Name())
	for id, inst := range m.Instructions {
		if id > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "#%d=%s", id, inst.Name())
	}
	sb.WriteString(")")
	for _, trace := range m.Traces {
		_, _ = fmt.Fprintf(&sb, " %s", trace)
	}
	return sb.String()
}

// Trace records an associative look-through: operand Operand of the anchor R didn't match its pattern
// node, but an operand of a chain of operations of the same associativity class did.
//
// The chain A_1 ... A_d starts with A_1 = R.Operand(Operand), each A_(i+1) is an operand of A_i, and
// Found is the operand FoundIndex of A_d. When the match is applied, the chain is re-associated so that
// Found becomes the operand of R:
//
//	R.Operand(Operand) = Found,  A_d.Operand(FoundIndex) = R,  users of R use A_1 instead.
//
// For associative and commutative operations this preserves the value of every instruction used
// outside the chain.
type Trace struct {
	Operand    int
	Chain      []*ir.Instruction
	Found      *ir.Instruction
	FoundIndex int
}

// String implements fmt.Stringer.
func (t Trace) String() string {
	names := make([]string, len(t.Chain))
	for ii, inst := range t.Chain {
		names[ii] = inst.Name()
	}
	return fmt.Sprintf("look-through[#%d: %s -> %s#%d]", t.Operand, strings.Join(names, " -> "), t.Found.Name(), t.FoundIndex)
}
