// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"github.com/gomlx/outliner/ir"
)

// traceHolds returns whether the chain recorded by trace is still in place below the anchor.
func traceHolds(anchor *ir.Instruction, trace Trace) bool {
	if trace.Operand >= anchor.NumOperands() || len(trace.Chain) == 0 {
		return false
	}
	parent := anchor
	for ii, link := range trace.Chain {
		if ii == 0 {
			if anchor.Operand(trace.Operand) != link {
				return false
			}
		} else if parent.OperandIndex(link) < 0 {
			return false
		}
		if link.UserCount() != 1 || link.HasControlEdges() {
			return false
		}
		parent = link
	}
	last := trace.Chain[len(trace.Chain)-1]
	return trace.FoundIndex < last.NumOperands() && last.Operand(trace.FoundIndex) == trace.Found &&
		trace.Found.Region() == anchor.Region()
}

// rewrite is an applied re-association, which can be undone.
type rewrite struct {
	anchor  *ir.Instruction
	trace   Trace
	users   []*ir.Instruction
	wasRoot bool
}

// applyTrace re-associates the chain of the trace, so that Found becomes operand trace.Operand of the
// anchor, and the anchor takes the place of Found in the last element of the chain. The users of the
// anchor use the first element of the chain instead.
func applyTrace(anchor *ir.Instruction, trace Trace) *rewrite {
	region := anchor.Region()
	rw := &rewrite{
		anchor:  anchor,
		trace:   trace,
		users:   anchor.Users(),
		wasRoot: region.Root() == anchor,
	}
	first, last := trace.Chain[0], trace.Chain[len(trace.Chain)-1]
	must(anchor.ReplaceOperandWith(trace.Operand, trace.Found))
	for _, user := range rw.users {
		must(anchor.ReplaceUseWith(user, first))
	}
	must(last.ReplaceOperandWith(trace.FoundIndex, anchor))
	if rw.wasRoot {
		region.SetRoot(first)
	}
	return rw
}

// undo restores the graph as it was before applyTrace.
func (rw *rewrite) undo() {
	trace := rw.trace
	first, last := trace.Chain[0], trace.Chain[len(trace.Chain)-1]
	must(last.ReplaceOperandWith(trace.FoundIndex, trace.Found))
	for _, user := range rw.users {
		must(first.ReplaceUseWith(user, rw.anchor))
	}
	must(rw.anchor.ReplaceOperandWith(trace.Operand, first))
	if rw.wasRoot {
		rw.anchor.Region().SetRoot(rw.anchor)
	}
}

// must panics with err if it is not nil.
func must(err error) {
	if err != nil {
		panic(err)
	}
}
