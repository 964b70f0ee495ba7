// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package allocation

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/types"
	"github.com/gomlx/outliner/types/shapes"
	"github.com/pkg/errors"
)

// TensorSource identifies one array value: the instruction creating it and, for tuple shaped
// instructions, the flattened index of the leaf.
type TensorSource struct {
	Instruction *ir.Instruction
	Index       int
}

// String implements fmt.Stringer.
func (s TensorSource) String() string {
	return fmt.Sprintf("%s#%d", s.Instruction.Name(), s.Index)
}

func compareSources(a, b TensorSource) int {
	if c := cmp.Compare(a.Instruction.ID(), b.Instruction.ID()); c != 0 {
		return c
	}
	return cmp.Compare(a.Index, b.Index)
}

// TensorTarget is the consumer that dictates the memory layout of a TensorSource.
type TensorTarget struct {
	// Target is the allocating consumer.
	Target *ir.Instruction

	// InputIndex is the operand position of Target reached by the source.
	InputIndex int

	// BackwardPath holds the instructions traversed from the source (included) up to, but not
	// including, Target.
	BackwardPath []*ir.Instruction

	// ForwardPath is reserved for later passes, the finder leaves it empty.
	ForwardPath []*ir.Instruction
}

// String implements fmt.Stringer.
func (t TensorTarget) String() string {
	names := make([]string, len(t.BackwardPath))
	for ii, inst := range t.BackwardPath {
		names[ii] = inst.Name()
	}
	return fmt.Sprintf("%s[%d] via [%s]", t.Target.Name(), t.InputIndex, strings.Join(names, ", "))
}

// Map holds the chosen target of each source. It is built by Run, and read by later stages once frozen.
type Map struct {
	targets map[TensorSource]TensorTarget
	frozen  bool
}

func newMap() *Map {
	return &Map{targets: make(map[TensorSource]TensorTarget)}
}

// Get returns the target of source, if there is one.
func (m *Map) Get(source TensorSource) (target TensorTarget, found bool) {
	target, found = m.targets[source]
	return
}

// Len returns the number of sources with a target.
func (m *Map) Len() int { return len(m.targets) }

// Sources returns the sources with a target, ordered by instruction ID and leaf index.
func (m *Map) Sources() []TensorSource {
	sources := make([]TensorSource, 0, len(m.targets))
	for source := range m.targets {
		sources = append(sources, source)
	}
	slices.SortFunc(sources, compareSources)
	return sources
}

// Set records target for source, replacing any previous one. It fails once the map is frozen.
func (m *Map) Set(source TensorSource, target TensorTarget) error {
	if m.frozen {
		return errors.Errorf("allocation.Map is frozen, cannot set the target of %s", source)
	}
	m.targets[source] = target
	return nil
}

// Freeze makes the map read-only.
func (m *Map) Freeze() { m.frozen = true }

// IsFrozen returns whether Freeze was called.
func (m *Map) IsFrozen() bool { return m.frozen }

// TensorsWithLayout returns every value whose layout is decided by a recorded target: the sources
// plus each value along their backward paths, with the leaf index tracked through tuples.
//
// The result is sorted like Sources.
func (m *Map) TensorsWithLayout() []TensorSource {
	withLayout := types.MakeSet[TensorSource]()
	for source, target := range m.targets {
		withLayout.Insert(source)
		parent, index := source.Instruction, source.Index
		for _, inst := range target.BackwardPath[1:] {
			switch inst.OpType() {
			case ops.OpTypeTuple:
				index = shapes.InsertIntoTuple(inst.Shape(), inst.OperandIndex(parent), index)
			case ops.OpTypeGetTupleElement:
				index = shapes.ExtractFromTuple(parent.Shape(), inst.TupleIndex(), index)
			}
			withLayout.Insert(TensorSource{Instruction: inst, Index: index})
			parent = inst
		}
	}
	sources := make([]TensorSource, 0, len(withLayout))
	for source := range withLayout {
		sources = append(sources, source)
	}
	slices.SortFunc(sources, compareSources)
	return sources
}

// String returns one line per source, in the order of Sources.
func (m *Map) String() string {
	var sb strings.Builder
	for _, source := range m.Sources() {
		_, _ = fmt.Fprintf(&sb, "%s -> %s\n", source, m.targets[source])
	}
	return sb.String()
}
