// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ir defines the dataflow-graph IR the passes operate on: a Module is a tree of Regions, and
// each Region is a graph of Instructions with one root.
//
// Edges are operand/result dependencies, plus optional control-only dependencies that order two
// instructions without a data dependency. Every instruction produces one value with a Shape, which
// can be a tuple.
//
// Graphs are built with the Region builder methods (AddParameter, AddBinary, AddCall, ...), which panic
// (with github.com/gomlx/exceptions) on misuse, e.g. an operand from another region or incompatible
// shapes. The mutation methods (ReplaceAllUsesWith, RemoveInstruction, ...) return errors instead,
// since they are used by the passes on graphs they don't control.
package ir

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/types"
)

// Module is the unit of compilation: an entry Region plus the Regions called from it.
type Module struct {
	name    string
	entry   *Region
	regions []*Region
	nextID  int

	// Instructions and regions have separate namespaces.
	names, regionNames types.Set[string]
}

// NewModule creates an empty Module, with an entry region named "main".
func NewModule(name string) *Module {
	m := &Module{name: name, names: types.MakeSet[string](), regionNames: types.MakeSet[string]()}
	m.entry = m.NewRegion("main")
	return m
}

// Name of the module.
func (m *Module) Name() string { return m.name }

// Entry returns the entry region of the module.
func (m *Module) Entry() *Region { return m.entry }

// Regions returns all regions of the module, in creation order.
func (m *Module) Regions() []*Region { return slices.Clone(m.regions) }

// Region returns the region with the given name, or nil.
func (m *Module) Region(name string) *Region {
	for _, r := range m.regions {
		if r.name == name {
			return r
		}
	}
	return nil
}

// NewRegion creates a new empty region. The name is made unique among the regions of the module by
// appending a ".<n>" suffix if needed.
//
// The region is owned by the first instruction that calls it (see Region.Owner).
func (m *Module) NewRegion(name string) *Region {
	r := &Region{name: uniqueName(m.regionNames, name), module: m}
	m.regions = append(m.regions, r)
	return r
}

// UniqueName returns base if it was not yet used as an instruction name in the module, otherwise
// "<base>.<n>" for the smallest n not yet used. The returned name is reserved.
func (m *Module) UniqueName(base string) string {
	return uniqueName(m.names, base)
}

func uniqueName(used types.Set[string], base string) string {
	name := base
	for ii := 1; used.Has(name); ii++ {
		name = fmt.Sprintf("%s.%d", base, ii)
	}
	used.Insert(name)
	return name
}

// InstructionCount returns the total number of instructions in all regions of the module.
func (m *Module) InstructionCount() int {
	count := 0
	for _, r := range m.regions {
		count += len(r.instructions)
	}
	return count
}

// Region is a graph of instructions with parameters and one root, whose value is the result of the region.
type Region struct {
	name         string
	module       *Module
	owner        *Instruction
	instructions []*Instruction
	parameters   []*Instruction
	root         *Instruction
}

// Name of the region, unique among the regions of the module.
func (r *Region) Name() string { return r.name }

// Module that contains the region.
func (r *Region) Module() *Module { return r.module }

// Owner returns the instruction that calls this region, or nil for the entry region or a region not yet called.
func (r *Region) Owner() *Instruction { return r.owner }

// IsEntry returns whether this is the entry region of its module.
func (r *Region) IsEntry() bool { return r.module.entry == r }

// IsFused returns whether this region is the body of a fusion instruction.
func (r *Region) IsFused() bool { return r.owner != nil && r.owner.opType == ops.OpTypeFusion }

// Instructions returns a copy of the list of instructions of the region, in insertion order.
func (r *Region) Instructions() []*Instruction { return slices.Clone(r.instructions) }

// InstructionCount returns the number of instructions in the region.
func (r *Region) InstructionCount() int { return len(r.instructions) }

// Parameters returns a copy of the parameters of the region, indexed by parameter number.
func (r *Region) Parameters() []*Instruction { return slices.Clone(r.parameters) }

// Parameter returns the parameter with the given number.
func (r *Region) Parameter(number int) *Instruction { return r.parameters[number] }

// NumParameters returns the number of parameters of the region.
func (r *Region) NumParameters() int { return len(r.parameters) }

// Root returns the instruction whose value is the result of the region. It is nil until SetRoot is called.
func (r *Region) Root() *Instruction { return r.root }

// SetRoot sets the root of the region. It panics if inst belongs to another region.
func (r *Region) SetRoot(inst *Instruction) *Region {
	if inst == nil || inst.region != r {
		exceptions.Panicf("Region(%q).SetRoot(%v): instruction not in region", r.name, inst)
	}
	r.root = inst
	return r
}

// Contains returns whether inst belongs to the region.
func (r *Region) Contains(inst *Instruction) bool { return inst != nil && inst.region == r }

// String implements fmt.Stringer. It prints the instructions in post-order, one per line.
func (r *Region) String() string {
	s := fmt.Sprintf("region %s {\n", r.name)
	for _, inst := range r.PostOrder() {
		marker := "  "
		if inst == r.root {
			marker = "* "
		}
		s += marker + inst.String() + "\n"
	}
	return s + "}"
}
