// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/outliner/annotations"
	"github.com/gomlx/outliner/internal/irtest"
	"github.com/gomlx/outliner/ir"
	. "github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/outline"
	"github.com/gomlx/outliner/pattern"
	"github.com/gomlx/outliner/types/shapes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	F32 = dtypes.Float32
	MS  = shapes.Make
)

// recorder outlines every match it is given, and keeps the ones that were replaced.
type recorder struct {
	matches []*Match
}

func (r *recorder) HandleMatch(match *Match, req outline.Request) (*outline.Result, error) {
	result, err := outline.Outline(req)
	if err == nil {
		r.matches = append(r.matches, match)
	}
	return result, err
}

// run runs the patterns on the entry region of the module, and checks the module is still valid.
func run(t *testing.T, m *ir.Module, opts Options, defs ...pattern.Def) (bool, *recorder) {
	patterns, err := pattern.NewSet(defs...)
	require.NoError(t, err)
	rec := &recorder{}
	changed, err := New(patterns, opts, nil).WithHandler(rec).RunOnRegion(m.Entry())
	require.NoError(t, err)
	require.NoError(t, m.Verify())
	return changed, rec
}

// Wildcard input.
var param = pattern.Node{Op: OpTypeParameter}

func binaryParams(name string, op OpType) pattern.Def {
	return pattern.Def{
		Name:    name,
		Inputs:  []int{1, 2},
		Outputs: []int{0},
		Nodes:   []pattern.Node{{Op: op, Operands: []int{1, 2}}, param, param},
	}
}

func TestSimpleReplacementTwice(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape := MS(F32, 10, 10)
	i1, i2, i3 := r.AddParameter(shape), r.AddParameter(shape), r.AddParameter(shape)
	add1 := r.AddBinary(OpTypeAdd, i1, i2)
	add2 := r.AddBinary(OpTypeAdd, add1, i3)
	r.SetRoot(r.AddTuple(add2))

	changed, rec := run(t, m, Options{}, binaryParams("test", OpTypeAdd))
	assert.True(t, changed)
	require.Len(t, rec.matches, 2)
	assert.Equal(t, 6, r.InstructionCount())

	// The second match uses the call that replaced the first.
	outer := r.Root().Operand(0)
	require.Equal(t, OpTypeFusion, outer.OpType())
	assert.Equal(t, OpTypeFusion, outer.Operand(0).OpType())
	assert.Equal(t, i3, outer.Operand(1))
	assert.Equal(t, []*ir.Instruction{outer.Operand(0), i3}, rec.matches[1].Inputs())
}

func TestExplicitInputs(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape := MS(F32, 10, 10)
	i1, i2 := r.AddParameter(shape), r.AddParameter(shape)
	add1 := r.AddBinary(OpTypeAdd, i1, i1)
	add2 := r.AddBinary(OpTypeAdd, i1, i2)
	r.SetRoot(r.AddTuple(add1, add2))

	changed, rec := run(t, m, Options{}, binaryParams("test", OpTypeAdd))
	assert.True(t, changed)
	require.Len(t, rec.matches, 2)
	assert.Equal(t, 5, r.InstructionCount())
	assert.Nil(t, add1.Region())
	assert.Nil(t, add2.Region())
	for _, call := range r.Root().Operands() {
		assert.Equal(t, OpTypeFusion, call.OpType())
	}
}

func TestSameInstructionInTwoInputSlots(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape := MS(F32, 3)
	x := r.AddParameter(shape)
	r.SetRoot(r.AddTuple(r.AddBinary(OpTypeMul, x, x)))
	args := []*irtest.Value{irtest.Array(shape, 1, 2, 3)}
	want := irtest.MustEvaluate(r, args...)

	changed, rec := run(t, m, Options{}, binaryParams("square", OpTypeMul))
	assert.True(t, changed)
	require.Len(t, rec.matches, 1)
	match := rec.matches[0]
	assert.Equal(t, []*ir.Instruction{x, x}, match.Inputs())
	assert.Equal(t, []int{0, 1}, match.ParameterIndices[x])

	call := r.Root().Operand(0)
	require.Equal(t, OpTypeFusion, call.OpType())
	assert.Equal(t, []*ir.Instruction{x, x}, call.Operands())
	got := irtest.MustEvaluate(r, args...)
	assert.True(t, want.Equal(got), "got %s, wanted %s", got, want)
}

func TestReplacedNodeCannotBeAnInput(t *testing.T) {
	// neg(x) bound to the replaced node 1 cannot also be the input node 2.
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape := MS(F32, 3)
	x := r.AddParameter(shape)
	neg := r.AddUnary(OpTypeNeg, x)
	r.SetRoot(r.AddTuple(r.AddBinary(OpTypeAdd, neg, neg)))

	changed, _ := run(t, m, Options{}, pattern.Def{
		Name:    "neg_add",
		Inputs:  []int{2, 3},
		Outputs: []int{0},
		Nodes: []pattern.Node{
			{Op: OpTypeAdd, Operands: []int{1, 2}},
			{Op: OpTypeNeg, Operands: []int{3}},
			{Op: pattern.AnyOp},
			param,
		},
	})
	assert.False(t, changed)
	assert.Equal(t, neg, r.Root().Operand(0).Operand(0))
}

func TestTwoPatterns(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape1, shape2 := MS(F32, 10, 10), MS(F32, 10)
	i1, i2, i3 := r.AddParameter(shape1), r.AddParameter(shape1), r.AddParameter(shape2)
	b1 := r.AddBroadcast(i3, shape1, 1)
	add1 := r.AddBinary(OpTypeAdd, i1, i2)
	add2 := r.AddBinary(OpTypeAdd, add1, b1)
	r.SetRoot(r.AddTuple(add2))
	add1.SetMetadata(ir.Metadata{OpType: "Add", OpName: "long/add1"})
	add2.SetMetadata(ir.Metadata{OpType: "Add", OpName: "long/add2"})

	changed, rec := run(t, m, Options{},
		pattern.Def{
			Name:    "add",
			Inputs:  []int{2, 3},
			Outputs: []int{0},
			Nodes: []pattern.Node{
				{Op: OpTypeAdd, Operands: []int{3, 1}},
				{Op: OpTypeBroadcast, Operands: []int{2}},
				param,
				param,
			},
		},
		binaryParams("add", OpTypeAdd))
	assert.True(t, changed)
	require.Len(t, rec.matches, 2)
	assert.Equal(t, 0, rec.matches[0].PatternIndex)
	assert.Equal(t, 1, rec.matches[1].PatternIndex)
	assert.Equal(t, 6, r.InstructionCount())

	call := r.Root().Operand(0)
	require.Equal(t, OpTypeFusion, call.OpType())
	assert.Equal(t, "add", call.CalledRegions()[0].Name())
	assert.Equal(t, "add", call.FusionKind())
	assert.Equal(t, "long/add2", call.Metadata().OpName)
	assert.Equal(t, "long/add1", call.Operand(1).Metadata().OpName)
	assert.Equal(t, "add.1", call.Operand(1).CalledRegions()[0].Name())
}

func TestPathsJoining(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape1, shape2 := MS(F32, 10, 10), MS(F32, 10)
	i1, i2, i3 := r.AddParameter(shape1), r.AddParameter(shape1), r.AddParameter(shape2)
	b1 := r.AddBroadcast(i3, shape1, 1)
	sub1 := r.AddBinary(OpTypeSub, i1, b1)
	add1 := r.AddBinary(OpTypeAdd, i2, b1)
	sub2 := r.AddBinary(OpTypeSub, add1, sub1)
	r.SetRoot(r.AddTuple(sub2))
	b1.SetMetadata(ir.Metadata{OpType: "Broadcast", OpName: "long/bc"})
	b1.SetSharding(ir.OnDevice(1))

	changed, rec := run(t, m, Options{},
		pattern.Def{
			Name:       "fuse",
			MetaTarget: 1,
			Inputs:     []int{2, 3},
			Outputs:    []int{0},
			Nodes: []pattern.Node{
				{Op: OpTypeAdd, Operands: []int{3, 1}},
				{Op: OpTypeBroadcast, Operands: []int{2}},
				param,
				param,
			},
		})
	assert.True(t, changed)
	require.Len(t, rec.matches, 1)
	assert.Equal(t, 8, r.InstructionCount())

	// The broadcast is still used by sub1, so it is duplicated into the fused region.
	assert.Equal(t, b1, sub1.Operand(1))
	call := sub2.Operand(0)
	require.Equal(t, OpTypeFusion, call.OpType())
	assert.Equal(t, "fuse", call.CalledRegions()[0].Name())
	assert.Equal(t, "long/bc", call.Metadata().OpName)
	require.NotNil(t, call.Sharding())
	assert.Equal(t, 1, call.Sharding().Device)
}

func TestPathsJoiningOnMultipleMatchNode(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape1, shape2 := MS(F32, 10, 10), MS(F32, 10)
	i1, i2, i3 := r.AddParameter(shape1), r.AddParameter(shape1), r.AddParameter(shape2)
	b1 := r.AddBroadcast(i3, shape1, 1)
	add1 := r.AddBinary(OpTypeAdd, i1, b1)
	add2 := r.AddBinary(OpTypeAdd, i2, b1)
	r.SetRoot(r.AddTuple(r.AddBinary(OpTypeSub, add1, add2)))

	changed, rec := run(t, m, Options{},
		pattern.Def{
			Name:    "test",
			Inputs:  []int{2, 3},
			Outputs: []int{0},
			Nodes: []pattern.Node{
				{Op: OpTypeAdd, Operands: []int{3, 1}},
				{Op: OpTypeBroadcast, Operands: []int{2}},
				param,
				param,
			},
		})
	assert.True(t, changed)
	assert.Len(t, rec.matches, 2)
	assert.Equal(t, 7, r.InstructionCount())
	assert.Nil(t, b1.Region(), "broadcast should have been removed by the second match")
}

func TestMatchedByNonRemovedNodes(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape1, shape2 := MS(F32, 10, 10), MS(F32, 10)
	i1, i2, i3 := r.AddParameter(shape1), r.AddParameter(shape1), r.AddParameter(shape2)
	b1 := r.AddBroadcast(i3, shape1, 1)
	sub1 := r.AddBinary(OpTypeSub, i1, b1)
	add1 := r.AddBinary(OpTypeAdd, i2, b1)
	r.SetRoot(r.AddTuple(r.AddBinary(OpTypeSub, add1, sub1)))

	changed, rec := run(t, m, Options{},
		pattern.Def{
			Name:    "test",
			Inputs:  []int{3, 2, 4},
			Outputs: []int{0},
			Nodes: []pattern.Node{
				{Op: OpTypeSub, Operands: []int{1, 3}},
				{Op: OpTypeAdd, Operands: []int{4, 2}},
				{Op: OpTypeBroadcast},
				param,
				param,
			},
		})
	assert.True(t, changed)
	require.Len(t, rec.matches, 1)
	assert.Len(t, rec.matches[0].Replaced(), 2)
	assert.Equal(t, []*ir.Instruction{sub1, b1, i2}, rec.matches[0].Inputs())
	assert.Equal(t, 7, r.InstructionCount())
}

func TestOutlineWithInstructionsNotRemoved(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape := MS(F32, 10)
	i1 := r.AddParameter(shape)
	one := r.AddScalarConstant(F32, 1)
	bc := r.AddBroadcast(one, shape)
	sub1 := r.AddBinary(OpTypeSub, i1, bc)
	add1 := r.AddBinary(OpTypeAdd, i1, bc)
	sub2 := r.AddBinary(OpTypeSub, add1, sub1)
	r.SetRoot(r.AddTuple(sub2))

	changed, rec := run(t, m, Options{},
		pattern.Def{
			Name:    "abc",
			Inputs:  []int{3},
			Outputs: []int{0},
			Nodes: []pattern.Node{
				{Op: OpTypeSub, Operands: []int{3, 1}},
				{Op: OpTypeBroadcast, Operands: []int{2}},
				{Op: OpTypeConstant},
				param,
			},
		})
	assert.True(t, changed)
	require.Len(t, rec.matches, 1)
	assert.Equal(t, 7, r.InstructionCount())
	call := sub2.Operand(1)
	require.Equal(t, OpTypeFusion, call.OpType())
	assert.Equal(t, "abc", call.CalledRegions()[0].Name())
	assert.Equal(t, bc, add1.Operand(1))
	assert.Equal(t, one, bc.Operand(0))
}

// lookThroughModule builds: root = (i2 op (i1 - c1)) op c1, with op = opType.
func lookThroughModule(name string, opType OpType) (m *ir.Module, i1, i2, c1, sub, inner *ir.Instruction) {
	m = ir.NewModule(name)
	r := m.Entry()
	shape := shapes.Make(F32)
	i1, i2 = r.AddParameter(shape), r.AddParameter(shape)
	c1 = r.AddScalarConstant(F32, 10)
	sub = r.AddBinary(OpTypeSub, i1, c1)
	inner = r.AddBinary(opType, i2, sub)
	r.SetRoot(r.AddBinary(opType, inner, c1))
	return
}

func TestLookThroughAssociativeOps(t *testing.T) {
	m, i1, i2, c1, _, add := lookThroughModule(t.Name(), OpTypeAdd)
	r := m.Entry()
	args := []*irtest.Value{irtest.Array(shapes.Make(F32), 3), irtest.Array(shapes.Make(F32), 5)}
	want := irtest.MustEvaluate(r, args...)

	changed, rec := run(t, m, Options{LookThroughMaxDepth: 2},
		pattern.Def{
			Name:    "abc",
			Inputs:  []int{3, 2},
			Outputs: []int{0},
			Nodes: []pattern.Node{
				{Op: OpTypeAdd, Operands: []int{1, 2}},
				{Op: OpTypeSub, Operands: []int{3, 2}},
				param,
				param,
			},
		})
	assert.True(t, changed)
	require.Len(t, rec.matches, 1)
	require.Len(t, rec.matches[0].Traces, 1)
	trace := rec.matches[0].Traces[0]
	assert.Equal(t, 0, trace.Operand)
	assert.Equal(t, []*ir.Instruction{add}, trace.Chain)
	assert.Equal(t, 1, trace.FoundIndex)

	assert.Equal(t, 5, r.InstructionCount())
	assert.Equal(t, add, r.Root())
	assert.Equal(t, i2, add.Operand(0))
	call := add.Operand(1)
	require.Equal(t, OpTypeFusion, call.OpType())
	assert.Equal(t, "abc", call.CalledRegions()[0].Name())
	assert.Equal(t, []*ir.Instruction{i1, c1}, call.Operands())

	body := call.CalledRegions()[0]
	root := body.Root()
	require.Equal(t, OpTypeAdd, root.OpType())
	assert.Equal(t, body.Parameter(1), root.Operand(1))
	bodySub := root.Operand(0)
	require.Equal(t, OpTypeSub, bodySub.OpType())
	assert.Equal(t, body.Parameter(0), bodySub.Operand(0))
	assert.Equal(t, body.Parameter(1), bodySub.Operand(1))

	got := irtest.MustEvaluate(r, args...)
	assert.True(t, want.Equal(got), "re-association changed the result: got %s, wanted %s", got, want)
}

func TestLookThroughAssociativeOpsParameter(t *testing.T) {
	m, _, _, c1, sub, add := lookThroughModule(t.Name(), OpTypeAdd)
	r := m.Entry()
	changed, rec := run(t, m, Options{LookThroughMaxDepth: 2},
		pattern.Def{
			Name:    "abc",
			Inputs:  []int{2, 1},
			Outputs: []int{0},
			Nodes: []pattern.Node{
				{Op: OpTypeAdd, Operands: []int{1, 2}},
				{Op: OpTypeSub},
				param,
			},
		})
	assert.True(t, changed)
	require.Len(t, rec.matches, 1)
	assert.Equal(t, 6, r.InstructionCount())
	assert.Equal(t, add, r.Root())
	call := add.Operand(1)
	require.Equal(t, OpTypeFusion, call.OpType())
	assert.Equal(t, []*ir.Instruction{c1, sub}, call.Operands())

	body := call.CalledRegions()[0]
	root := body.Root()
	require.Equal(t, OpTypeAdd, root.OpType())
	assert.Equal(t, body.Parameter(1), root.Operand(0))
	assert.Equal(t, body.Parameter(0), root.Operand(1))
}

// chainModule builds root = mul_n(...mul_1(i2, i1 - c1)...) * c1, where mul_k = i2 * mul_(k-1). If
// usedInTuple > 0, the root is a tuple of mul_usedInTuple and the last multiplication.
func chainModule(name string, n, usedInTuple int) (m *ir.Module, muls []*ir.Instruction) {
	m = ir.NewModule(name)
	r := m.Entry()
	shape := shapes.Make(F32)
	i1, i2 := r.AddParameter(shape), r.AddParameter(shape)
	c1 := r.AddScalarConstant(F32, 10)
	prev := r.AddBinary(OpTypeSub, i1, c1)
	for range n {
		prev = r.AddBinary(OpTypeMul, i2, prev)
		muls = append(muls, prev)
	}
	last := r.AddBinary(OpTypeMul, prev, c1)
	if usedInTuple > 0 {
		r.SetRoot(r.AddTuple(muls[usedInTuple-1], last))
	} else {
		r.SetRoot(last)
	}
	return
}

var mulSubPattern = pattern.Def{
	Name:    "abc",
	Inputs:  []int{2, 1},
	Outputs: []int{0},
	Nodes: []pattern.Node{
		{Op: OpTypeMul, Operands: []int{1, 2}},
		{Op: OpTypeSub},
		param,
	},
}

func TestLookThroughAssociativeOpsLongerChain(t *testing.T) {
	m, muls := chainModule(t.Name(), 6, 0)
	r := m.Entry()
	i1, c1 := r.Parameter(0), r.Instructions()[2]
	changed, rec := run(t, m, Options{LookThroughMaxDepth: 6},
		pattern.Def{
			Name:    "abc",
			Inputs:  []int{3, 2},
			Outputs: []int{0},
			Nodes: []pattern.Node{
				{Op: OpTypeMul, Operands: []int{1, 2}},
				{Op: OpTypeSub, Operands: []int{3, 2}},
				param,
				param,
			},
		})
	assert.True(t, changed)
	require.Len(t, rec.matches, 1)
	assert.Len(t, rec.matches[0].Traces[0].Chain, 6)
	assert.Equal(t, 10, r.InstructionCount())

	// The chain is re-associated: the top of the chain is the new root, and the last multiplication
	// is moved to the bottom of it.
	assert.Equal(t, muls[5], r.Root())
	call := muls[0].Operand(1)
	require.Equal(t, OpTypeFusion, call.OpType())
	assert.Equal(t, []*ir.Instruction{i1, c1}, call.Operands())
	root := call.CalledRegions()[0].Root()
	assert.Equal(t, OpTypeMul, root.OpType())
	assert.Equal(t, OpTypeSub, root.Operand(0).OpType())
}

func TestLookThroughAssociativeOpsChainTooLong(t *testing.T) {
	m, _ := chainModule(t.Name(), 6, 0)
	changed, rec := run(t, m, Options{LookThroughMaxDepth: 5}, mulSubPattern)
	assert.False(t, changed)
	assert.Empty(t, rec.matches)
	assert.Equal(t, 11, m.Entry().InstructionCount())
}

func TestLookThroughAssociativeOpsPartialInChainUsed(t *testing.T) {
	m, _ := chainModule(t.Name(), 6, 3)
	changed, _ := run(t, m, Options{LookThroughMaxDepth: 6}, mulSubPattern)
	assert.False(t, changed)
}

func TestLookThroughAssociativeOpsDifferentAssociativitySets(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape := shapes.Make(F32)
	i1, i2 := r.AddParameter(shape), r.AddParameter(shape)
	c1 := r.AddScalarConstant(F32, 10)
	sub := r.AddBinary(OpTypeSub, i1, c1)
	add := r.AddBinary(OpTypeAdd, i2, sub)
	mul := r.AddBinary(OpTypeMul, i2, add)
	r.SetRoot(r.AddBinary(OpTypeAdd, mul, c1))

	changed, _ := run(t, m, Options{LookThroughMaxDepth: 2},
		pattern.Def{
			Name:    "abc",
			Inputs:  []int{2, 1},
			Outputs: []int{0},
			Nodes: []pattern.Node{
				{Op: OpTypeAdd, Operands: []int{1, 2}},
				{Op: OpTypeSub},
				param,
			},
		})
	assert.False(t, changed)
}

func TestLookThroughAssociativeOpsRootNonAssociative(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape := shapes.Make(F32)
	i1, i2 := r.AddParameter(shape), r.AddParameter(shape)
	c1 := r.AddScalarConstant(F32, 10)
	add1 := r.AddBinary(OpTypeAdd, i1, c1)
	add2 := r.AddBinary(OpTypeAdd, add1, i2)
	r.SetRoot(r.AddBroadcast(add2, MS(F32, 2)))

	changed, _ := run(t, m, Options{LookThroughMaxDepth: 5},
		pattern.Def{
			Name:    "abc",
			Inputs:  []int{2},
			Outputs: []int{0},
			Nodes: []pattern.Node{
				{Op: OpTypeBroadcast, Operands: []int{1}},
				{Op: OpTypeAdd, Operands: []int{2, 3}},
				param,
				{Op: OpTypeConstant},
			},
		})
	assert.False(t, changed)
}

func TestLookThroughUndoneWhenDeclined(t *testing.T) {
	m, _, i2, _, sub, add := lookThroughModule(t.Name(), OpTypeAdd)
	r := m.Entry()
	root := r.Root()
	before := r.String()
	patterns, err := pattern.NewSet(pattern.Def{
		Name:    "abc",
		Inputs:  []int{2, 1},
		Outputs: []int{0},
		Nodes: []pattern.Node{
			{Op: OpTypeAdd, Operands: []int{1, 2}},
			{Op: OpTypeSub},
			param,
		},
	})
	require.NoError(t, err)
	var declined []*Match
	decline := HandlerFunc(func(match *Match, _ outline.Request) (*outline.Result, error) {
		// The re-association is applied while the handler runs.
		assert.Equal(t, add, match.Region.Root())
		declined = append(declined, match)
		return nil, nil
	})
	changed, err := New(patterns, Options{LookThroughMaxDepth: 2}, nil).WithHandler(decline).RunOnRegion(r)
	require.NoError(t, err)
	assert.False(t, changed)
	require.Len(t, declined, 1)
	require.NoError(t, m.Verify())
	assert.Equal(t, root, r.Root())
	assert.Equal(t, []*ir.Instruction{i2, sub}, add.Operands())
	assert.Equal(t, before, r.String())
}

func TestLookThroughUndoneOnError(t *testing.T) {
	patterns, err := pattern.NewSet(pattern.Def{
		Name:    "abc",
		Inputs:  []int{2, 1},
		Outputs: []int{0},
		Nodes: []pattern.Node{
			{Op: OpTypeAdd, Operands: []int{1, 2}},
			{Op: OpTypeSub},
			param,
		},
	})
	require.NoError(t, err)
	opts := Options{LookThroughMaxDepth: 2}

	handlers := map[string]Handler{
		"error": HandlerFunc(func(*Match, outline.Request) (*outline.Result, error) {
			return nil, errors.New("handler failed")
		}),
		"panic": HandlerFunc(func(*Match, outline.Request) (*outline.Result, error) {
			panic(errors.New("handler panicked"))
		}),
	}
	for name, handler := range handlers {
		t.Run(name, func(t *testing.T) {
			m, _, i2, _, sub, add := lookThroughModule(t.Name(), OpTypeAdd)
			r := m.Entry()
			root, before := r.Root(), r.String()
			_, err := New(patterns, opts, nil).WithHandler(handler).RunOnRegion(r)
			require.Error(t, err)
			require.NoError(t, m.Verify())
			assert.Equal(t, root, r.Root())
			assert.Equal(t, []*ir.Instruction{i2, sub}, add.Operands())
			assert.Equal(t, before, r.String())
		})
	}

	t.Run("frozen-annotations", func(t *testing.T) {
		m, _, _, _, _, _ := lookThroughModule(t.Name(), OpTypeAdd)
		r := m.Entry()
		before := r.String()
		ann := annotations.New()
		ann.Freeze()
		_, err := New(patterns, opts, ann).RunOnRegion(r)
		require.Error(t, err)
		require.NoError(t, m.Verify())
		assert.Equal(t, before, r.String())
	})
}

func TestEndToEndNestedAdd(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape := MS(F32, 4)
	a, b, c := r.AddParameter(shape), r.AddParameter(shape), r.AddParameter(shape)
	x := r.AddBinary(OpTypeAdd, a, b)
	y := r.AddBinary(OpTypeAdd, x, c)
	r.SetRoot(r.AddTuple(y))
	require.Equal(t, 6, r.InstructionCount())

	patterns, err := pattern.NewSet(pattern.Def{
		Name:    "add3",
		Inputs:  []int{3, 4, 2},
		Outputs: []int{0},
		Nodes: []pattern.Node{
			{Op: OpTypeAdd, Operands: []int{1, 2}},
			{Op: OpTypeAdd, Operands: []int{3, 4}},
			param, param, param,
		},
	})
	require.NoError(t, err)
	changed, err := RunMatcher(patterns, r, Options{})
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, m.Verify())
	assert.Equal(t, 5, r.InstructionCount())
	call := r.Root().Operand(0)
	require.Equal(t, OpTypeFusion, call.OpType())
	assert.Equal(t, []*ir.Instruction{a, b, c}, call.Operands())
	assert.Nil(t, x.Region())
	assert.Nil(t, y.Region())
}

func TestEndToEndSharedInput(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape := MS(F32, 4)
	a, b, c := r.AddParameter(shape), r.AddParameter(shape), r.AddParameter(shape)
	r.SetRoot(r.AddTuple(r.AddBinary(OpTypeAdd, a, b), r.AddBinary(OpTypeAdd, c, b)))
	args := []*irtest.Value{
		irtest.Array(shape, 1, 2, 3, 4), irtest.Array(shape, 10, 20, 30, 40), irtest.Array(shape, 5, 5, 5, 5),
	}
	want := irtest.MustEvaluate(r, args...)

	changed, rec := run(t, m, Options{}, binaryParams("add", OpTypeAdd))
	assert.True(t, changed)
	require.Len(t, rec.matches, 2)
	assert.Equal(t, 6, r.InstructionCount())
	call1, call2 := r.Root().Operand(0), r.Root().Operand(1)
	assert.Equal(t, []*ir.Instruction{a, b}, call1.Operands())
	assert.Equal(t, []*ir.Instruction{c, b}, call2.Operands())
	assert.Equal(t, 2, b.UserCount())
	got := irtest.MustEvaluate(r, args...)
	assert.True(t, want.Equal(got), "got %s, wanted %s", got, want)
}

func TestRootOnly(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape := MS(F32, 4)
	a, b, c := r.AddParameter(shape), r.AddParameter(shape), r.AddParameter(shape)
	x := r.AddBinary(OpTypeAdd, a, b)
	r.SetRoot(r.AddBinary(OpTypeAdd, x, c))

	changed, rec := run(t, m, Options{RootOnly: true}, binaryParams("add", OpTypeAdd))
	assert.True(t, changed)
	require.Len(t, rec.matches, 1)
	assert.Equal(t, OpTypeFusion, r.Root().OpType())
	assert.Equal(t, x, r.Root().Operand(0))
}

// shardedModule builds neg(a) + exp(b), with neg and exp placed on the given devices (-1 for none).
func shardedModule(name string, negDevice, expDevice int) (*ir.Module, *ir.Instruction, *ir.Instruction) {
	m := ir.NewModule(name)
	r := m.Entry()
	shape := MS(F32, 4)
	a, b := r.AddParameter(shape), r.AddParameter(shape)
	neg := r.AddUnary(OpTypeNeg, a)
	exp := r.AddUnary(OpTypeExp, b)
	if negDevice >= 0 {
		neg.SetSharding(ir.OnDevice(negDevice))
	}
	if expDevice >= 0 {
		exp.SetSharding(ir.OnDevice(expDevice))
	}
	r.SetRoot(r.AddBinary(OpTypeAdd, neg, exp))
	return m, neg, exp
}

var negExpAdd = pattern.Def{
	Name:       "neg_exp_add",
	MetaTarget: 2,
	Inputs:     []int{3, 4},
	Outputs:    []int{0},
	Nodes: []pattern.Node{
		{Op: OpTypeAdd, Operands: []int{1, 2}},
		{Op: OpTypeNeg, Operands: []int{3}},
		{Op: OpTypeExp, Operands: []int{4}},
		param,
		param,
	},
}

func TestSharding(t *testing.T) {
	t.Run("consistent", func(t *testing.T) {
		m, _, _ := shardedModule(t.Name(), 2, 2)
		changed, rec := run(t, m, Options{RequireUniqueSharding: true}, negExpAdd)
		require.True(t, changed)
		assert.Equal(t, 2, rec.matches[0].Sharding.Device)
		call := m.Entry().Root()
		require.NotNil(t, call.Sharding())
		assert.Equal(t, 2, call.Sharding().Device)
	})

	t.Run("propagated", func(t *testing.T) {
		m, _, _ := shardedModule(t.Name(), -1, 1)
		changed, _ := run(t, m, Options{RequireUniqueSharding: true}, negExpAdd)
		require.True(t, changed)
		call := m.Entry().Root()
		assert.Equal(t, 1, call.Sharding().Device)
		for _, inst := range call.CalledRegions()[0].Instructions() {
			if inst.OpType() == OpTypeParameter {
				continue
			}
			require.NotNil(t, inst.Sharding(), "%s has no sharding", inst.Name())
			assert.Equal(t, 1, inst.Sharding().Device, "%s", inst.Name())
		}
	})

	t.Run("unconstrained", func(t *testing.T) {
		m, _, _ := shardedModule(t.Name(), -1, -1)
		changed, _ := run(t, m, Options{RequireUniqueSharding: true}, negExpAdd)
		require.True(t, changed)
		assert.Nil(t, m.Entry().Root().Sharding())
	})

	t.Run("conflict-rejected", func(t *testing.T) {
		m, neg, exp := shardedModule(t.Name(), 0, 1)
		changed, _ := run(t, m, Options{RequireUniqueSharding: true}, negExpAdd)
		assert.False(t, changed)
		assert.Equal(t, []*ir.Instruction{neg, exp}, m.Entry().Root().Operands())
	})

	t.Run("conflict-ignored", func(t *testing.T) {
		m, _, _ := shardedModule(t.Name(), 0, 1)
		changed, _ := run(t, m, Options{}, negExpAdd)
		require.True(t, changed)
		// The meta target (exp) decides.
		assert.Equal(t, 1, m.Entry().Root().Sharding().Device)
	})

	t.Run("constants-exempt", func(t *testing.T) {
		m := ir.NewModule(t.Name())
		r := m.Entry()
		x := r.AddParameter(MS(F32, 4))
		c := r.AddScalarConstant(F32, 2).SetSharding(ir.OnDevice(3))
		bc := r.AddBroadcast(c, MS(F32, 4))
		r.SetRoot(r.AddBinary(OpTypeMul, x, bc).SetSharding(ir.OnDevice(1)))
		changed, _ := run(t, m, Options{RequireUniqueSharding: true}, pattern.Def{
			Name:    "scale",
			Inputs:  []int{1},
			Outputs: []int{0},
			Nodes: []pattern.Node{
				{Op: OpTypeMul, Operands: []int{1, 2}},
				param,
				{Op: OpTypeBroadcast, Operands: []int{3}},
				{Op: OpTypeConstant},
			},
		})
		require.True(t, changed)
		assert.Equal(t, 1, r.Root().Sharding().Device)
	})
}

// scaledInplace matches a + b*c, writing the result in place of a.
var scaledInplace = pattern.Def{
	Name:          "scaled_inplace",
	Inputs:        []int{1, 3, 4},
	Outputs:       []int{0},
	InplaceInputs: []int{1},
	Nodes: []pattern.Node{
		{Op: OpTypeAdd, Operands: []int{1, 2}},
		param,
		{Op: OpTypeMul, Operands: []int{3, 4}},
		param,
		param,
	},
}

func TestInplace(t *testing.T) {
	m := ir.NewModule(t.Name())
	r := m.Entry()
	shape := MS(F32, 4)
	a, b, c := r.AddParameter(shape), r.AddParameter(shape), r.AddParameter(shape)
	reader := r.AddUnary(OpTypeNeg, a)
	update := r.AddBinary(OpTypeAdd, a, r.AddBinary(OpTypeMul, b, c))
	r.SetRoot(r.AddTuple(update, reader))

	patterns, err := pattern.NewSet(scaledInplace)
	require.NoError(t, err)
	ann := annotations.New()
	changed, err := New(patterns, Options{}, ann).RunOnRegion(r)
	require.NoError(t, err)
	require.True(t, changed)
	require.NoError(t, m.Verify())

	call := r.Root().Operand(0)
	require.Equal(t, OpTypeFusion, call.OpType())
	assert.Equal(t, []int{0}, ann.InplaceCall(call))
	assert.Equal(t, []*ir.Instruction{reader}, call.ControlPredecessors())
	assert.True(t, ann.IsMutatedInPlace(a, nil))
	assert.Equal(t, call, ann.FusionCall(call.CalledRegions()[0]))
}

func TestInplaceRejections(t *testing.T) {
	t.Run("input-used-twice", func(t *testing.T) {
		m := ir.NewModule(t.Name())
		r := m.Entry()
		shape := MS(F32, 4)
		a, c := r.AddParameter(shape), r.AddParameter(shape)
		r.SetRoot(r.AddBinary(OpTypeAdd, a, r.AddBinary(OpTypeMul, a, c)))
		changed, _ := run(t, m, Options{}, scaledInplace)
		assert.False(t, changed)

		// Without the in-place input, a fills both slots.
		notInplace := scaledInplace
		notInplace.Name = "scaled"
		notInplace.InplaceInputs = nil
		changed, rec := run(t, m, Options{}, notInplace)
		assert.True(t, changed)
		require.Len(t, rec.matches, 1)
		assert.Equal(t, []int{0, 1}, rec.matches[0].ParameterIndices[a])
	})

	t.Run("already-mutated", func(t *testing.T) {
		m := ir.NewModule(t.Name())
		r := m.Entry()
		shape := MS(F32, 4)
		a, b, c := r.AddParameter(shape), r.AddParameter(shape), r.AddParameter(shape)
		r.SetRoot(r.AddBinary(OpTypeAdd, a, r.AddBinary(OpTypeMul, b, c)))
		writer := r.AddCustomCall("writer", shape, a)
		ann := annotations.New()
		ann.MarkInplace(writer)
		patterns, err := pattern.NewSet(scaledInplace)
		require.NoError(t, err)
		changed, err := New(patterns, Options{}, ann).RunOnRegion(r)
		require.NoError(t, err)
		assert.False(t, changed)
	})

	t.Run("reader-after-write", func(t *testing.T) {
		// The reader of a uses the result of the update: it cannot run before it.
		m := ir.NewModule(t.Name())
		r := m.Entry()
		shape := MS(F32, 4)
		a, b, c := r.AddParameter(shape), r.AddParameter(shape), r.AddParameter(shape)
		update := r.AddBinary(OpTypeAdd, a, r.AddBinary(OpTypeMul, b, c))
		r.SetRoot(r.AddBinary(OpTypeSub, a, update))
		changed, _ := run(t, m, Options{}, scaledInplace)
		assert.False(t, changed)
	})
}

func TestAnnotationsFrozen(t *testing.T) {
	m, _, _ := shardedModule(t.Name(), -1, -1)
	patterns, err := pattern.NewSet(negExpAdd)
	require.NoError(t, err)
	ann := annotations.New()
	ann.Freeze()
	_, err = New(patterns, Options{}, ann).RunOnRegion(m.Entry())
	require.Error(t, err)
}

func TestRunModule(t *testing.T) {
	m := ir.NewModule(t.Name())
	shape := MS(F32, 4)
	body := m.NewRegion("body")
	p0, p1 := body.AddParameter(shape), body.AddParameter(shape)
	body.SetRoot(body.AddBinary(OpTypeAdd, p0, p1))
	r := m.Entry()
	a, b := r.AddParameter(shape), r.AddParameter(shape)
	r.SetRoot(r.AddCall(body, a, r.AddBinary(OpTypeAdd, a, b)))

	patterns, err := pattern.NewSet(binaryParams("add", OpTypeAdd))
	require.NoError(t, err)
	mt := New(patterns, Options{}, nil).WithRegionPrefix("_fused_")
	changed, err := mt.Run(m)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, m.Verify())
	assert.Equal(t, OpTypeFusion, body.Root().OpType())
	assert.Equal(t, OpTypeFusion, r.Root().Operand(1).OpType())
	assert.Equal(t, "_fused_add", r.Root().Operand(1).CalledRegions()[0].Name())
	assert.Equal(t, "add", r.Root().Operand(1).FusionKind())

	// Fused regions are not visited again.
	changed, err = mt.Run(m)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions("root_only, unique_sharding,look_through=3")
	require.NoError(t, err)
	assert.Equal(t, Options{RootOnly: true, RequireUniqueSharding: true, LookThroughMaxDepth: 3}, opts)
	assert.Equal(t, "root_only,unique_sharding,look_through=3", opts.String())

	opts, err = ParseOptions("")
	require.NoError(t, err)
	assert.Equal(t, Options{}, opts)

	opts, err = ParseOptions("root_only=false,unique_sharding=1")
	require.NoError(t, err)
	assert.Equal(t, Options{RequireUniqueSharding: true}, opts)

	for _, config := range []string{"look_through", "look_through=-1", "look_through=x", "root_only=maybe", "fast"} {
		_, err = ParseOptions(config)
		assert.Error(t, err, "config %q", config)
	}
}
