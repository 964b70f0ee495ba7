// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package outline

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/outliner/annotations"
	"github.com/gomlx/outliner/internal/irtest"
	"github.com/gomlx/outliner/ir"
	. "github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/types/shapes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Aliases
var (
	F32 = dtypes.Float32
	MS  = shapes.Make
)

// requireConflict checks that err is an *OutlineConflictError.
func requireConflict(t *testing.T, err error) *OutlineConflictError {
	t.Helper()
	require.Error(t, err)
	var conflict *OutlineConflictError
	require.True(t, errors.As(err, &conflict), "error %v is not an *OutlineConflictError", err)
	return conflict
}

func TestOutlineSingleOutput(t *testing.T) {
	m := ir.NewModule("test")
	r := m.Entry()
	p0 := r.AddParameter(MS(F32, 4))
	p1 := r.AddParameter(MS(F32, 4))
	add := r.AddBinary(OpTypeAdd, p0, p1)
	neg := r.AddUnary(OpTypeNeg, add)
	neg.SetMetadata(ir.Metadata{OpType: "Neg", OpName: "model/neg"})
	mul := r.AddBinary(OpTypeMul, neg, p0)
	r.SetRoot(mul)
	args := []*irtest.Value{irtest.Iota(MS(F32, 4)), irtest.Array(MS(F32, 4), 3, -1, 0.5, 2)}
	want := irtest.MustEvaluate(r, args...)

	result, err := Outline(Request{
		Region:       r,
		Name:         "add_neg",
		Instructions: []*ir.Instruction{add, neg},
		Inputs:       []*ir.Instruction{p0, p1},
		Outputs:      []*ir.Instruction{neg},
		MetaTarget:   neg,
		Sharding:     ir.OnDevice(1),
	})
	require.NoError(t, err)
	require.NoError(t, m.Verify())

	call := result.Call
	assert.Equal(t, OpTypeFusion, call.OpType())
	assert.Equal(t, "add_neg", call.FusionKind())
	assert.Equal(t, "add_neg", result.Region.Name())
	assert.Equal(t, []*ir.Instruction{p0, p1}, call.Operands())
	assert.Equal(t, call, mul.Operand(0))
	assert.Equal(t, "model/neg", call.Metadata().OpName)
	assert.Equal(t, 1, call.Sharding().Device)
	assert.Equal(t, call, result.Replacements[neg])
	assert.Equal(t, []*ir.Instruction{neg, add}, result.Removed)
	assert.Empty(t, result.Kept)
	assert.Nil(t, add.Region())
	assert.Equal(t, 4, r.InstructionCount())
	assert.Equal(t, 4, result.Region.InstructionCount())
	assert.Equal(t, OpTypeNeg, result.Region.Root().OpType())

	got := irtest.MustEvaluate(r, args...)
	assert.True(t, want.Equal(got), "got %s, wanted %s", got, want)
}

func TestOutlineMultipleOutputs(t *testing.T) {
	m := ir.NewModule("test")
	r := m.Entry()
	p0 := r.AddParameter(MS(F32, 3))
	c := r.AddScalarConstant(F32, 2)
	mul := r.AddBinary(OpTypeMul, p0, c)
	exp := r.AddUnary(OpTypeExp, mul)
	tuple := r.AddTuple(exp, mul)
	r.SetRoot(tuple)
	arg := irtest.Array(MS(F32, 3), 0.1, 0.2, 0.3)
	want := irtest.MustEvaluate(r, arg)

	result, err := Outline(Request{
		Region:       r,
		Name:         "scale_exp",
		Kind:         Call,
		Instructions: []*ir.Instruction{c, mul, exp},
		Inputs:       []*ir.Instruction{p0},
		Outputs:      []*ir.Instruction{exp, mul},
	})
	require.NoError(t, err)
	require.NoError(t, m.Verify())
	assert.Equal(t, OpTypeCall, result.Call.OpType())
	assert.True(t, result.Call.Shape().IsTuple())
	assert.Equal(t, OpTypeTuple, result.Region.Root().OpType())

	gte0, gte1 := tuple.Operand(0), tuple.Operand(1)
	assert.Equal(t, OpTypeGetTupleElement, gte0.OpType())
	assert.Equal(t, 0, gte0.TupleIndex())
	assert.Equal(t, 1, gte1.TupleIndex())
	assert.Equal(t, result.Call, gte1.Operand(0))
	assert.Equal(t, gte0, result.Replacements[exp])
	assert.Len(t, result.Removed, 3)

	got := irtest.MustEvaluate(r, arg)
	assert.True(t, want.Equal(got), "got %s, wanted %s", got, want)
}

func TestOutlineRoot(t *testing.T) {
	m := ir.NewModule("test")
	r := m.Entry()
	p0 := r.AddParameter(MS(F32, 3))
	neg := r.AddUnary(OpTypeNeg, p0)
	abs := r.AddUnary(OpTypeAbs, neg)
	r.SetRoot(abs)
	result, err := Outline(Request{
		Region:       r,
		Name:         "neg_abs",
		Instructions: []*ir.Instruction{neg, abs},
		Inputs:       []*ir.Instruction{p0},
		Outputs:      []*ir.Instruction{abs},
	})
	require.NoError(t, err)
	require.NoError(t, m.Verify())
	assert.Equal(t, result.Call, r.Root())
	assert.Equal(t, 2, r.InstructionCount())
}

func TestOutlineKeepsDuplicableInstructions(t *testing.T) {
	m := ir.NewModule("test")
	r := m.Entry()
	p0 := r.AddParameter(MS(F32))
	p1 := r.AddParameter(MS(F32, 2, 2))
	bcast := r.AddBroadcast(p0, MS(F32, 2, 2))
	add := r.AddBinary(OpTypeAdd, bcast, p1)
	sub := r.AddBinary(OpTypeSub, bcast, add)
	r.SetRoot(sub)
	args := []*irtest.Value{irtest.Array(MS(F32), 5), irtest.Iota(MS(F32, 2, 2))}
	want := irtest.MustEvaluate(r, args...)

	result, err := Outline(Request{
		Region:       r,
		Name:         "bcast_add",
		Instructions: []*ir.Instruction{bcast, add},
		Inputs:       []*ir.Instruction{p0, p1},
		Outputs:      []*ir.Instruction{add},
	})
	require.NoError(t, err)
	require.NoError(t, m.Verify())
	assert.Equal(t, []*ir.Instruction{bcast}, result.Kept)
	assert.Equal(t, []*ir.Instruction{add}, result.Removed)
	assert.Equal(t, bcast, sub.Operand(0))
	assert.Equal(t, result.Call, sub.Operand(1))
	assert.Equal(t, 5, r.InstructionCount())

	got := irtest.MustEvaluate(r, args...)
	assert.True(t, want.Equal(got), "got %s, wanted %s", got, want)
}

func TestOutlineControlEdges(t *testing.T) {
	m := ir.NewModule("test")
	r := m.Entry()
	p0 := r.AddParameter(MS(F32, 2))
	feed := r.AddInfeed(MS(F32, 2))
	neg := r.AddUnary(OpTypeNeg, p0)
	exp := r.AddUnary(OpTypeExp, neg)
	out := r.AddOutfeed(feed)
	require.NoError(t, feed.AddControlDependencyTo(neg))
	require.NoError(t, exp.AddControlDependencyTo(out))
	require.NoError(t, neg.AddControlDependencyTo(exp))
	r.SetRoot(r.AddTuple(exp, out))

	result, err := Outline(Request{
		Region:       r,
		Name:         "neg_exp",
		Instructions: []*ir.Instruction{neg, exp},
		Inputs:       []*ir.Instruction{p0},
		Outputs:      []*ir.Instruction{exp},
	})
	require.NoError(t, err)
	require.NoError(t, m.Verify())
	assert.Equal(t, []*ir.Instruction{feed}, result.Call.ControlPredecessors())
	assert.Equal(t, []*ir.Instruction{out}, result.Call.ControlSuccessors())
	assert.Equal(t, []*ir.Instruction{result.Clones[exp]}, result.Clones[neg].ControlSuccessors())
	assert.Empty(t, feed.ControlSuccessors()[1:])
}

func TestOutlineConflicts(t *testing.T) {
	m := ir.NewModule("test")
	r := m.Entry()
	p0 := r.AddParameter(MS(F32, 2))
	a := r.AddUnary(OpTypeNeg, p0)
	b := r.AddUnary(OpTypeExp, a)
	c := r.AddBinary(OpTypeAdd, a, b)
	rng := r.AddRng(ir.RngUniform, MS(F32, 2))
	d := r.AddBinary(OpTypeMul, rng, c)
	r.SetRoot(r.AddTuple(d, rng))
	count := r.InstructionCount()

	// Operand neither outlined nor an input.
	conflict := requireConflict(t, must1(Outline(Request{Region: r, Name: "x",
		Instructions: []*ir.Instruction{c}, Inputs: []*ir.Instruction{a}, Outputs: []*ir.Instruction{c}})))
	assert.Equal(t, "add", conflict.Instruction)
	assert.Equal(t, "main", conflict.Region)

	// Output not outlined.
	requireConflict(t, must1(Outline(Request{Region: r, Name: "x",
		Instructions: []*ir.Instruction{b}, Inputs: []*ir.Instruction{a}, Outputs: []*ir.Instruction{c}})))

	// Cycle: the external user b of the output a is needed by c.
	conflict = requireConflict(t, must1(Outline(Request{Region: r, Name: "x",
		Instructions: []*ir.Instruction{a, c}, Inputs: []*ir.Instruction{p0, b}, Outputs: []*ir.Instruction{c, a}})))
	assert.Contains(t, conflict.Reason, "cycle")

	// The rng has a side effect: it cannot be duplicated to serve its external user.
	conflict = requireConflict(t, must1(Outline(Request{Region: r, Name: "x",
		Instructions: []*ir.Instruction{rng, d}, Inputs: []*ir.Instruction{c}, Outputs: []*ir.Instruction{d}})))
	assert.Equal(t, rng.Name(), conflict.Instruction)

	// Nothing was changed.
	assert.Equal(t, count, r.InstructionCount())
	assert.Len(t, m.Regions(), 1)
	require.NoError(t, m.Verify())

	// Without the external use of a (kept, since duplicable) the same subgraph can be outlined.
	result, err := Outline(Request{Region: r, Name: "x",
		Instructions: []*ir.Instruction{a, c}, Inputs: []*ir.Instruction{p0, b}, Outputs: []*ir.Instruction{c}})
	require.NoError(t, err)
	require.NoError(t, m.Verify())
	assert.Equal(t, []*ir.Instruction{a}, result.Kept)
}

func TestOutlineAnnotations(t *testing.T) {
	m := ir.NewModule("test")
	r := m.Entry()
	p0 := r.AddParameter(MS(F32, 4))
	p1 := r.AddParameter(MS(F32, 2))
	idx := r.AddScalarConstant(dtypes.Int32, 1)
	neg := r.AddUnary(OpTypeNeg, p1)
	update := r.AddDynamicUpdateSlice(p0, neg, idx)
	r.SetRoot(update)

	ann := annotations.New()
	ann.MarkInplace(update)
	result, err := Outline(Request{
		Region:       r,
		Name:         "update",
		Instructions: []*ir.Instruction{neg, update},
		Inputs:       []*ir.Instruction{p0, p1, idx},
		Outputs:      []*ir.Instruction{update},
		Annotations:  ann,
	})
	require.NoError(t, err)
	assert.True(t, ann.IsInplace(result.Clones[update]))
	assert.False(t, ann.IsInplace(update))
	assert.Equal(t, result.Call, ann.FusionCall(result.Region))

	// Frozen annotations make the outlining fail.
	ann.Freeze()
	r2 := m.NewRegion("other")
	x := r2.AddParameter(MS(F32, 2))
	abs := r2.AddUnary(OpTypeAbs, x)
	r2.SetRoot(abs)
	_, err = Outline(Request{Region: r2, Name: "abs", Instructions: []*ir.Instruction{abs},
		Inputs: []*ir.Instruction{x}, Outputs: []*ir.Instruction{abs}, Annotations: ann})
	require.Error(t, err)
}

// must1 drops the result of Outline, to check only its error.
func must1(_ *Result, err error) error { return err }
