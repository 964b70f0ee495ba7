// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/ir/shapeinference"
	"github.com/gomlx/outliner/types/shapes"
)

// newInstruction creates and registers a new instruction in the region.
func (r *Region) newInstruction(opType ops.OpType, shape shapes.Shape, operands ...*Instruction) *Instruction {
	for ii, operand := range operands {
		if operand == nil {
			exceptions.Panicf("Region(%q): operand #%d of new %s is nil", r.name, ii, opType)
		}
		if operand.region != r {
			exceptions.Panicf("Region(%q): operand #%d (%s) of new %s belongs to another region or was removed",
				r.name, ii, operand.name, opType)
		}
	}
	m := r.module
	inst := &Instruction{
		id:       m.nextID,
		name:     m.UniqueName(strings.ToLower(opType.String())),
		opType:   opType,
		shape:    shape,
		region:   r,
		operands: slices.Clone(operands),
	}
	m.nextID++
	r.instructions = append(r.instructions, inst)
	for _, operand := range operands {
		operand.addUser(inst)
	}
	return inst
}

// checkCallable panics if the regions cannot be called from r by a new instruction.
func (r *Region) checkCallable(opType ops.OpType, called ...*Region) {
	for _, c := range called {
		if c.module != r.module {
			exceptions.Panicf("Region(%q): %s cannot call region %q of another module", r.name, opType, c.name)
		}
		if c == r || c.IsEntry() {
			exceptions.Panicf("Region(%q): %s cannot call region %q", r.name, opType, c.name)
		}
		if c.owner != nil {
			exceptions.Panicf("Region(%q): region %q is already called by %s, clone it with Module.CloneRegion",
				r.name, c.name, c.owner.name)
		}
		if c.root == nil {
			exceptions.Panicf("Region(%q): called region %q has no root", r.name, c.name)
		}
	}
}

// call registers inst as the owner of the called regions, which must have been checked with checkCallable.
func (r *Region) call(inst *Instruction, called ...*Region) {
	for _, c := range called {
		c.owner = inst
	}
	inst.calledRegions = append(inst.calledRegions, called...)
}

// mustShape panics with err if it is not nil.
func mustShape(shape shapes.Shape, err error) shapes.Shape {
	if err != nil {
		panic(err)
	}
	return shape
}

// AddParameter adds a new parameter to the region, numbered after the existing ones.
func (r *Region) AddParameter(shape shapes.Shape) *Instruction {
	if !shape.Ok() {
		exceptions.Panicf("Region(%q).AddParameter(%s): invalid shape", r.name, shape)
	}
	inst := r.newInstruction(ops.OpTypeParameter, shape.Clone())
	inst.parameterNumber = len(r.parameters)
	r.parameters = append(r.parameters, inst)
	return inst
}

// AddConstant adds a constant with the given literal value.
func (r *Region) AddConstant(literal *Literal) *Instruction {
	inst := r.newInstruction(ops.OpTypeConstant, literal.Shape().Clone())
	inst.literal = literal
	return inst
}

// AddScalarConstant adds a scalar constant.
func (r *Region) AddScalarConstant(dtype dtypes.DType, value float64) *Instruction {
	return r.AddConstant(NewScalarLiteral(dtype, value))
}

// AddUnary adds an elementwise unary operation.
func (r *Region) AddUnary(opType ops.OpType, operand *Instruction) *Instruction {
	shape := mustShape(shapeinference.UnaryOp(opType, operand.shape))
	return r.newInstruction(opType, shape, operand)
}

// AddBinary adds an elementwise binary operation, including comparisons.
func (r *Region) AddBinary(opType ops.OpType, lhs, rhs *Instruction) *Instruction {
	var shape shapes.Shape
	if shapeinference.ComparisonOperations.Has(opType) {
		shape = mustShape(shapeinference.ComparisonOp(opType, lhs.shape, rhs.shape))
	} else {
		shape = mustShape(shapeinference.BinaryOp(opType, lhs.shape, rhs.shape))
	}
	return r.newInstruction(opType, shape, lhs, rhs)
}

// AddSelect adds an elementwise selection between onTrue and onFalse, based on predicate.
func (r *Region) AddSelect(predicate, onTrue, onFalse *Instruction) *Instruction {
	shape := mustShape(shapeinference.SelectOp(predicate.shape, onTrue.shape, onFalse.shape))
	return r.newInstruction(ops.OpTypeSelect, shape, predicate, onTrue, onFalse)
}

// AddClamp adds an elementwise clamp of operand to [minValue, maxValue].
func (r *Region) AddClamp(minValue, operand, maxValue *Instruction) *Instruction {
	shape := mustShape(shapeinference.ClampOp(minValue.shape, operand.shape, maxValue.shape))
	return r.newInstruction(ops.OpTypeClamp, shape, minValue, operand, maxValue)
}

// AddTuple adds a tuple of the given elements.
func (r *Region) AddTuple(elements ...*Instruction) *Instruction {
	elementShapes := make([]shapes.Shape, len(elements))
	for ii, element := range elements {
		elementShapes[ii] = element.shape.Clone()
	}
	return r.newInstruction(ops.OpTypeTuple, shapes.MakeTuple(elementShapes), elements...)
}

// AddGetTupleElement adds the extraction of the element index of the tuple x.
func (r *Region) AddGetTupleElement(x *Instruction, index int) *Instruction {
	if !x.shape.IsTuple() || index < 0 || index >= x.shape.TupleSize() {
		exceptions.Panicf("Region(%q).AddGetTupleElement(%s, %d): invalid tuple index", r.name, x.shape, index)
	}
	inst := r.newInstruction(ops.OpTypeGetTupleElement, x.shape.TupleShapes[index].Clone(), x)
	inst.tupleIndex = index
	return inst
}

// AddBroadcast broadcasts x to shape: axis i of x is mapped to axis broadcastAxes[i] of the output.
func (r *Region) AddBroadcast(x *Instruction, shape shapes.Shape, broadcastAxes ...int) *Instruction {
	if err := shapeinference.BroadcastInDimOp(x.shape, shape, broadcastAxes); err != nil {
		panic(err)
	}
	inst := r.newInstruction(ops.OpTypeBroadcast, shape.Clone(), x)
	inst.dimensions = slices.Clone(broadcastAxes)
	return inst
}

// AddReshape reshapes x to the given dimensions.
func (r *Region) AddReshape(x *Instruction, dimensions ...int) *Instruction {
	shape := mustShape(shapeinference.ReshapeOp(x.shape, dimensions))
	return r.newInstruction(ops.OpTypeReshape, shape, x)
}

// AddTranspose permutes the axes of x.
func (r *Region) AddTranspose(x *Instruction, permutation ...int) *Instruction {
	shape := mustShape(shapeinference.TransposeOp(x.shape, permutation))
	inst := r.newInstruction(ops.OpTypeTranspose, shape, x)
	inst.dimensions = slices.Clone(permutation)
	return inst
}

// AddConvert converts x to the given dtype.
func (r *Region) AddConvert(x *Instruction, dtype dtypes.DType) *Instruction {
	if x.shape.IsTuple() {
		exceptions.Panicf("Region(%q).AddConvert(%s): cannot convert a tuple", r.name, x.shape)
	}
	return r.newInstruction(ops.OpTypeConvert, x.shape.WithDType(dtype), x)
}

// AddConcatenate concatenates the operands along axis.
func (r *Region) AddConcatenate(axis int, operands ...*Instruction) *Instruction {
	inputShapes := make([]shapes.Shape, len(operands))
	for ii, operand := range operands {
		inputShapes[ii] = operand.shape
	}
	shape := mustShape(shapeinference.ConcatenateOp(inputShapes, axis))
	inst := r.newInstruction(ops.OpTypeConcatenate, shape, operands...)
	inst.dimensions = []int{axis}
	return inst
}

// AddConvolution adds a convolution of input with kernel. The output shape is given, convolution
// attributes are not modeled.
func (r *Region) AddConvolution(input, kernel *Instruction, shape shapes.Shape) *Instruction {
	return r.newInstruction(ops.OpTypeConvolution, shape.Clone(), input, kernel)
}

// AddDot adds a dot product (matrix multiplication) of lhs and rhs with the given output shape.
func (r *Region) AddDot(lhs, rhs *Instruction, shape shapes.Shape) *Instruction {
	return r.newInstruction(ops.OpTypeDot, shape.Clone(), lhs, rhs)
}

// AddDynamicSlice slices operand to shape, at the position given by the scalar startIndices.
func (r *Region) AddDynamicSlice(operand *Instruction, shape shapes.Shape, startIndices ...*Instruction) *Instruction {
	if len(startIndices) != operand.shape.Rank() {
		exceptions.Panicf("Region(%q).AddDynamicSlice(%s): requires one start index per axis, got %d",
			r.name, operand.shape, len(startIndices))
	}
	return r.newInstruction(ops.OpTypeDynamicSlice, shape.Clone(), append([]*Instruction{operand}, startIndices...)...)
}

// AddDynamicUpdateSlice writes update into operand, at the position given by the scalar startIndices.
func (r *Region) AddDynamicUpdateSlice(operand, update *Instruction, startIndices ...*Instruction) *Instruction {
	indexShapes := make([]shapes.Shape, len(startIndices))
	for ii, index := range startIndices {
		indexShapes[ii] = index.shape
	}
	shape := mustShape(shapeinference.DynamicUpdateSliceOp(operand.shape, update.shape, indexShapes))
	return r.newInstruction(ops.OpTypeDynamicUpdateSlice, shape,
		append([]*Instruction{operand, update}, startIndices...)...)
}

// AddScatter scatters updates into operand at indices. The output has the shape of operand.
func (r *Region) AddScatter(operand, indices, updates *Instruction) *Instruction {
	return r.newInstruction(ops.OpTypeScatter, operand.shape.Clone(), operand, indices, updates)
}

// AddGather gathers slices of operand at indices, with the given output shape.
func (r *Region) AddGather(operand, indices *Instruction, shape shapes.Shape) *Instruction {
	return r.newInstruction(ops.OpTypeGather, shape.Clone(), operand, indices)
}

// AddPad pads operand with padValue, to the given output shape.
func (r *Region) AddPad(operand, padValue *Instruction, shape shapes.Shape) *Instruction {
	if !padValue.shape.IsScalar() || padValue.shape.DType != operand.shape.DType {
		exceptions.Panicf("Region(%q).AddPad(%s): padding value must be a scalar of the same dtype, got %s",
			r.name, operand.shape, padValue.shape)
	}
	return r.newInstruction(ops.OpTypePad, shape.Clone(), operand, padValue)
}

// AddReduce reduces operand, starting from initValue, with the reducer region, to the given output shape.
func (r *Region) AddReduce(operand, initValue *Instruction, reducer *Region, shape shapes.Shape) *Instruction {
	r.checkCallable(ops.OpTypeReduce, reducer)
	inst := r.newInstruction(ops.OpTypeReduce, shape.Clone(), operand, initValue)
	r.call(inst, reducer)
	return inst
}

// AddReduceWindow reduces windows of operand, starting from initValue, with the reducer region.
func (r *Region) AddReduceWindow(operand, initValue *Instruction, reducer *Region, shape shapes.Shape) *Instruction {
	r.checkCallable(ops.OpTypeReduceWindow, reducer)
	inst := r.newInstruction(ops.OpTypeReduceWindow, shape.Clone(), operand, initValue)
	r.call(inst, reducer)
	return inst
}

// checkArguments panics if the arguments don't match the parameters of the callee.
func (r *Region) checkArguments(opType ops.OpType, callee *Region, arguments []*Instruction) {
	if len(arguments) != len(callee.parameters) {
		exceptions.Panicf("Region(%q): %s of %q requires %d arguments, got %d",
			r.name, opType, callee.name, len(callee.parameters), len(arguments))
	}
	for ii, arg := range arguments {
		if !arg.shape.Equal(callee.parameters[ii].shape) {
			exceptions.Panicf("Region(%q): %s of %q argument #%d has shape %s, parameter has shape %s",
				r.name, opType, callee.name, ii, arg.shape, callee.parameters[ii].shape)
		}
	}
}

// AddCall adds a call to the body region with the given arguments.
func (r *Region) AddCall(body *Region, arguments ...*Instruction) *Instruction {
	r.checkCallable(ops.OpTypeCall, body)
	r.checkArguments(ops.OpTypeCall, body, arguments)
	inst := r.newInstruction(ops.OpTypeCall, body.root.shape.Clone(), arguments...)
	r.call(inst, body)
	return inst
}

// AddFusion adds a fusion of the given kind, that executes the fused region with the given arguments.
func (r *Region) AddFusion(kind string, fused *Region, arguments ...*Instruction) *Instruction {
	r.checkCallable(ops.OpTypeFusion, fused)
	r.checkArguments(ops.OpTypeFusion, fused, arguments)
	inst := r.newInstruction(ops.OpTypeFusion, fused.root.shape.Clone(), arguments...)
	inst.fusionKind = kind
	r.call(inst, fused)
	return inst
}

// AddWhile adds a while loop: body is executed while condition returns true, starting from init.
func (r *Region) AddWhile(condition, body *Region, init *Instruction) *Instruction {
	r.checkCallable(ops.OpTypeWhile, condition, body)
	r.checkArguments(ops.OpTypeWhile, condition, []*Instruction{init})
	r.checkArguments(ops.OpTypeWhile, body, []*Instruction{init})
	if !condition.root.shape.Equal(shapes.Make(dtypes.Bool)) {
		exceptions.Panicf("Region(%q).AddWhile: condition %q must return a scalar Bool", r.name, condition.name)
	}
	if !body.root.shape.Equal(init.shape) {
		exceptions.Panicf("Region(%q).AddWhile: body %q must return the shape %s of init", r.name, body.name, init.shape)
	}
	inst := r.newInstruction(ops.OpTypeWhile, init.shape.Clone(), init)
	r.call(inst, condition, body)
	return inst
}

// AddCustomCall adds a call to a custom target. See RegisterCustomOp.
func (r *Region) AddCustomCall(target string, shape shapes.Shape, operands ...*Instruction) *Instruction {
	inst := r.newInstruction(ops.OpTypeCustomCall, shape.Clone(), operands...)
	inst.customCallTarget = target
	if info, found := LookupCustomOp(target); found {
		inst.sideEffect = info.SideEffect
	}
	return inst
}

// AddRng adds a random number generator, with the distribution parameters given as operands.
func (r *Region) AddRng(distribution RngDistribution, shape shapes.Shape, operands ...*Instruction) *Instruction {
	inst := r.newInstruction(ops.OpTypeRng, shape.Clone(), operands...)
	inst.distribution = distribution
	return inst
}

// AddInfeed adds a read from the host infeed queue.
func (r *Region) AddInfeed(shape shapes.Shape) *Instruction {
	return r.newInstruction(ops.OpTypeInfeed, shape.Clone())
}

// AddOutfeed adds a write of x to the host outfeed queue. It returns an empty tuple.
func (r *Region) AddOutfeed(x *Instruction) *Instruction {
	return r.newInstruction(ops.OpTypeOutfeed, shapes.MakeTuple(nil), x)
}

// AddAllReduce adds a cross-replica sum of x.
func (r *Region) AddAllReduce(x *Instruction) *Instruction {
	return r.newInstruction(ops.OpTypeAllReduce, x.shape.Clone(), x)
}

// AddOp adds an operation with no attributes other than its output shape, e.g.: OpTypeSlice, OpTypeIota,
// OpTypeBitcast.
func (r *Region) AddOp(opType ops.OpType, shape shapes.Shape, operands ...*Instruction) *Instruction {
	switch opType {
	case ops.OpTypeParameter, ops.OpTypeConstant, ops.OpTypeCall, ops.OpTypeFusion, ops.OpTypeWhile,
		ops.OpTypeReduce, ops.OpTypeReduceWindow, ops.OpTypeCustomCall, ops.OpTypeGetTupleElement:
		exceptions.Panicf("Region(%q).AddOp(%s): use the specialized builder", r.name, opType)
	}
	return r.newInstruction(opType, shape.Clone(), operands...)
}

// AddClone adds a copy of inst, with the given operands, to the region. inst can belong to another
// region or module. Called regions are deep copied, so region ownership remains a tree.
//
// Parameters cannot be cloned, use AddParameter instead.
func (r *Region) AddClone(inst *Instruction, operands ...*Instruction) *Instruction {
	if inst.opType == ops.OpTypeParameter {
		exceptions.Panicf("Region(%q).AddClone(%s): parameters cannot be cloned", r.name, inst.name)
	}
	if len(operands) != len(inst.operands) {
		exceptions.Panicf("Region(%q).AddClone(%s): got %d operands, wanted %d", r.name, inst.name, len(operands), len(inst.operands))
	}
	clone := r.newInstruction(inst.opType, inst.shape.Clone(), operands...)
	clone.metadata = inst.metadata
	clone.SetSharding(inst.sharding)
	clone.tupleIndex = inst.tupleIndex
	clone.literal = inst.literal
	clone.dimensions = slices.Clone(inst.dimensions)
	clone.fusionKind = inst.fusionKind
	clone.customCallTarget = inst.customCallTarget
	clone.distribution = inst.distribution
	clone.sideEffect = inst.sideEffect
	if len(inst.calledRegions) > 0 {
		called := make([]*Region, len(inst.calledRegions))
		for ii, c := range inst.calledRegions {
			called[ii] = r.module.CloneRegion(c)
		}
		r.checkCallable(inst.opType, called...)
		r.call(clone, called...)
	}
	return clone
}

// CloneRegion returns a deep copy of the region src (which can belong to another module), not yet called
// by any instruction.
func (m *Module) CloneRegion(src *Region) *Region {
	dst := m.NewRegion(src.name)
	mapping := make(map[*Instruction]*Instruction, len(src.instructions))
	for _, param := range src.parameters {
		mapping[param] = dst.AddParameter(param.shape).SetName(m.UniqueName(param.name)).
			SetMetadata(param.metadata).SetSharding(param.sharding)
	}
	for _, inst := range src.PostOrder() {
		if _, found := mapping[inst]; found {
			continue
		}
		operands := make([]*Instruction, len(inst.operands))
		for ii, operand := range inst.operands {
			operands[ii] = mapping[operand]
		}
		mapping[inst] = dst.AddClone(inst, operands...)
	}
	for _, inst := range src.instructions {
		for _, succ := range inst.controlSuccessors {
			_ = mapping[inst].AddControlDependencyTo(mapping[succ])
		}
	}
	if src.root != nil {
		dst.root = mapping[src.root]
	}
	return dst
}
