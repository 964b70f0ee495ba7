// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package allocation finds, for every value created in a module, the consumer that should dictate its
// memory layout.
//
// Values are created by parameters, infeeds, custom calls, constants, random number generators,
// reduce-windows and wide-constant fusions. From each of them the finder follows the users through
// the operations that keep the layout (reshape, transpose, convert, tuples, calls, while loops and
// transparent fusions) until it reaches an allocating consumer: a convolution, a dot, the operand of
// a slice-like operation or an allocating operand of a registered custom op or fusion kind.
package allocation

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/outliner/annotations"
	"github.com/gomlx/outliner/ir"
	"github.com/gomlx/outliner/ir/ops"
	"github.com/gomlx/outliner/types"
	"github.com/gomlx/outliner/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// RunAllocationFinder builds the allocation map of module, without convolution classification.
func RunAllocationFinder(module *ir.Module) (*Map, error) {
	return Run(module, nil)
}

// Run builds the allocation map of module. The classification in ann (it may be nil) is used to
// prefer forward convolutions and dots as targets.
func Run(module *ir.Module, ann *annotations.Annotations) (result *Map, err error) {
	if module == nil {
		return nil, errors.New("allocation: nil module")
	}
	if err = module.Verify(); err != nil {
		return nil, errors.WithMessage(err, "allocation: invalid module")
	}
	f := &finder{ann: ann, result: newMap()}
	err = exceptions.TryCatch[error](func() {
		for _, source := range findSources(module) {
			f.traverse(source)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "finding allocations of module %q", module.Name())
	}
	klog.V(1).Infof("allocation: module %q: %d tensors with an allocation target", module.Name(), f.result.Len())
	return f.result, nil
}

// isSkipped returns whether the region is the body of an opaque fusion: its values are not allocated
// on their own.
func isSkipped(region *ir.Region) bool {
	if !region.IsFused() {
		return false
	}
	info, _ := ir.LookupFusionKind(region.Owner().FusionKind())
	return !info.Transparent
}

// findSources returns the values created in module, in region order and then post-order.
func findSources(module *ir.Module) []TensorSource {
	var sources []TensorSource
	for _, region := range module.Regions() {
		if isSkipped(region) {
			continue
		}
		for _, inst := range region.PostOrder() {
			switch inst.OpType() {
			case ops.OpTypeParameter, ops.OpTypeInfeed, ops.OpTypeCustomCall:
				for leaf := range inst.Shape().LeafCount() {
					sources = append(sources, TensorSource{Instruction: inst, Index: leaf})
				}
			case ops.OpTypeConstant, ops.OpTypeRng, ops.OpTypeReduceWindow:
				sources = append(sources, TensorSource{Instruction: inst})
			case ops.OpTypeFusion:
				if info, found := ir.LookupFusionKind(inst.FusionKind()); found && info.WideConstant {
					sources = append(sources, TensorSource{Instruction: inst})
				}
			}
		}
	}
	return sources
}

// finder holds the state of the traversal from one source at a time.
type finder struct {
	ann    *annotations.Annotations
	result *Map

	source  TensorSource
	leaf    shapes.Shape
	visited types.Set[TensorSource]
	path    []*ir.Instruction
}

func (f *finder) traverse(source TensorSource) {
	f.source = source
	f.leaf = source.Instruction.Shape().Leaf(source.Index)
	f.visited = types.MakeSet[TensorSource]()
	f.path = f.path[:0]
	f.findConsumers(source.Instruction, source.Index)
}

// findConsumers follows the users of inst, whose leaf index holds the source value. A user taking inst
// at several operand positions is followed for each of them.
func (f *finder) findConsumers(inst *ir.Instruction, index int) {
	key := TensorSource{inst, index}
	if f.visited.Has(key) {
		return
	}
	f.visited.Insert(key)
	f.path = append(f.path, inst)
	defer func() { f.path = f.path[:len(f.path)-1] }()

	for _, user := range inst.Users() {
		for _, operandIndex := range user.OperandIndices(inst) {
			f.consume(inst, index, user, operandIndex)
		}
	}
}

// consume handles the use of inst, at operand position operandIndex of user.
func (f *finder) consume(inst *ir.Instruction, index int, user *ir.Instruction, operandIndex int) {
	switch user.OpType() {
	case ops.OpTypeConvolution, ops.OpTypeDot:
		f.addTarget(user, operandIndex)
	case ops.OpTypeDynamicSlice, ops.OpTypeGather:
		if operandIndex == 0 {
			f.addTarget(user, operandIndex)
		}
	case ops.OpTypeDynamicUpdateSlice:
		if operandIndex == 0 || operandIndex == 1 {
			f.addTarget(user, operandIndex)
		}
	case ops.OpTypeScatter:
		if operandIndex == 0 || operandIndex == 2 {
			f.addTarget(user, operandIndex)
		}

	case ops.OpTypeCall:
		f.findConsumers(user.CalledRegions()[0].Parameter(operandIndex), index)
	case ops.OpTypeWhile:
		// Called regions are the condition and the body.
		f.findConsumers(user.CalledRegions()[1].Parameter(0), index)
	case ops.OpTypeFusion:
		info, found := ir.LookupFusionKind(user.FusionKind())
		switch {
		case found && info.IsAllocating(operandIndex):
			f.addTarget(user, operandIndex)
		case found && info.Transparent:
			f.findConsumers(user.CalledRegions()[0].Parameter(operandIndex), index)
		default:
			f.continueIfSameShape(user, index)
		}
	case ops.OpTypeCustomCall:
		info, found := ir.LookupCustomOp(user.CustomCallTarget())
		switch {
		case found && info.IsAllocating(operandIndex):
			f.addTarget(user, operandIndex)
		case found && len(info.AllocatingIndices) > 0:
			// Custom ops with allocating operands lay out the others themselves.
		default:
			f.continueIfSameShape(user, index)
		}

	case ops.OpTypeTuple:
		f.findConsumers(user, shapes.InsertIntoTuple(user.Shape(), operandIndex, index))
	case ops.OpTypeGetTupleElement:
		if extracted := shapes.ExtractFromTuple(inst.Shape(), user.TupleIndex(), index); extracted >= 0 {
			f.findConsumers(user, extracted)
		}
	case ops.OpTypeReshape, ops.OpTypeTranspose, ops.OpTypeConvert:
		f.findConsumers(user, index)
	default:
		f.continueIfSameShape(user, index)
	}
}

func (f *finder) continueIfSameShape(user *ir.Instruction, index int) {
	if user.Shape().Equal(f.leaf) {
		f.findConsumers(user, index)
	}
}

// rank orders the targets: a new target only replaces a recorded one of a strictly higher rank.
func (f *finder) rank(target *ir.Instruction) int {
	switch target.OpType() {
	case ops.OpTypeDynamicSlice, ops.OpTypeDynamicUpdateSlice, ops.OpTypeScatter, ops.OpTypeGather:
		return 0
	}
	if f.ann.ClassOf(target).IsForward() {
		return 1
	}
	return 2
}

func (f *finder) addTarget(user *ir.Instruction, operandIndex int) {
	if current, found := f.result.targets[f.source]; found && f.rank(user) >= f.rank(current.Target) {
		return
	}
	target := TensorTarget{
		Target:       user,
		InputIndex:   operandIndex,
		BackwardPath: slices.Clone(f.path),
	}
	if err := f.result.Set(f.source, target); err != nil {
		panic(err)
	}
	if klog.V(2).Enabled() {
		klog.Infof("allocation: %s -> %s", f.source, target)
	}
}
