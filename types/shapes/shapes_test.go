/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package shapes

import (
	"testing"

	. "github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())
	require.False(t, invalidShape.IsTuple())

	shape0 := Make(Float64)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.False(t, shape0.IsTuple())
	require.Equal(t, 0, shape0.Rank())
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 8, int(shape0.Memory()))

	shape1 := Make(Float32, 4, 3, 2)
	require.True(t, shape1.Ok())
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	require.Panics(t, func() { _ = Make(Float32, 0) })
}

func TestDim(t *testing.T) {
	shape := Make(Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 2, shape.Dim(-1))
	require.Equal(t, 4, shape.Dim(-3))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestTuple(t *testing.T) {
	empty := MakeTuple(nil)
	require.True(t, empty.Ok())
	require.True(t, empty.IsTuple())
	require.Equal(t, 0, empty.LeafCount())

	f := Make(Float16, 2)
	i := Make(Int32, 3)
	tuple := MakeTuple([]Shape{f, MakeTuple([]Shape{i, f}), i})
	require.Equal(t, "Tuple<(Float16)[2], Tuple<(Int32)[3], (Float16)[2]>, (Int32)[3]>", tuple.String())
	require.Equal(t, 4, tuple.LeafCount())
	require.Len(t, tuple.Flatten(), 4)
	require.True(t, tuple.Leaf(2).Equal(f))
	require.True(t, tuple.Equal(tuple.Clone()))
	require.False(t, tuple.Equal(f))
	require.False(t, f.Equal(tuple))
	require.Equal(t, 2*2+(3*4+2*2)+3*4, int(tuple.Memory()))

	require.Equal(t, 0, tuple.LeafOffset(0))
	require.Equal(t, 1, tuple.LeafOffset(1))
	require.Equal(t, 3, tuple.LeafOffset(2))
	require.Panics(t, func() { _ = tuple.LeafOffset(3) })
	require.Panics(t, func() { _ = f.LeafOffset(0) })

	require.Equal(t, 2, InsertIntoTuple(tuple, 1, 1))
	require.Equal(t, 1, ExtractFromTuple(tuple, 1, 2))
	require.Equal(t, -1, ExtractFromTuple(tuple, 1, 3))
	require.Equal(t, 0, ExtractFromTuple(tuple, 2, 3))
}

func TestBroadcastCompatible(t *testing.T) {
	require.True(t, BroadcastCompatible(Make(Float32, 2, 3), Make(Float32, 2, 3)))
	require.True(t, BroadcastCompatible(Make(Float32, 2, 3), Make(Float32, 3)))
	require.True(t, BroadcastCompatible(Make(Float32, 2, 1), Make(Float32, 4, 1, 5)))
	require.True(t, BroadcastCompatible(Make(Float32), Make(Float32, 7)))
	require.False(t, BroadcastCompatible(Make(Float32, 2, 3), Make(Float32, 3, 2)))
	require.False(t, BroadcastCompatible(MakeTuple(nil), Make(Float32)))
}
