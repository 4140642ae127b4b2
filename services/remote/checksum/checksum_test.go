// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checksum

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestOf_IdenticalContentIdenticalChecksum(t *testing.T) {
	a := Of([]byte("package main"))
	b := Of([]byte("package main"))
	c := Of([]byte("package main\n"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsNull())
	assert.True(t, Null.IsNull())
}

func TestParse(t *testing.T) {
	want := Of([]byte("hello"))

	t.Run("round trip", func(t *testing.T) {
		got, err := Parse(want.String())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := Parse("abcd")
		assert.ErrorIs(t, err, ErrInvalidChecksum)
	})

	t.Run("not hex", func(t *testing.T) {
		bad := "zz" + want.String()[2:]
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidChecksum)
	})
}

func TestChecksum_JSONUsesHex(t *testing.T) {
	c := Of([]byte("x"))
	data, err := json.Marshal(map[string]Checksum{"c": c})
	require.NoError(t, err)
	assert.Contains(t, string(data), c.String())

	var out map[string]Checksum
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, c, out["c"])
}

func TestBuilder_LengthPrefixSeparatesFields(t *testing.T) {
	a := NewBuilder("k").String("ab").String("c").Sum()
	b := NewBuilder("k").String("a").String("bc").Sum()
	assert.NotEqual(t, a, b)

	c := NewBuilder("k1").Sum()
	d := NewBuilder("k2").Sum()
	assert.NotEqual(t, c, d)
}

func TestCollection_OrderIndependentIdentity(t *testing.T) {
	x, y, z := Of([]byte("x")), Of([]byte("y")), Of([]byte("z"))

	first := NewCollection(x, y, z)
	second := NewCollection(z, x, y)

	assert.True(t, first.Equal(second))
	assert.Equal(t, first.Checksum(), second.Checksum())
	assert.Equal(t, []Checksum{x, y, z}, first.Items(), "iteration keeps insertion order")
	assert.Equal(t, []Checksum{z, x, y}, second.Items())
}

func TestCollection_MultisetEquality(t *testing.T) {
	x, y := Of([]byte("x")), Of([]byte("y"))

	assert.False(t, NewCollection(x, x, y).Equal(NewCollection(x, y, y)))
	assert.False(t, NewCollection(x).Equal(NewCollection(x, x)))
	assert.True(t, NewCollection().Equal(Collection{}))
	assert.Equal(t, NewCollection().Checksum(), Collection{}.Checksum())
}

func TestCollection_Msgpack(t *testing.T) {
	x, y := Of([]byte("x")), Of([]byte("y"))
	in := NewCollection(y, x)

	data, err := msgpack.Marshal(in)
	require.NoError(t, err)

	var out Collection
	require.NoError(t, msgpack.Unmarshal(data, &out))
	assert.Equal(t, in.Items(), out.Items())
	assert.Equal(t, in.Checksum(), out.Checksum())
}

func TestSet(t *testing.T) {
	x, y := Of([]byte("x")), Of([]byte("y"))
	s := NewSet(x, y, x, Null)

	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(x))
	assert.False(t, s.Has(Null))

	sorted := s.Sorted()
	require.Len(t, sorted, 2)
	assert.Negative(t, sorted[0].Compare(sorted[1]))

	NewCollection(Of([]byte("z"))).AddAllTo(s)
	assert.Equal(t, 3, s.Len())
}
