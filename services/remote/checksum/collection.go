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
	"fmt"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

// Collection is an ordered list of child checksums.
//
// Description:
//
//	Iteration preserves insertion order. Identity does not: the collection's
//	own checksum is computed over the sorted children, and Equal is multiset
//	equality. Two collections holding the same children in different orders
//	therefore compare equal and hash the same.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Collection struct {
	items []Checksum
	sum   Checksum
}

// NewCollection builds a collection from items. The slice is copied.
func NewCollection(items ...Checksum) Collection {
	c := Collection{items: slices.Clone(items)}
	c.sum = c.compute()
	return c
}

func (c Collection) compute() Checksum {
	sorted := slices.Clone(c.items)
	Sort(sorted)
	b := NewBuilder("collection")
	for _, item := range sorted {
		b.Checksum(item)
	}
	return b.Sum()
}

// Checksum returns the order-independent checksum of the collection.
func (c Collection) Checksum() Checksum {
	if c.sum.IsNull() {
		// Zero value collection.
		return NewCollection().sum
	}
	return c.sum
}

// Len returns the number of children.
func (c Collection) Len() int {
	return len(c.items)
}

// At returns the i-th child in insertion order.
func (c Collection) At(i int) Checksum {
	return c.items[i]
}

// Items returns a copy of the children in insertion order.
func (c Collection) Items() []Checksum {
	return slices.Clone(c.items)
}

// Contains reports whether x is a child.
func (c Collection) Contains(x Checksum) bool {
	return slices.Contains(c.items, x)
}

// Equal reports multiset equality with o.
func (c Collection) Equal(o Collection) bool {
	if len(c.items) != len(o.items) {
		return false
	}
	return c.Checksum() == o.Checksum()
}

// AddAllTo adds every child to s.
func (c Collection) AddAllTo(s Set) {
	for _, item := range c.items {
		s.Add(item)
	}
}

// String implements fmt.Stringer.
func (c Collection) String() string {
	return fmt.Sprintf("Collection(%d, %s)", len(c.items), c.Checksum().Short())
}

// EncodeMsgpack writes the children as an array in insertion order.
func (c Collection) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(len(c.items)); err != nil {
		return err
	}
	for _, item := range c.items {
		if err := item.EncodeMsgpack(enc); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack reads a collection written by EncodeMsgpack.
func (c *Collection) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	items := make([]Checksum, 0, max(n, 0))
	for range n {
		var item Checksum
		if err := item.DecodeMsgpack(dec); err != nil {
			return err
		}
		items = append(items, item)
	}
	*c = NewCollection(items...)
	return nil
}

// Set is an unordered set of checksums.
type Set map[Checksum]struct{}

// NewSet returns a set holding cs.
func NewSet(cs ...Checksum) Set {
	s := make(Set, len(cs))
	for _, c := range cs {
		s.Add(c)
	}
	return s
}

// Add inserts c. The null checksum is ignored.
func (s Set) Add(c Checksum) {
	if c.IsNull() {
		return
	}
	s[c] = struct{}{}
}

// Has reports whether c is in the set.
func (s Set) Has(c Checksum) bool {
	_, ok := s[c]
	return ok
}

// Len returns the set size.
func (s Set) Len() int {
	return len(s)
}

// Sorted returns the members in bytewise order.
func (s Set) Sorted() []Checksum {
	out := make([]Checksum, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	Sort(out)
	return out
}
