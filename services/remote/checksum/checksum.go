// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checksum defines content checksums and checksum collections.
//
// A Checksum is the SHA-256 of an asset's kind and encoded bytes, or for
// composite records, of the record kind and its children's checksums.
// Identical content always yields an identical checksum, which makes a
// checksum usable both as a cache key and as a Merkle tree node identity.
package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

// Size is the length of a checksum in bytes.
const Size = sha256.Size

// ErrInvalidChecksum indicates text or bytes that do not form a checksum.
var ErrInvalidChecksum = errors.New("invalid checksum")

// Checksum is a SHA-256 content hash.
//
// It is a comparable value type and may be used as a map key.
type Checksum [Size]byte

// Null is the zero checksum. No real content hashes to it.
var Null Checksum

// Of returns the checksum of raw bytes.
func Of(data []byte) Checksum {
	return sha256.Sum256(data)
}

// Parse decodes a 64 character hex string.
//
// Outputs:
//
//	Checksum - The decoded checksum.
//	error - ErrInvalidChecksum (wrapped) if s is not valid hex of the right length.
func Parse(s string) (Checksum, error) {
	var c Checksum
	if len(s) != Size*2 {
		return c, fmt.Errorf("%w: want %d hex characters, got %d", ErrInvalidChecksum, Size*2, len(s))
	}
	if _, err := hex.Decode(c[:], []byte(s)); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidChecksum, err)
	}
	return c, nil
}

// MustParse is like Parse but panics on error. For tests and constants.
func MustParse(s string) Checksum {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String returns the lowercase hex form.
func (c Checksum) String() string {
	return hex.EncodeToString(c[:])
}

// Short returns the first 12 hex characters, for logs.
func (c Checksum) Short() string {
	return c.String()[:12]
}

// IsNull reports whether c is the zero checksum.
func (c Checksum) IsNull() bool {
	return c == Null
}

// Compare orders checksums bytewise.
func (c Checksum) Compare(o Checksum) int {
	return bytes.Compare(c[:], o[:])
}

// MarshalText implements encoding.TextMarshaler.
func (c Checksum) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Checksum) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// EncodeMsgpack writes the checksum as a 32 byte bin value.
func (c Checksum) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.EncodeBytes(c[:])
}

// DecodeMsgpack reads a checksum written by EncodeMsgpack.
func (c *Checksum) DecodeMsgpack(dec *msgpack.Decoder) error {
	b, err := dec.DecodeBytes()
	if err != nil {
		return err
	}
	if len(b) != Size {
		return fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidChecksum, Size, len(b))
	}
	copy(c[:], b)
	return nil
}

// Builder computes the checksum of a composite record.
//
// Every written part is length-prefixed so that distinct field sequences
// can never produce the same byte stream.
type Builder struct {
	h hash.Hash
}

// NewBuilder starts a checksum for a record of the given kind.
func NewBuilder(kind string) *Builder {
	b := &Builder{h: sha256.New()}
	return b.String(kind)
}

// String appends a length-prefixed string.
func (b *Builder) String(s string) *Builder {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	b.h.Write(n[:])
	b.h.Write([]byte(s))
	return b
}

// Bytes appends length-prefixed raw bytes.
func (b *Builder) Bytes(data []byte) *Builder {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(data)))
	b.h.Write(n[:])
	b.h.Write(data)
	return b
}

// Checksum appends a child checksum.
func (b *Builder) Checksum(c Checksum) *Builder {
	b.h.Write(c[:])
	return b
}

// Sum returns the accumulated checksum.
func (b *Builder) Sum() Checksum {
	var c Checksum
	copy(c[:], b.h.Sum(nil))
	return c
}

// Sort sorts checksums in place in bytewise order.
func Sort(cs []Checksum) {
	slices.SortFunc(cs, Checksum.Compare)
}
