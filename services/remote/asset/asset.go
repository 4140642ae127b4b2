// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package asset defines the content-addressed assets a worker fetches from
// the primary, the local stores that cache them, and the Provider that
// synchronizes between the two.
//
// Every asset is identified by a checksum.Checksum. Leaf assets (attributes,
// options, references, source text) hash their encoded bytes; state records
// (solution, project and document state checksums) hash their children and
// are verified by the state package when loaded.
package asset

import (
	"bytes"
	"fmt"

	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind identifies what an asset's bytes decode to.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSolutionState
	KindSolutionAttributes
	KindProjectState
	KindProjectAttributes
	KindCompilationOptions
	KindParseOptions
	KindProjectReference
	KindMetadataReference
	KindAnalyzerReference
	KindDocumentState
	KindDocumentAttributes
	KindSourceText
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindSolutionState:      "solution_state",
	KindSolutionAttributes: "solution_attributes",
	KindProjectState:       "project_state",
	KindProjectAttributes:  "project_attributes",
	KindCompilationOptions: "compilation_options",
	KindParseOptions:       "parse_options",
	KindProjectReference:   "project_reference",
	KindMetadataReference:  "metadata_reference",
	KindAnalyzerReference:  "analyzer_reference",
	KindDocumentState:      "document_state",
	KindDocumentAttributes: "document_attributes",
	KindSourceText:         "source_text",
}

// String returns the snake_case kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is a known, non-zero kind.
func (k Kind) Valid() bool {
	return k > KindUnknown && k <= KindSourceText
}

// IsState reports whether k is a state record whose checksum is computed
// from its children rather than from its bytes.
func (k Kind) IsState() bool {
	switch k {
	case KindSolutionState, KindProjectState, KindDocumentState:
		return true
	}
	return false
}

// Asset is a raw, encoded asset.
type Asset struct {
	Kind Kind
	Data []byte
}

// Equal reports whether a and o have the same kind and bytes.
func (a Asset) Equal(o Asset) bool {
	return a.Kind == o.Kind && bytes.Equal(a.Data, o.Data)
}

// LeafChecksum returns the checksum of a leaf asset's kind and bytes.
func LeafChecksum(kind Kind, data []byte) checksum.Checksum {
	return checksum.NewBuilder("asset").String(kind.String()).Bytes(data).Sum()
}

// Encode serializes v with msgpack.
//
// Map keys are sorted so that equal values always produce equal bytes,
// and therefore equal leaf checksums.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode asset: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes msgpack data into v.
func Decode(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode asset: %w", err)
	}
	return nil
}

// NewLeaf encodes v as a leaf asset of the given kind and returns its checksum.
func NewLeaf(kind Kind, v any) (checksum.Checksum, Asset, error) {
	data, err := Encode(v)
	if err != nil {
		return checksum.Null, Asset{}, err
	}
	return LeafChecksum(kind, data), Asset{Kind: kind, Data: data}, nil
}
