// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianSync/services/remote/asset"
	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
)

type record[T any] interface {
	*T
	Checksum() checksum.Checksum
}

// load fetches and decodes a record, then verifies it hashes to c.
func load[T any, P record[T]](ctx context.Context, p asset.Provider, c checksum.Checksum, kind asset.Kind) (*T, error) {
	v, err := asset.Get[T](ctx, p, c, kind)
	if err != nil {
		return nil, err
	}
	if got := P(&v).Checksum(); got != c {
		return nil, fmt.Errorf("%w: %s %s recomputes to %s", ErrChecksumMismatch, kind, c.Short(), got.Short())
	}
	return &v, nil
}

func init() {
	asset.RegisterRecordVerifier(VerifyRecord)
}

// VerifyRecord decodes an encoded state record of the given kind and
// checks that it recomputes to c. It is an asset.RecordVerifier.
func VerifyRecord(kind asset.Kind, c checksum.Checksum, data []byte) error {
	var (
		got checksum.Checksum
		err error
	)
	switch kind {
	case asset.KindSolutionState:
		got, err = recompute[SolutionStateChecksums](data)
	case asset.KindProjectState:
		got, err = recompute[ProjectStateChecksums](data)
	case asset.KindDocumentState:
		got, err = recompute[DocumentStateChecksums](data)
	default:
		return fmt.Errorf("%w: %s is not a state record", asset.ErrKindMismatch, kind)
	}
	if err != nil {
		return err
	}
	if got != c {
		return fmt.Errorf("%w: %s %s recomputes to %s", ErrChecksumMismatch, kind, c.Short(), got.Short())
	}
	return nil
}

func recompute[T any, P record[T]](data []byte) (checksum.Checksum, error) {
	var v T
	if err := asset.Decode(data, &v); err != nil {
		return checksum.Null, err
	}
	return P(&v).Checksum(), nil
}

// LoadSolution loads and verifies a solution record.
func LoadSolution(ctx context.Context, p asset.Provider, c checksum.Checksum) (*SolutionStateChecksums, error) {
	return load[SolutionStateChecksums](ctx, p, c, asset.KindSolutionState)
}

// LoadProject loads and verifies a project record.
func LoadProject(ctx context.Context, p asset.Provider, c checksum.Checksum) (*ProjectStateChecksums, error) {
	return load[ProjectStateChecksums](ctx, p, c, asset.KindProjectState)
}

// LoadDocument loads and verifies a document record.
func LoadDocument(ctx context.Context, p asset.Provider, c checksum.Checksum) (*DocumentStateChecksums, error) {
	return load[DocumentStateChecksums](ctx, p, c, asset.KindDocumentState)
}
