// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package asset

import (
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianSync/services/remote/checksum"
	badgerstore "github.com/AleutianAI/AleutianSync/services/remote/storage/badger"
	"github.com/dgraph-io/badger/v4"
)

// assetKeyPrefix namespaces asset keys in a shared database.
const assetKeyPrefix = "asset/"

// BadgerStore is a Store backed by BadgerDB.
//
// Description:
//
//	Each asset is stored under "asset/" followed by the raw 32 checksum
//	bytes. The value is one kind byte followed by the encoded data.
//	PutAll writes the batch in a single transaction, so a failed commit
//	leaves no partial batch behind.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db *badgerstore.DB
}

// NewBadgerStore wraps an opened database. The caller keeps ownership of db.
func NewBadgerStore(db *badgerstore.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func assetKey(c checksum.Checksum) []byte {
	key := make([]byte, 0, len(assetKeyPrefix)+checksum.Size)
	key = append(key, assetKeyPrefix...)
	return append(key, c[:]...)
}

func encodeValue(a Asset) []byte {
	v := make([]byte, 0, 1+len(a.Data))
	v = append(v, byte(a.Kind))
	return append(v, a.Data...)
}

func decodeValue(v []byte) (Asset, error) {
	if len(v) == 0 {
		return Asset{}, fmt.Errorf("%w: empty value", ErrCorruptAsset)
	}
	data := make([]byte, len(v)-1)
	copy(data, v[1:])
	return Asset{Kind: Kind(v[0]), Data: data}, nil
}

// Get implements Store.
func (s *BadgerStore) Get(ctx context.Context, c checksum.Checksum) (Asset, bool, error) {
	var (
		out   Asset
		found bool
	)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(assetKey(c))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			a, err := decodeValue(val)
			if err != nil {
				return err
			}
			out, found = a, true
			return nil
		})
	})
	if err != nil {
		return Asset{}, false, fmt.Errorf("badger get %s: %w", c.Short(), err)
	}
	return out, found, nil
}

// Missing implements Store.
func (s *BadgerStore) Missing(ctx context.Context, cs []checksum.Checksum) ([]checksum.Checksum, error) {
	var missing []checksum.Checksum
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		for _, c := range cs {
			_, err := txn.Get(assetKey(c))
			if errors.Is(err, badger.ErrKeyNotFound) {
				missing = append(missing, c)
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger missing: %w", err)
	}
	return missing, nil
}

// PutAll implements Store.
func (s *BadgerStore) PutAll(ctx context.Context, assets map[checksum.Checksum]Asset) error {
	if len(assets) == 0 {
		return nil
	}
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for c, a := range assets {
			if err := txn.Set(assetKey(c), encodeValue(a)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger put %d assets: %w", len(assets), err)
	}
	return nil
}

// Delete implements Store.
func (s *BadgerStore) Delete(ctx context.Context, cs ...checksum.Checksum) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, c := range cs {
			if err := txn.Delete(assetKey(c)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

// Len implements Store.
func (s *BadgerStore) Len(ctx context.Context) (int, error) {
	n := 0
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(assetKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger len: %w", err)
	}
	return n, nil
}
