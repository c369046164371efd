// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chunkcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/KodiakSheets/services/sheetmind/compress"
	"github.com/AleutianAI/KodiakSheets/services/sheetmind/storage/badger"
)

// chunkKeyPrefix namespaces chunk records inside the shared database so a
// future record type can coexist without a schema migration.
const chunkKeyPrefix = "chunk:"

var (
	// ErrChunkNotFound indicates no persisted chunk exists under the id.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrNilDB indicates the store was constructed without a database.
	ErrNilDB = errors.New("database must not be nil")
)

// PersistentStore is the warm tier: metadata chunks serialized to BadgerDB
// so a restart does not force a full workbook recompression.
//
// Description:
//
//	Chunks are stored as JSON values under "chunk:<id>" keys. The store
//	is a durability layer behind the in-memory Store, not a replacement
//	for it: reads during normal operation come from RAM, and this store
//	is touched on writes and at startup.
//
// Thread Safety: Safe for concurrent use (BadgerDB transactions).
type PersistentStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewPersistentStore wraps an open database as a chunk store.
func NewPersistentStore(db *badger.DB, logger *slog.Logger) (*PersistentStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PersistentStore{
		db:     db,
		logger: logger.With(slog.String("component", "chunk_persistence")),
	}, nil
}

func chunkKey(id string) []byte {
	return []byte(chunkKeyPrefix + id)
}

// SaveChunk persists one chunk, replacing any previous version.
func (p *PersistentStore) SaveChunk(ctx context.Context, chunk *compress.MetadataChunk) error {
	if chunk == nil || chunk.ID == "" {
		return errors.New("chunk must have an id")
	}

	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk %s: %w", chunk.ID, err)
	}

	return p.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(chunkKey(chunk.ID), data)
	})
}

// SaveChunks persists a batch of chunks in a single transaction.
func (p *PersistentStore) SaveChunks(ctx context.Context, chunks []*compress.MetadataChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	entries := make(map[string][]byte, len(chunks))
	for _, chunk := range chunks {
		if chunk == nil || chunk.ID == "" {
			continue
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("marshal chunk %s: %w", chunk.ID, err)
		}
		entries[chunk.ID] = data
	}

	return p.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		for id, data := range entries {
			if err := txn.Set(chunkKey(id), data); err != nil {
				return fmt.Errorf("set chunk %s: %w", id, err)
			}
		}
		return nil
	})
}

// LoadChunk reads one chunk. Returns ErrChunkNotFound if absent.
func (p *PersistentStore) LoadChunk(ctx context.Context, id string) (*compress.MetadataChunk, error) {
	var chunk *compress.MetadataChunk

	err := p.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(chunkKey(id))
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return ErrChunkNotFound
		}
		if err != nil {
			return fmt.Errorf("get chunk %s: %w", id, err)
		}

		return item.Value(func(val []byte) error {
			var decoded compress.MetadataChunk
			if err := json.Unmarshal(val, &decoded); err != nil {
				return fmt.Errorf("unmarshal chunk %s: %w", id, err)
			}
			chunk = &decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// LoadAll reads every persisted chunk.
//
// Description:
//
//	Iterates the chunk key prefix and decodes each value. A record that
//	fails to decode is logged and skipped rather than failing the whole
//	load; one corrupt record should not block startup.
func (p *PersistentStore) LoadAll(ctx context.Context) ([]*compress.MetadataChunk, error) {
	var chunks []*compress.MetadataChunk
	prefix := []byte(chunkKeyPrefix)

	err := p.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())

			err := item.Value(func(val []byte) error {
				var decoded compress.MetadataChunk
				if err := json.Unmarshal(val, &decoded); err != nil {
					p.logger.Warn("skipping undecodable chunk record",
						slog.String("key", key),
						slog.String("error", err.Error()),
					)
					return nil
				}
				chunks = append(chunks, &decoded)
				return nil
			})
			if err != nil {
				return fmt.Errorf("read value for %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// DeleteChunk removes one persisted chunk. Deleting an absent chunk is a
// no-op.
func (p *PersistentStore) DeleteChunk(ctx context.Context, id string) error {
	return p.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Delete(chunkKey(id))
	})
}

// DeleteAll removes every persisted chunk.
func (p *PersistentStore) DeleteAll(ctx context.Context) error {
	// Collect keys under a read txn first; deleting while iterating the
	// same txn invalidates the iterator.
	var keys [][]byte
	prefix := []byte(chunkKeyPrefix)

	err := p.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	return p.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
		return nil
	})
}

// Backup streams a BadgerDB backup of the full database to w.
//
// Outputs:
//
//	uint64 - The version watermark of the backup, to pass to a later
//	incremental backup.
//	error - Non-nil if the backup stream fails.
func (p *PersistentStore) Backup(ctx context.Context, w io.Writer) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}
	since, err := p.db.Backup(w, 0)
	if err != nil {
		return 0, fmt.Errorf("badger backup: %w", err)
	}
	return since, nil
}

// Restore loads a BadgerDB backup stream into the database.
func (p *PersistentStore) Restore(ctx context.Context, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if err := p.db.Load(r, 16); err != nil {
		return fmt.Errorf("badger restore: %w", err)
	}
	return nil
}
