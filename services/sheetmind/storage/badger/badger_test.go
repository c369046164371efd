// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenDB_InMemory(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	// The embedded *badger.DB is usable directly.
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("chunk:Sheet:Revenue"), []byte(`{"id":"Sheet:Revenue"}`))
	})
	require.NoError(t, err)

	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("chunk:Sheet:Revenue"))
		require.NoError(t, err)
		return item.Value(func(val []byte) error {
			assert.Equal(t, []byte(`{"id":"Sheet:Revenue"}`), val)
			return nil
		})
	})
	require.NoError(t, err)
}

func TestOpenDB_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	db, err := OpenDB(cfg)
	require.NoError(t, err)

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("chunk:Sheet:Costs"), []byte("persisted"))
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := OpenDB(cfg)
	require.NoError(t, err)
	defer db2.Close()

	err = db2.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("chunk:Sheet:Costs"))
		require.NoError(t, err)
		return item.Value(func(val []byte) error {
			assert.Equal(t, []byte("persisted"), val)
			return nil
		})
	})
	require.NoError(t, err)
}

func TestOpenDB_RequiresPath(t *testing.T) {
	_, err := OpenDB(Config{InMemory: false, Path: ""})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "storage path is empty")
}

func TestConfigPresets(t *testing.T) {
	t.Run("default is durable with GC on", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.True(t, cfg.SyncWrites)
		assert.False(t, cfg.InMemory)
		assert.Equal(t, 5*time.Minute, cfg.GCInterval)
		assert.Equal(t, 0.5, cfg.GCDiscardRatio)
	})

	t.Run("in-memory is ephemeral with GC off", func(t *testing.T) {
		cfg := InMemoryConfig()
		assert.True(t, cfg.InMemory)
		assert.False(t, cfg.SyncWrites)
		assert.Equal(t, time.Duration(0), cfg.GCInterval)
	})
}

func TestDiscardRatio_ClampsOutOfRange(t *testing.T) {
	assert.Equal(t, 0.5, discardRatio(Config{GCDiscardRatio: 0}))
	assert.Equal(t, 0.5, discardRatio(Config{GCDiscardRatio: -1}))
	assert.Equal(t, 0.5, discardRatio(Config{GCDiscardRatio: 1.5}))
	assert.Equal(t, 0.7, discardRatio(Config{GCDiscardRatio: 0.7}))
}

func TestWithTxn_CommitAndRollback(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte("txn-key"), []byte("txn-value"))
	})
	require.NoError(t, err)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("txn-key"))
		require.NoError(t, err)
		return item.Value(func(val []byte) error {
			assert.Equal(t, []byte("txn-value"), val)
			return nil
		})
	})
	require.NoError(t, err)

	// An error from fn rolls the write back.
	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte("rollback-key"), []byte("x")); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.Error(t, err)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("rollback-key"))
		assert.Equal(t, badger.ErrKeyNotFound, err)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTxn_CancelledContext(t *testing.T) {
	db, err := OpenDB(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = db.WithTxn(ctx, func(txn *badger.Txn) error {
		t.Fatal("fn must not run once the context is done")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	err = db.WithReadTxn(ctx, func(txn *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose_StopsGCAndIsIdempotent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.GCInterval = 10 * time.Millisecond

	db, err := OpenDB(cfg)
	require.NoError(t, err)
	require.NotNil(t, db.stopGC, "on-disk store with an interval should run GC")

	// Let the loop tick at least once, then make sure shutdown does
	// not deadlock and a second stop is a no-op.
	time.Sleep(25 * time.Millisecond)
	require.NoError(t, db.Close())
	db.stopGC()
}

func TestOpenDB_InMemorySkipsGC(t *testing.T) {
	cfg := InMemoryConfig()
	cfg.GCInterval = time.Second

	db, err := OpenDB(cfg)
	require.NoError(t, err)
	defer db.Close()

	assert.Nil(t, db.stopGC)
}
