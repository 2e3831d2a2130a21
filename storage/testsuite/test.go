// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

// Package testsuite contains conformance tests that every
// storage.KeyValueStore implementation must pass.
package testsuite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"

	"github.com/artifactstore/artifactstore/storage"
)

// RunTests runs the common storage.KeyValueStore tests.
func RunTests(t *testing.T, store storage.KeyValueStore) {
	t.Run("GetPut", func(t *testing.T) { testGetPut(t, store) })
	t.Run("IterateForward", func(t *testing.T) { testIterateForward(t, store) })
	t.Run("IterateReverse", func(t *testing.T) { testIterateReverse(t, store) })
	t.Run("PrefixBoundary", func(t *testing.T) { testPrefixBoundary(t, store) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, store) })
}

func collect(t *testing.T, store storage.KeyValueStore, opts storage.IterateOptions) []storage.ListItem {
	t.Helper()

	var items []storage.ListItem
	err := store.Iterate(context.Background(), opts, func(it storage.Iterator) error {
		var item storage.ListItem
		for it.Next(&item) {
			items = append(items, storage.CloneItem(item))
		}
		return nil
	})
	require.NoError(t, err)
	return items
}

func testGetPut(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()

	_, err := store.Get(ctx, storage.Key("getput/missing"))
	require.True(t, storage.ErrKeyNotFound.Has(err))

	_, err = store.Get(ctx, nil)
	require.True(t, storage.ErrEmptyKey.Has(err))

	require.NoError(t, store.Put(ctx, storage.Key("getput/a"), storage.Value("alpha")))
	require.NoError(t, store.Put(ctx, storage.Key("getput/b"), storage.Value("beta")))

	value, err := store.Get(ctx, storage.Key("getput/a"))
	require.NoError(t, err)
	require.Equal(t, storage.Value("alpha"), value)

	// overwrite
	require.NoError(t, store.Put(ctx, storage.Key("getput/a"), storage.Value("gamma")))
	value, err = store.Get(ctx, storage.Key("getput/a"))
	require.NoError(t, err)
	require.Equal(t, storage.Value("gamma"), value)
}

func testIterateForward(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()

	keys := []string{"fwd/c", "fwd/a", "fwd/b"}
	for _, key := range keys {
		require.NoError(t, store.Put(ctx, storage.Key(key), storage.Value(key)))
	}
	require.NoError(t, store.Put(ctx, storage.Key("other/x"), storage.Value("x")))

	items := collect(t, store, storage.IterateOptions{Prefix: storage.Key("fwd/")})
	require.Len(t, items, 3)
	require.Equal(t, storage.Key("fwd/a"), items[0].Key)
	require.Equal(t, storage.Key("fwd/b"), items[1].Key)
	require.Equal(t, storage.Key("fwd/c"), items[2].Key)
	require.Equal(t, storage.Value("fwd/b"), items[1].Value)
}

func testIterateReverse(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()

	for _, key := range []string{"rev/a", "rev/b", "rev/c"} {
		require.NoError(t, store.Put(ctx, storage.Key(key), storage.Value(key)))
	}
	require.NoError(t, store.Put(ctx, storage.Key("rew"), storage.Value("after")))

	items := collect(t, store, storage.IterateOptions{Prefix: storage.Key("rev/"), Reverse: true})
	require.Len(t, items, 3)
	require.Equal(t, storage.Key("rev/c"), items[0].Key)
	require.Equal(t, storage.Key("rev/b"), items[1].Key)
	require.Equal(t, storage.Key("rev/a"), items[2].Key)

	// reverse scan over an empty range yields nothing
	items = collect(t, store, storage.IterateOptions{Prefix: storage.Key("revnone/"), Reverse: true})
	require.Empty(t, items)
}

func testPrefixBoundary(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()

	// keys that share bytes with the prefix but fall outside the range
	require.NoError(t, store.Put(ctx, storage.Key("bound"), storage.Value("short")))
	require.NoError(t, store.Put(ctx, storage.Key("bound/inside"), storage.Value("in")))
	require.NoError(t, store.Put(ctx, storage.Key("bound0"), storage.Value("sibling")))

	items := collect(t, store, storage.IterateOptions{Prefix: storage.Key("bound/")})
	require.Len(t, items, 1)
	require.Equal(t, storage.Key("bound/inside"), items[0].Key)

	items = collect(t, store, storage.IterateOptions{Prefix: storage.Key("bound/"), Reverse: true})
	require.Len(t, items, 1)
	require.Equal(t, storage.Key("bound/inside"), items[0].Key)
}

func testUpdate(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()

	// committed transaction
	err := store.Update(ctx, func(tx storage.Txn) error {
		if err := tx.Put(storage.Key("txn/a"), storage.Value("one")); err != nil {
			return err
		}
		// reads observe earlier writes of the same transaction
		value, err := tx.Get(storage.Key("txn/a"))
		if err != nil {
			return err
		}
		require.Equal(t, storage.Value("one"), value)
		return tx.Put(storage.Key("txn/b"), storage.Value("two"))
	})
	require.NoError(t, err)

	value, err := store.Get(ctx, storage.Key("txn/b"))
	require.NoError(t, err)
	require.Equal(t, storage.Value("two"), value)

	// failed transaction leaves no trace
	boom := errs.New("boom")
	err = store.Update(ctx, func(tx storage.Txn) error {
		if err := tx.Put(storage.Key("txn/dropped"), storage.Value("nope")); err != nil {
			return err
		}
		return boom
	})
	require.Error(t, err)

	_, err = store.Get(ctx, storage.Key("txn/dropped"))
	require.True(t, storage.ErrKeyNotFound.Has(err))

	// a later transaction observes keys inserted by an earlier one
	err = store.Update(ctx, func(tx storage.Txn) error {
		_, err := tx.Get(storage.Key("txn/a"))
		return err
	})
	require.NoError(t, err)
}
