// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

package teststore

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/artifactstore/artifactstore/storage"
)

var _ storage.KeyValueStore = (*Client)(nil)

// Client implements an in-memory key value store, for tests.
type Client struct {
	mu sync.Mutex

	Items     []storage.ListItem
	CallCount struct {
		Get     int
		Put     int
		Iterate int
		Update  int
		Close   int
	}
}

// New creates a new in-memory key-value store.
func New() *Client { return &Client{} }

// indexOf finds the index of key or where it could be inserted.
func (store *Client) indexOf(key storage.Key) (int, bool) {
	i := sort.Search(len(store.Items), func(k int) bool {
		return !store.Items[k].Key.Less(key)
	})

	if i >= len(store.Items) {
		return i, false
	}
	return i, store.Items[i].Key.Equal(key)
}

func (store *Client) getLocked(key storage.Key) (storage.Value, error) {
	keyIndex, found := store.indexOf(key)
	if !found {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	return storage.CloneValue(store.Items[keyIndex].Value), nil
}

func (store *Client) putLocked(key storage.Key, value storage.Value) {
	keyIndex, found := store.indexOf(key)
	if found {
		store.Items[keyIndex].Value = storage.CloneValue(value)
		return
	}

	store.Items = append(store.Items, storage.ListItem{})
	copy(store.Items[keyIndex+1:], store.Items[keyIndex:])
	store.Items[keyIndex] = storage.ListItem{
		Key:   storage.CloneKey(key),
		Value: storage.CloneValue(value),
	}
}

// Get gets a value from the store.
func (store *Client) Get(ctx context.Context, key storage.Key) (storage.Value, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Get++

	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}
	return store.getLocked(key)
}

// Put adds a value to the store.
func (store *Client) Put(ctx context.Context, key storage.Key, value storage.Value) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Put++

	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	store.putLocked(key, value)
	return nil
}

// Iterate iterates over a snapshot of items matching opts.
func (store *Client) Iterate(ctx context.Context, opts storage.IterateOptions, fn func(storage.Iterator) error) error {
	store.mu.Lock()
	store.CallCount.Iterate++

	var snapshot []storage.ListItem
	for _, item := range store.Items {
		if bytes.HasPrefix(item.Key, opts.Prefix) {
			snapshot = append(snapshot, storage.CloneItem(item))
		}
	}
	store.mu.Unlock()

	next := 0
	if opts.Reverse {
		next = len(snapshot) - 1
	}

	return fn(storage.IteratorFunc(func(item *storage.ListItem) bool {
		if next < 0 || next >= len(snapshot) {
			return false
		}
		item.Key = append(item.Key[:0], snapshot[next].Key...)
		item.Value = append(item.Value[:0], snapshot[next].Value...)
		if opts.Reverse {
			next--
		} else {
			next++
		}
		return true
	}))
}

// Update runs fn inside a write transaction; Update calls are serialized
// and mutations are discarded when fn fails.
func (store *Client) Update(ctx context.Context, fn func(storage.Txn) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Update++

	tx := &txn{store: store}
	if err := fn(tx); err != nil {
		return err
	}
	for _, item := range tx.pending {
		store.putLocked(item.Key, item.Value)
	}
	return nil
}

// txn stages writes until the Update callback succeeds.
type txn struct {
	store   *Client
	pending []storage.ListItem
}

// Get returns a staged value when present, the stored one otherwise.
func (tx *txn) Get(key storage.Key) (storage.Value, error) {
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}
	for i := len(tx.pending) - 1; i >= 0; i-- {
		if tx.pending[i].Key.Equal(key) {
			return storage.CloneValue(tx.pending[i].Value), nil
		}
	}
	return tx.store.getLocked(key)
}

// Put stages a write.
func (tx *txn) Put(key storage.Key, value storage.Value) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	tx.pending = append(tx.pending, storage.ListItem{
		Key:   storage.CloneKey(key),
		Value: storage.CloneValue(value),
	})
	return nil
}

// Close closes the store.
func (store *Client) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Close++
	return nil
}
