// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

package storage

import (
	"bytes"
	"context"

	"github.com/zeebo/errs"
)

var (
	// ErrKeyNotFound is returned when a key is not found in the store.
	ErrKeyNotFound = errs.Class("key not found")
	// ErrEmptyKey is returned when an empty key is used.
	ErrEmptyKey = errs.Class("empty key")
)

// Key is the type for the keys in a KeyValueStore.
type Key []byte

// Value is the type for the values in a KeyValueStore.
type Value []byte

// ListItem is a single key/value pair yielded by iteration.
type ListItem struct {
	Key   Key
	Value Value
}

// IterateOptions configures prefix iteration over a KeyValueStore.
//
// Only keys that start with Prefix are yielded, in ascending key order.
// When Reverse is set, iteration starts from the last key inside the
// prefix range and walks backwards.
type IterateOptions struct {
	Prefix  Key
	Reverse bool
}

// Iterator yields items one at a time; Next returns false once exhausted.
type Iterator interface {
	Next(item *ListItem) bool
}

// IteratorFunc implements Iterator with a plain function.
type IteratorFunc func(item *ListItem) bool

// Next prepares the next list item, returning false past the final item.
func (next IteratorFunc) Next(item *ListItem) bool { return next(item) }

// Txn is a write transaction on a KeyValueStore.
//
// Reads observe earlier writes of the same transaction. Mutations become
// visible to other callers only once the Update callback returns nil.
type Txn interface {
	Get(key Key) (Value, error)
	Put(key Key, value Value) error
}

// KeyValueStore describes an ordered key/value store with write
// transactions, like boltdb.
type KeyValueStore interface {
	// Get fetches the value for a key, ErrKeyNotFound if absent.
	Get(ctx context.Context, key Key) (Value, error)
	// Put upserts a single key.
	Put(ctx context.Context, key Key, value Value) error
	// Iterate walks items matching opts, passing an Iterator to fn.
	Iterate(ctx context.Context, opts IterateOptions, fn func(Iterator) error) error
	// Update runs fn inside a write transaction. The transaction commits
	// when fn returns nil and is discarded otherwise. Update calls are
	// serialized: a key inserted by one is observed by the next.
	Update(ctx context.Context, fn func(Txn) error) error
	// Close closes the store.
	Close() error
}

// IsZero returns true if the key is its zero value.
func (k Key) IsZero() bool { return len(k) == 0 }

// IsZero returns true if the value is its zero value.
func (v Value) IsZero() bool { return len(v) == 0 }

// Less compares keys lexicographically.
func (k Key) Less(other Key) bool { return bytes.Compare(k, other) < 0 }

// Equal compares keys for equality.
func (k Key) Equal(other Key) bool { return bytes.Equal(k, other) }

// String implements the Stringer interface.
func (k Key) String() string { return string(k) }

// CloneKey creates a copy of key.
func CloneKey(key Key) Key { return append(key[:0:0], key...) }

// CloneValue creates a copy of value.
func CloneValue(value Value) Value { return append(value[:0:0], value...) }

// CloneItem creates a deep copy of item.
func CloneItem(item ListItem) ListItem {
	return ListItem{
		Key:   CloneKey(item.Key),
		Value: CloneValue(item.Value),
	}
}
