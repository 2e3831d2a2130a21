// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

package boltdb

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/artifactstore/artifactstore/storage"
)

// Error is the default boltdb error class.
var Error = errs.Class("boltdb error")

var defaultTimeout = 1 * time.Second

const (
	// fileMode sets permissions so only the owner can read and write.
	fileMode = 0600
	dirMode  = 0700
)

var bucketName = []byte("metadata")

var _ storage.KeyValueStore = (*Client)(nil)

// Client implements storage.KeyValueStore on a Bolt database.
//
// All records live in a single bucket; bolt keeps keys in byte order and
// serializes write transactions, so a conditional insert inside Update
// is authoritative.
type Client struct {
	log  *zap.Logger
	db   *bolt.DB
	Path string
}

// New instantiates a new bolt-backed client at path, creating the parent
// directory and the bucket when missing.
func New(log *zap.Logger, path string) (*Client, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, Error.Wrap(err)
	}

	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}

	return &Client{
		log:  log,
		db:   db,
		Path: path,
	}, nil
}

// Get fetches the value for a key.
func (client *Client) Get(ctx context.Context, key storage.Key) (_ storage.Value, err error) {
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}

	var value storage.Value
	err = client.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketName).Get(key)
		if data == nil {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		value = storage.CloneValue(data)
		return nil
	})
	return value, err
}

// Put upserts a single key.
func (client *Client) Put(ctx context.Context, key storage.Key, value storage.Value) (err error) {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	return Error.Wrap(client.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put(key, value)
	}))
}

// Iterate walks items matching opts inside a read transaction.
func (client *Client) Iterate(ctx context.Context, opts storage.IterateOptions, fn func(storage.Iterator) error) (err error) {
	return client.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketName).Cursor()

		var key, value []byte
		started := false

		advance := func() {
			if !started {
				started = true
				if opts.Reverse {
					key, value = seekLast(cursor, opts.Prefix)
				} else {
					key, value = cursor.Seek(opts.Prefix)
				}
				return
			}
			if opts.Reverse {
				key, value = cursor.Prev()
			} else {
				key, value = cursor.Next()
			}
		}

		return fn(storage.IteratorFunc(func(item *storage.ListItem) bool {
			advance()
			if key == nil || !bytes.HasPrefix(key, opts.Prefix) {
				return false
			}
			item.Key = append(item.Key[:0], key...)
			item.Value = append(item.Value[:0], value...)
			return true
		}))
	})
}

// seekLast positions the cursor on the last key inside the prefix range.
//
// Seeking to the successor of the prefix lands on the first key past the
// range, or nowhere when the range is the tail of the bucket; the item
// before that is the last candidate.
func seekLast(cursor *bolt.Cursor, prefix storage.Key) (key, value []byte) {
	after := storage.AfterPrefix(prefix)
	if after == nil {
		return cursor.Last()
	}
	key, value = cursor.Seek(after)
	if key == nil {
		return cursor.Last()
	}
	return cursor.Prev()
}

// Update runs fn inside a bolt write transaction.
func (client *Client) Update(ctx context.Context, fn func(storage.Txn) error) (err error) {
	return client.db.Update(func(tx *bolt.Tx) error {
		return fn(&txn{bucket: tx.Bucket(bucketName)})
	})
}

// txn adapts a bolt bucket to storage.Txn.
type txn struct {
	bucket *bolt.Bucket
}

// Get fetches the value for a key within the transaction.
func (tx *txn) Get(key storage.Key) (storage.Value, error) {
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}
	data := tx.bucket.Get(key)
	if data == nil {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	return storage.CloneValue(data), nil
}

// Put upserts a single key within the transaction.
func (tx *txn) Put(key storage.Key, value storage.Value) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	return Error.Wrap(tx.bucket.Put(key, value))
}

// Close closes the bolt database.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
