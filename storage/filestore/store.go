// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

// Package filestore stores artifact payloads in a directory tree
// mirroring the server/owner/repo/commit/path hierarchy.
package filestore

import (
	"context"
	"os"

	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"
)

// Error is the default filestore error class.
var Error = errs.Class("filestore error")

var mon = monkit.Package()

// Store implements a disk blob store.
type Store struct {
	dir *Dir
}

// New creates a new disk blob store in the specified directory.
func New(dir *Dir) *Store {
	return &Store{dir}
}

// NewAt creates a new disk blob store at path.
func NewAt(path string) (*Store, error) {
	dir, err := NewDir(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{dir}, nil
}

// Open opens the payload stored for ref.
func (store *Store) Open(ctx context.Context, ref Ref) (_ *os.File, err error) {
	defer mon.Task()(&ctx)(&err)

	file, err := store.dir.Open(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, Error.Wrap(err)
	}
	return file, nil
}

// Create starts writing a new payload for ref. The payload lands at its
// final location only once the writer is committed.
func (store *Store) Create(ctx context.Context, ref Ref) (_ *Writer, err error) {
	defer mon.Task()(&ctx)(&err)

	if !ref.IsValid() {
		return nil, Error.New("invalid ref %+v", ref)
	}

	file, err := store.dir.CreateTemporaryFile()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Writer{ref: ref, store: store, File: file}, nil
}

// Writer writes a payload to a temporary file until committed.
type Writer struct {
	ref       Ref
	store     *Store
	committed bool

	*os.File
}

// Commit moves the file to the target location.
func (blob *Writer) Commit() error {
	if blob.committed {
		return Error.New("already committed")
	}
	blob.committed = true
	return Error.Wrap(blob.store.dir.Commit(blob.File, blob.ref))
}

// Cancel discards the blob. Calling Cancel after a successful Commit is
// a no-op, so it is safe to defer alongside Commit.
func (blob *Writer) Cancel() error {
	if blob.committed {
		return nil
	}
	blob.committed = true
	err := blob.File.Close()
	removeErr := os.Remove(blob.File.Name())
	return Error.Wrap(errs.Combine(err, removeErr))
}
