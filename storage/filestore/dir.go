// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

package filestore

import (
	"os"
	"path/filepath"

	"github.com/zeebo/errs"
)

const dirMode = 0700

// Ref identifies a stored artifact payload.
type Ref struct {
	Server string
	Owner  string
	Repo   string
	Commit string
	Path   string
}

// IsValid returns whether all parts of the reference are set.
func (ref Ref) IsValid() bool {
	return ref.Server != "" && ref.Owner != "" && ref.Repo != "" &&
		ref.Commit != "" && ref.Path != ""
}

// Dir represents a directory tree for storing artifact payloads.
//
// Final files live at {root}/{server}/{owner}/{repo}/{commit}/{path};
// in-progress writes go to {root}/tmp and are renamed into place on
// commit, so a final path never holds a partial file.
type Dir struct {
	path string
}

// NewDir returns a directory for storing payloads, creating it and its
// temp subdirectory when missing.
func NewDir(path string) (*Dir, error) {
	dir := &Dir{path: path}
	return dir, errs.Combine(
		os.MkdirAll(dir.path, dirMode),
		os.MkdirAll(dir.tempdir(), dirMode),
	)
}

// Path returns the directory path.
func (dir *Dir) Path() string { return dir.path }

func (dir *Dir) tempdir() string { return filepath.Join(dir.path, "tmp") }

// refPath returns the final location for ref. The artifact path may
// contain slashes, which map to nested directories.
func (dir *Dir) refPath(ref Ref) string {
	return filepath.Join(dir.path,
		ref.Server, ref.Owner, ref.Repo, ref.Commit,
		filepath.FromSlash(ref.Path))
}

// CreateTemporaryFile creates a file in the temp subdirectory.
func (dir *Dir) CreateTemporaryFile() (*os.File, error) {
	return os.CreateTemp(dir.tempdir(), "blob-*.partial")
}

// Commit moves a temporary file to the final location for ref, creating
// parent directories on demand.
func (dir *Dir) Commit(file *os.File, ref Ref) error {
	syncErr := file.Sync()
	closeErr := file.Close()
	if syncErr != nil || closeErr != nil {
		removeErr := os.Remove(file.Name())
		return errs.Combine(syncErr, closeErr, removeErr)
	}

	path := dir.refPath(ref)
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return errs.Combine(err, os.Remove(file.Name()))
	}
	return os.Rename(file.Name(), path)
}

// Open opens the final file for ref.
func (dir *Dir) Open(ref Ref) (*os.File, error) {
	return os.Open(dir.refPath(ref))
}
