// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

// Package metainfo maintains the artifact metadata collections on top of
// an ordered key/value store.
//
// Four collections share one keyspace, partitioned by the first encoded
// key part:
//
//	repo        # server # owner # repo           -> time added
//	commit      # server # owner # repo # commit  -> time added
//	commit_time # server # owner # repo # <time>  -> commit
//	artifact    # commit # path                   -> time added
//
// The commit_time collection appends the big-endian timestamp raw,
// without running it through the key codec: escaping would insert bytes
// and reorder adjacent timestamps, while the raw fixed width keeps a
// forward scan chronological and a reverse scan newest first.
package metainfo

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/artifactstore/artifactstore/storage"
)

var (
	// Error is the default metainfo error class.
	Error = errs.Class("metainfo error")
	// ErrNotFound is returned when a repo, commit or artifact is unknown.
	ErrNotFound = errs.Class("not found")
	// ErrArtifactExists is returned when inserting a duplicate artifact.
	ErrArtifactExists = errs.Class("artifact already exists")
)

var mon = monkit.Package()

var (
	prefixRepo       = []byte("repo")
	prefixCommit     = []byte("commit")
	prefixCommitTime = []byte("commit_time")
	prefixArtifact   = []byte("artifact")
)

// RepoData is a single repository record.
type RepoData struct {
	Server    string
	Owner     string
	Repo      string
	TimeAdded uint64
}

// CommitData is a single commit record.
type CommitData struct {
	Commit    string
	TimeAdded uint64
}

// ArtifactData is a single artifact record.
type ArtifactData struct {
	Path      string
	TimeAdded uint64
}

// Service exposes typed operations on the metadata collections.
//
// Reads go directly to the store; writes go through a storage.Txn opened
// with Update, so all records of one upload become visible atomically.
type Service struct {
	log *zap.Logger
	db  storage.KeyValueStore
}

// NewService creates a new metainfo service.
func NewService(log *zap.Logger, db storage.KeyValueStore) *Service {
	return &Service{
		log: log,
		db:  db,
	}
}

func repoKey(server, owner, repo string) storage.Key {
	return storage.EncodeKey(prefixRepo, []byte(server), []byte(owner), []byte(repo))
}

func commitKey(server, owner, repo, commit string) storage.Key {
	return storage.EncodeKey(prefixCommit, []byte(server), []byte(owner), []byte(repo), []byte(commit))
}

// commitTimeKey places the timestamp unescaped after the repo scan
// prefix; the fixed width keeps byte order equal to time order.
func commitTimeKey(server, owner, repo string, nanos uint64) storage.Key {
	prefix := storage.ScanPrefix(prefixCommitTime, []byte(server), []byte(owner), []byte(repo))
	return append(prefix, storage.EncodeTime(nanos)...)
}

func artifactKey(commit, path string) storage.Key {
	return storage.EncodeKey(prefixArtifact, []byte(commit), []byte(path))
}

// ListRepos returns all repository records in ascending
// (server, owner, repo) order.
func (service *Service) ListRepos(ctx context.Context) (repos []RepoData, err error) {
	defer mon.Task()(&ctx)(&err)

	err = service.db.Iterate(ctx, storage.IterateOptions{
		Prefix: storage.ScanPrefix(prefixRepo),
	}, func(it storage.Iterator) error {
		var item storage.ListItem
		for it.Next(&item) {
			parts := storage.DecodeKey(item.Key)
			if len(parts) != 4 {
				return Error.New("malformed repo key %q", item.Key)
			}
			timeAdded, err := storage.DecodeTime(item.Value)
			if err != nil {
				return Error.Wrap(err)
			}
			repos = append(repos, RepoData{
				Server:    string(parts[1]),
				Owner:     string(parts[2]),
				Repo:      string(parts[3]),
				TimeAdded: timeAdded,
			})
		}
		return nil
	})
	return repos, err
}

// ExistsCommit reports whether the commit is recorded for the repo.
func (service *Service) ExistsCommit(ctx context.Context, server, owner, repo, commit string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = service.db.Get(ctx, commitKey(server, owner, repo, commit))
	if storage.ErrKeyNotFound.Has(err) {
		return false, nil
	}
	if err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}

// ListCommits returns the commits of a repo, newest first.
func (service *Service) ListCommits(ctx context.Context, server, owner, repo string) (commits []CommitData, err error) {
	defer mon.Task()(&ctx)(&err)

	prefix := storage.ScanPrefix(prefixCommitTime, []byte(server), []byte(owner), []byte(repo))
	err = service.db.Iterate(ctx, storage.IterateOptions{
		Prefix:  prefix,
		Reverse: true,
	}, func(it storage.Iterator) error {
		var item storage.ListItem
		for it.Next(&item) {
			if len(item.Key) != len(prefix)+storage.TimeLen {
				return Error.New("malformed commit_time key %q", item.Key)
			}
			timeAdded, err := storage.DecodeTime(item.Key[len(prefix):])
			if err != nil {
				return Error.Wrap(err)
			}
			commits = append(commits, CommitData{
				Commit:    string(item.Value),
				TimeAdded: timeAdded,
			})
		}
		return nil
	})
	return commits, err
}

// LatestCommit returns the most recently recorded commit of a repo.
func (service *Service) LatestCommit(ctx context.Context, server, owner, repo string) (commit string, err error) {
	defer mon.Task()(&ctx)(&err)

	found := false
	err = service.db.Iterate(ctx, storage.IterateOptions{
		Prefix:  storage.ScanPrefix(prefixCommitTime, []byte(server), []byte(owner), []byte(repo)),
		Reverse: true,
	}, func(it storage.Iterator) error {
		var item storage.ListItem
		if it.Next(&item) {
			commit = string(item.Value)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNotFound.New("no commits found")
	}
	return commit, nil
}

// ExistsArtifact reports whether the artifact is recorded at the commit.
// Artifact rows are keyed by commit only, so commit existence is checked
// against the full tuple first.
func (service *Service) ExistsArtifact(ctx context.Context, server, owner, repo, commit, path string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	exists, err := service.ExistsCommit(ctx, server, owner, repo, commit)
	if err != nil || !exists {
		return false, err
	}

	_, err = service.db.Get(ctx, artifactKey(commit, path))
	if storage.ErrKeyNotFound.Has(err) {
		return false, nil
	}
	if err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}

// ListArtifacts returns the artifacts recorded at a commit in ascending
// path order.
func (service *Service) ListArtifacts(ctx context.Context, commit string) (artifacts []ArtifactData, err error) {
	defer mon.Task()(&ctx)(&err)

	err = service.db.Iterate(ctx, storage.IterateOptions{
		Prefix: storage.ScanPrefix(prefixArtifact, []byte(commit)),
	}, func(it storage.Iterator) error {
		var item storage.ListItem
		for it.Next(&item) {
			parts := storage.DecodeKey(item.Key)
			if len(parts) != 3 {
				return Error.New("malformed artifact key %q", item.Key)
			}
			timeAdded, err := storage.DecodeTime(item.Value)
			if err != nil {
				return Error.Wrap(err)
			}
			artifacts = append(artifacts, ArtifactData{
				Path:      string(parts[2]),
				TimeAdded: timeAdded,
			})
		}
		return nil
	})
	return artifacts, err
}

// Update runs fn inside a metadata write transaction.
func (service *Service) Update(ctx context.Context, fn func(storage.Txn) error) (err error) {
	defer mon.Task()(&ctx)(&err)
	return service.db.Update(ctx, fn)
}

// CreateRepoIfNotExists records the repository unless already present.
func (service *Service) CreateRepoIfNotExists(tx storage.Txn, nanos uint64, server, owner, repo string) error {
	key := repoKey(server, owner, repo)

	_, err := tx.Get(key)
	if err == nil {
		return nil
	}
	if !storage.ErrKeyNotFound.Has(err) {
		return Error.Wrap(err)
	}
	return Error.Wrap(tx.Put(key, storage.EncodeTime(nanos)))
}

// CreateCommitIfNotExists records the commit unless already present.
// The commit record and its commit_time index entry are written
// together, so re-recording a commit never duplicates the index entry
// and keeps the first writer's timestamp. When another commit already
// occupies the nanosecond, the timestamp is bumped until the index slot
// is free, so no commit ever shadows another in the index.
func (service *Service) CreateCommitIfNotExists(tx storage.Txn, nanos uint64, server, owner, repo, commit string) error {
	key := commitKey(server, owner, repo, commit)

	_, err := tx.Get(key)
	if err == nil {
		return nil
	}
	if !storage.ErrKeyNotFound.Has(err) {
		return Error.Wrap(err)
	}

	timeKey := commitTimeKey(server, owner, repo, nanos)
	for {
		_, err := tx.Get(timeKey)
		if storage.ErrKeyNotFound.Has(err) {
			break
		}
		if err != nil {
			return Error.Wrap(err)
		}
		nanos++
		timeKey = commitTimeKey(server, owner, repo, nanos)
	}

	if err := tx.Put(key, storage.EncodeTime(nanos)); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(tx.Put(timeKey, storage.Value(commit)))
}

// CreateArtifact records the artifact, failing with ErrArtifactExists
// when the (commit, path) pair is already taken.
func (service *Service) CreateArtifact(tx storage.Txn, nanos uint64, commit, path string) error {
	key := artifactKey(commit, path)

	_, err := tx.Get(key)
	if err == nil {
		return ErrArtifactExists.New("%s", path)
	}
	if !storage.ErrKeyNotFound.Has(err) {
		return Error.Wrap(err)
	}
	return Error.Wrap(tx.Put(key, storage.EncodeTime(nanos)))
}
