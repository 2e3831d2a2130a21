// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

// Package artifacts coordinates the metadata collections and the blob
// store into upload, download and listing pipelines.
package artifacts

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/artifactstore/artifactstore/metainfo"
	"github.com/artifactstore/artifactstore/storage"
	"github.com/artifactstore/artifactstore/storage/filestore"
)

// LatestAlias is the reserved commit alias resolving to the most
// recently recorded commit of a repository.
const LatestAlias = "@latest"

// Error is the default artifacts error class.
var Error = errs.Class("artifacts error")

var mon = monkit.Package()

// Params identifies a single artifact by its full five-tuple.
type Params struct {
	Server string
	Owner  string
	Repo   string
	Commit string
	Path   string
}

func (params Params) ref() filestore.Ref {
	return filestore.Ref{
		Server: params.Server,
		Owner:  params.Owner,
		Repo:   params.Repo,
		Commit: params.Commit,
		Path:   params.Path,
	}
}

// Service implements the artifact store pipelines.
type Service struct {
	log   *zap.Logger
	meta  *metainfo.Service
	blobs *filestore.Store
}

// NewService creates a new artifacts service.
func NewService(log *zap.Logger, meta *metainfo.Service, blobs *filestore.Store) *Service {
	return &Service{
		log:   log,
		meta:  meta,
		blobs: blobs,
	}
}

// Upload registers the repo, commit and artifact records and persists
// the payload read from body.
//
// The timestamp is read once, before any filesystem work, and shared by
// all records of the upload. The payload streams to a temporary file
// and is renamed into place inside the metadata transaction, so a
// duplicate artifact or a mid-body failure never leaves a partial file
// at the final path.
func (service *Service) Upload(ctx context.Context, params Params, body io.Reader) (err error) {
	defer mon.Task()(&ctx)(&err)

	nanos := uint64(time.Now().UnixNano())

	// refuse known duplicates before touching the filesystem; the
	// authoritative check happens again inside the transaction
	exists, err := service.meta.ExistsArtifact(ctx, params.Server, params.Owner, params.Repo, params.Commit, params.Path)
	if err != nil {
		return err
	}
	if exists {
		return metainfo.ErrArtifactExists.New("%s", params.Path)
	}

	writer, err := service.blobs.Create(ctx, params.ref())
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		// a no-op when the writer was committed
		err = errs.Combine(err, writer.Cancel())
	}()

	if _, err := io.Copy(writer, body); err != nil {
		return Error.Wrap(err)
	}

	return service.meta.Update(ctx, func(tx storage.Txn) error {
		if err := service.meta.CreateRepoIfNotExists(tx, nanos, params.Server, params.Owner, params.Repo); err != nil {
			return err
		}
		if err := service.meta.CreateCommitIfNotExists(tx, nanos, params.Server, params.Owner, params.Repo, params.Commit); err != nil {
			return err
		}
		if err := service.meta.CreateArtifact(tx, nanos, params.Commit, params.Path); err != nil {
			return err
		}
		return writer.Commit()
	})
}

// Download resolves the commit, verifies the artifact record and opens
// the payload. It returns the artifact path and a stream over the file;
// closing the stream is up to the caller.
func (service *Service) Download(ctx context.Context, params Params) (_ string, _ io.ReadCloser, err error) {
	defer mon.Task()(&ctx)(&err)

	commit, err := service.resolveCommit(ctx, params)
	if err != nil {
		return "", nil, err
	}

	exists, err := service.meta.ExistsArtifact(ctx, params.Server, params.Owner, params.Repo, commit, params.Path)
	if err != nil {
		return "", nil, err
	}
	if !exists {
		return "", nil, metainfo.ErrNotFound.New("file %s not found", params.Path)
	}

	resolved := params
	resolved.Commit = commit
	file, err := service.blobs.Open(ctx, resolved.ref())
	if err != nil {
		// the filesystem is the ground truth for openability
		if os.IsNotExist(err) {
			return "", nil, metainfo.ErrNotFound.New("file %s not found", params.Path)
		}
		return "", nil, Error.Wrap(err)
	}
	return params.Path, file, nil
}

// ListRepos returns all known repositories.
func (service *Service) ListRepos(ctx context.Context) (_ []metainfo.RepoData, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.meta.ListRepos(ctx)
}

// ListCommits returns the commits of a repository, newest first.
func (service *Service) ListCommits(ctx context.Context, server, owner, repo string) (_ []metainfo.CommitData, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.meta.ListCommits(ctx, server, owner, repo)
}

// ListArtifacts resolves the commit the same way Download does and
// returns the resolved commit along with its artifacts.
func (service *Service) ListArtifacts(ctx context.Context, params Params) (commit string, _ []metainfo.ArtifactData, err error) {
	defer mon.Task()(&ctx)(&err)

	commit, err = service.resolveCommit(ctx, params)
	if err != nil {
		return "", nil, err
	}

	artifacts, err := service.meta.ListArtifacts(ctx, commit)
	if err != nil {
		return "", nil, err
	}
	return commit, artifacts, nil
}

// resolveCommit maps the @latest alias to a concrete commit and
// verifies that a concrete commit is recorded for the repository.
func (service *Service) resolveCommit(ctx context.Context, params Params) (string, error) {
	if params.Commit == LatestAlias {
		return service.meta.LatestCommit(ctx, params.Server, params.Owner, params.Repo)
	}

	exists, err := service.meta.ExistsCommit(ctx, params.Server, params.Owner, params.Repo, params.Commit)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", metainfo.ErrNotFound.New("commit %s not found", params.Commit)
	}
	return params.Commit, nil
}
