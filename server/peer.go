// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

// Package server exposes the artifact store over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/artifactstore/artifactstore/artifacts"
	"github.com/artifactstore/artifactstore/metainfo"
)

// Error is the default server error class.
var Error = errs.Class("server error")

// requestTimeout bounds a single request; an expired handler is torn
// down with the same semantics as a client disconnect.
const requestTimeout = 10 * time.Second

// Config holds the server configuration.
type Config struct {
	Address string `user:"true" help:"address to listen on" default:":3001"`
}

// Peer is the representation of the artifact store server.
//
// architecture: Peer
type Peer struct {
	// core dependencies
	Log     *zap.Logger
	Service *artifacts.Service

	// Web server
	Server struct {
		Endpoint http.Server
		Listener net.Listener
	}
}

// New creates a new artifact store server.
func New(log *zap.Logger, service *artifacts.Service, config Config) (peer *Peer, err error) {
	peer = &Peer{
		Log:     log,
		Service: service,
	}

	router := mux.NewRouter()
	router.HandleFunc("/", peer.indexHandle).Methods(http.MethodGet)
	router.HandleFunc("/robots.txt", peer.robotsHandle).Methods(http.MethodGet)
	router.HandleFunc("/ping", peer.pingHandle).Methods(http.MethodGet)
	router.HandleFunc("/repositories", peer.listReposHandle).Methods(http.MethodGet)
	router.HandleFunc("/{server}/{owner}/{repo}", peer.listCommitsHandle).Methods(http.MethodGet)
	router.HandleFunc("/{server}/{owner}/{repo}/{commit}", peer.listArtifactsHandle).Methods(http.MethodGet)
	router.HandleFunc("/{server}/{owner}/{repo}/{commit}/{path:.+}", peer.downloadHandle).Methods(http.MethodGet)
	router.HandleFunc("/{server}/{owner}/{repo}/{commit}/{path:.+}", peer.uploadHandle).Methods(http.MethodPut)

	peer.Server.Endpoint = http.Server{
		Handler:      router,
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
	}

	peer.Server.Listener, err = net.Listen("tcp", config.Address)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	return peer, nil
}

// Handler returns the routed handler, for tests.
func (peer *Peer) Handler() http.Handler { return peer.Server.Endpoint.Handler }

// Run runs the server until it's either closed or it errors.
func (peer *Peer) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group

	group.Go(func() error {
		<-ctx.Done()
		err := peer.Server.Endpoint.Shutdown(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		return err
	})
	group.Go(func() error {
		defer cancel()
		peer.Log.Info("Artifact store server started.", zap.String("Address", peer.Addr()))
		err := peer.Server.Endpoint.Serve(peer.Server.Listener)
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
			err = nil
		}
		return err
	})
	return group.Wait()
}

// Close closes all the resources.
func (peer *Peer) Close() error {
	return peer.Server.Endpoint.Close()
}

// Addr returns the public address.
func (peer *Peer) Addr() string { return peer.Server.Listener.Addr().String() }

func requestParams(r *http.Request) artifacts.Params {
	vars := mux.Vars(r)
	return artifacts.Params{
		Server: vars["server"],
		Owner:  vars["owner"],
		Repo:   vars["repo"],
		Commit: vars["commit"],
		Path:   vars["path"],
	}
}

// indexHandle serves the liveness page.
func (peer *Peer) indexHandle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, err := fmt.Fprint(w, "<h1>Artifact Store</h1>")
	if err != nil {
		peer.Log.Error("Error writing response to client.", zap.Error(err))
	}
}

func (peer *Peer) robotsHandle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, err := fmt.Fprint(w, "User-agent: *\nDisallow: /")
	if err != nil {
		peer.Log.Error("Error writing response to client.", zap.Error(err))
	}
}

func (peer *Peer) pingHandle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, err := fmt.Fprint(w, "pong")
	if err != nil {
		peer.Log.Error("Error writing response to client.", zap.Error(err))
	}
}

// listReposHandle lists all known repositories.
func (peer *Peer) listReposHandle(w http.ResponseWriter, r *http.Request) {
	repos, err := peer.Service.ListRepos(r.Context())
	if err != nil {
		peer.writeError(w, err)
		return
	}

	response := reposResponse{Repos: make([]repoJSON, 0, len(repos))}
	for _, repo := range repos {
		response.Repos = append(response.Repos, repoJSON{
			Server:    repo.Server,
			Owner:     repo.Owner,
			Repo:      repo.Repo,
			TimeAdded: formatTime(repo.TimeAdded),
		})
	}
	peer.writeJSON(w, http.StatusOK, response)
}

// listCommitsHandle lists the commits of a repository, newest first.
func (peer *Peer) listCommitsHandle(w http.ResponseWriter, r *http.Request) {
	params := requestParams(r)

	commits, err := peer.Service.ListCommits(r.Context(), params.Server, params.Owner, params.Repo)
	if err != nil {
		peer.writeError(w, err)
		return
	}

	response := commitsResponse{
		Server:  params.Server,
		Owner:   params.Owner,
		Repo:    params.Repo,
		Commits: make([]commitJSON, 0, len(commits)),
	}
	for _, commit := range commits {
		response.Commits = append(response.Commits, commitJSON{
			Commit:    commit.Commit,
			TimeAdded: formatTime(commit.TimeAdded),
		})
	}
	peer.writeJSON(w, http.StatusOK, response)
}

// listArtifactsHandle lists the artifacts of a commit; the commit may be
// the @latest alias.
func (peer *Peer) listArtifactsHandle(w http.ResponseWriter, r *http.Request) {
	params := requestParams(r)

	commit, listed, err := peer.Service.ListArtifacts(r.Context(), params)
	if err != nil {
		peer.writeError(w, err)
		return
	}

	response := artifactsResponse{
		Server:    params.Server,
		Owner:     params.Owner,
		Repo:      params.Repo,
		Commit:    commit,
		Artifacts: make([]artifactJSON, 0, len(listed)),
	}
	for _, artifact := range listed {
		response.Artifacts = append(response.Artifacts, artifactJSON{
			Path:      artifact.Path,
			TimeAdded: formatTime(artifact.TimeAdded),
		})
	}
	peer.writeJSON(w, http.StatusOK, response)
}

// downloadHandle streams an artifact payload back to the client. Errors
// are reported as plain text here, unlike the JSON errors of the
// listing and upload endpoints.
func (peer *Peer) downloadHandle(w http.ResponseWriter, r *http.Request) {
	path, stream, err := peer.Service.Download(r.Context(), requestParams(r))
	if err != nil {
		if metainfo.ErrNotFound.Has(err) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		peer.Log.Error("Download failed.", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := stream.Close(); err != nil {
			peer.Log.Error("Error closing artifact stream.", zap.Error(err))
		}
	}()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path))
	if _, err := io.Copy(w, stream); err != nil {
		// headers are out already, the client sees a truncated body
		peer.Log.Error("Error streaming artifact to client.", zap.Error(err))
	}
}

// uploadHandle stores the request body as a new artifact.
func (peer *Peer) uploadHandle(w http.ResponseWriter, r *http.Request) {
	err := peer.Service.Upload(r.Context(), requestParams(r), r.Body)
	if err != nil {
		peer.writeError(w, err)
		return
	}
	peer.writeStatus(w, http.StatusOK, "OK")
}
