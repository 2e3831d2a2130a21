// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/artifactstore/artifactstore/metainfo"
)

// Wire shapes. All fields are camelCase; times are RFC 3339 in UTC with
// seconds precision.

type statusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type repoJSON struct {
	Server    string `json:"server"`
	Owner     string `json:"owner"`
	Repo      string `json:"repo"`
	TimeAdded string `json:"timeAdded"`
}

type reposResponse struct {
	Repos []repoJSON `json:"repos"`
}

type commitJSON struct {
	Commit    string `json:"commit"`
	TimeAdded string `json:"timeAdded"`
}

type commitsResponse struct {
	Server  string       `json:"server"`
	Owner   string       `json:"owner"`
	Repo    string       `json:"repo"`
	Commits []commitJSON `json:"commits"`
}

type artifactJSON struct {
	Path      string `json:"path"`
	TimeAdded string `json:"timeAdded"`
}

type artifactsResponse struct {
	Server    string         `json:"server"`
	Owner     string         `json:"owner"`
	Repo      string         `json:"repo"`
	Commit    string         `json:"commit"`
	Artifacts []artifactJSON `json:"artifacts"`
}

func formatTime(nanos uint64) string {
	return time.Unix(0, int64(nanos)).UTC().Format(time.RFC3339)
}

func (peer *Peer) writeJSON(w http.ResponseWriter, status int, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		peer.Log.Error("Error writing response to client.", zap.Error(err))
	}
}

func (peer *Peer) writeStatus(w http.ResponseWriter, code int, message string) {
	peer.writeJSON(w, code, statusResponse{Code: code, Message: message})
}

// writeError maps an error to the JSON failure shape: not-found errors
// become 404, everything else 500.
func (peer *Peer) writeError(w http.ResponseWriter, err error) {
	if metainfo.ErrNotFound.Has(err) {
		peer.writeStatus(w, http.StatusNotFound, err.Error())
		return
	}
	peer.Log.Error("Request failed.", zap.Error(err))
	peer.writeStatus(w, http.StatusInternalServerError, err.Error())
}
