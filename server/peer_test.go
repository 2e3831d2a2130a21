// Copyright (C) 2024 The Artifact Store Authors.
// See LICENSE for copying information.

package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/artifactstore/artifactstore/artifacts"
	"github.com/artifactstore/artifactstore/internal/testcontext"
	"github.com/artifactstore/artifactstore/metainfo"
	"github.com/artifactstore/artifactstore/server"
	"github.com/artifactstore/artifactstore/storage/filestore"
	"github.com/artifactstore/artifactstore/storage/teststore"
)

func newTestServer(t *testing.T, ctx *testcontext.Context) *httptest.Server {
	log := zaptest.NewLogger(t)

	blobs, err := filestore.NewAt(ctx.Dir("artifacts"))
	require.NoError(t, err)

	service := artifacts.NewService(log, metainfo.NewService(log, teststore.New()), blobs)

	peer, err := server.New(log, service, server.Config{Address: "127.0.0.1:0"})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, peer.Close()) })

	srv := httptest.NewServer(peer.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, client *http.Client, method, url, body string) (*http.Response, string) {
	t.Helper()

	var reader io.Reader
	if body != "" || method == http.MethodPut {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, string(data)
}

func decodeJSON(t *testing.T, data string) map[string]interface{} {
	t.Helper()
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(data), &decoded))
	return decoded
}

func TestStaticPages(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	srv := newTestServer(t, ctx)

	resp, body := do(t, srv.Client(), http.MethodGet, srv.URL+"/", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/html", resp.Header.Get("Content-Type"))
	require.Equal(t, "<h1>Artifact Store</h1>", body)

	resp, body = do(t, srv.Client(), http.MethodGet, srv.URL+"/robots.txt", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "User-agent: *\nDisallow: /", body)

	resp, body = do(t, srv.Client(), http.MethodGet, srv.URL+"/ping", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "pong", body)
}

func TestUploadDownloadEmptyBody(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	srv := newTestServer(t, ctx)

	resp, body := do(t, srv.Client(), http.MethodPut,
		srv.URL+"/git.example.dev/owner/repo/commit/dir/f.txt", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"code":200,"message":"OK"}`, body)

	resp, body = do(t, srv.Client(), http.MethodGet,
		srv.URL+"/git.example.dev/owner/repo/commit/dir/f.txt", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body)
	require.Equal(t, `attachment; filename="dir/f.txt"`, resp.Header.Get("Content-Disposition"))
}

func TestUploadDownloadPayload(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	srv := newTestServer(t, ctx)

	resp, _ := do(t, srv.Client(), http.MethodPut,
		srv.URL+"/git.example.dev/owner/repo/commit/dir/bin.txt", "hello")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, srv.Client(), http.MethodGet,
		srv.URL+"/git.example.dev/owner/repo/commit/dir/bin.txt", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hello", body)
}

func TestLatestAlias(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	srv := newTestServer(t, ctx)

	resp, _ := do(t, srv.Client(), http.MethodPut,
		srv.URL+"/git.example.dev/owner/repo-x/commit-A/f", "old")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// make sure the second upload gets a strictly later timestamp
	time.Sleep(10 * time.Millisecond)

	resp, _ = do(t, srv.Client(), http.MethodPut,
		srv.URL+"/git.example.dev/owner/repo-x/commit-B/f", "new")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, srv.Client(), http.MethodGet,
		srv.URL+"/git.example.dev/owner/repo-x/@latest/f", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "new", body)

	resp, body = do(t, srv.Client(), http.MethodGet,
		srv.URL+"/git.example.dev/owner/repo-x/@latest", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeJSON(t, body)
	require.Equal(t, "commit-B", listed["commit"])
}

func TestDownloadMissing(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	srv := newTestServer(t, ctx)

	resp, body := do(t, srv.Client(), http.MethodGet,
		srv.URL+"/git.example.dev/owner/repo/unknown-commit/unknown.txt", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotEmpty(t, body)
}

func TestListRepositories(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	srv := newTestServer(t, ctx)

	resp, body := do(t, srv.Client(), http.MethodGet, srv.URL+"/repositories", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"repos":[]}`, body)

	resp, _ = do(t, srv.Client(), http.MethodPut,
		srv.URL+"/git.example.dev/owner/repo/commit/f", "a")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, srv.Client(), http.MethodPut,
		srv.URL+"/git.example.dev/owner/repo-2/commit-2/f", "b")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, srv.Client(), http.MethodGet, srv.URL+"/repositories", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listed := decodeJSON(t, body)
	repos, ok := listed["repos"].([]interface{})
	require.True(t, ok)
	require.Len(t, repos, 2)

	first, ok := repos[0].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "git.example.dev", first["server"])
	require.Equal(t, "owner", first["owner"])
	require.Equal(t, "repo", first["repo"])

	timeAdded, ok := first["timeAdded"].(string)
	require.True(t, ok)
	parsed, err := time.Parse(time.RFC3339, timeAdded)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), parsed, time.Minute)
}

func TestListCommitsNewestFirst(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	srv := newTestServer(t, ctx)

	for _, commit := range []string{"c-old", "c-new"} {
		resp, _ := do(t, srv.Client(), http.MethodPut,
			srv.URL+"/git.example.dev/owner/repo/"+commit+"/f", "x")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		time.Sleep(10 * time.Millisecond)
	}

	resp, body := do(t, srv.Client(), http.MethodGet,
		srv.URL+"/git.example.dev/owner/repo", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listed := decodeJSON(t, body)
	require.Equal(t, "git.example.dev", listed["server"])
	commits, ok := listed["commits"].([]interface{})
	require.True(t, ok)
	require.Len(t, commits, 2)
	newest, ok := commits[0].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "c-new", newest["commit"])
}

func TestListArtifactsUnknownCommit(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	srv := newTestServer(t, ctx)

	resp, body := do(t, srv.Client(), http.MethodGet,
		srv.URL+"/git.example.dev/owner/repo/unknown", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	failure := decodeJSON(t, body)
	require.Equal(t, float64(http.StatusNotFound), failure["code"])
	require.NotEmpty(t, failure["message"])
}

func TestReuploadSamePath(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	srv := newTestServer(t, ctx)

	resp, _ := do(t, srv.Client(), http.MethodPut,
		srv.URL+"/git.example.dev/owner/repo/commit/dir/f.txt", "first")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, srv.Client(), http.MethodPut,
		srv.URL+"/git.example.dev/owner/repo/commit/dir/f.txt", "second")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	failure := decodeJSON(t, body)
	require.Equal(t, float64(http.StatusInternalServerError), failure["code"])
	require.Contains(t, failure["message"], "artifact already exists")

	// the first payload survives and the commit index has one entry
	resp, body = do(t, srv.Client(), http.MethodGet,
		srv.URL+"/git.example.dev/owner/repo/commit/dir/f.txt", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "first", body)

	resp, body = do(t, srv.Client(), http.MethodGet,
		srv.URL+"/git.example.dev/owner/repo", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeJSON(t, body)
	commits, ok := listed["commits"].([]interface{})
	require.True(t, ok)
	require.Len(t, commits, 1)
}
