package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/puyokura/orbitchat/model"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestAPI(t *testing.T) {
	hub, reg := newTestHub(t)
	srv := httptest.NewServer(newRouter(hub, reg))
	t.Cleanup(srv.Close)

	_, err := hub.engine.Messaging.Send(context.Background(), "4", "general", "hi api")
	require.NoError(t, err)
	dm, err := hub.engine.Messaging.ResolveDirect(context.Background(), "4", "2")
	require.NoError(t, err)

	status, body := get(t, srv, "/api/channels/rules/messages")
	require.Equal(t, http.StatusOK, status)
	var msgs []model.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	assert.Len(t, msgs, 2)

	status, body = get(t, srv, "/api/channels/general/messages")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi api", msgs[0].Body)

	for _, path := range []string{"/api/channels/nowhere/messages", "/api/channels/" + dm.ID + "/messages"} {
		status, body = get(t, srv, path)
		assert.Equal(t, http.StatusNotFound, status, path)
		var p model.ErrorPayload
		require.NoError(t, json.Unmarshal(body, &p))
		assert.Equal(t, "NOT_FOUND", p.Kind)
	}

	status, body = get(t, srv, "/api/channels")
	require.Equal(t, http.StatusOK, status)
	var chans []model.Channel
	require.NoError(t, json.Unmarshal(body, &chans))
	assert.Len(t, chans, 3, "direct channels are not listed")

	status, body = get(t, srv, "/api/catalog")
	require.Equal(t, http.StatusOK, status)
	var items []model.CatalogItem
	require.NoError(t, json.Unmarshal(body, &items))
	assert.Len(t, items, 6)

	status, body = get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	status, body = get(t, srv, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `orbitchat_commands_total{op="send_message",outcome="ok"} 1`)

	status, body = get(t, srv, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "OrbitChat Server")
}

func TestWriteErrorStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL")
}

func TestSetupLogging(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger, f, err := setupLogging(LogConfig{Level: "debug", Dir: dir})
	require.NoError(t, err)
	logger.Info("hello_log", zap.String("k", "v"))
	_ = logger.Sync()
	require.NoError(t, f.Close())

	data, err := os.ReadFile(filepath.Join(dir, logName))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello_log"`)

	_, _, err = setupLogging(LogConfig{Level: "loud", Dir: dir})
	assert.Error(t, err)
}

func TestCompressLog(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, logName), []byte("line one\nline two\n"), 0644))

	target, err := compressLog(dir, time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "logs-20260301-123000.tar.gz"), target)

	f, err := os.Open(target)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, logName, hdr.Name)
	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", string(content))

	_, err = compressLog(t.TempDir(), time.Now())
	assert.Error(t, err)
}

func TestOpenEngineMemoryDriver(t *testing.T) {
	cfg := NewConfig(filepath.Join(t.TempDir(), "orbitchat.yaml"))
	cfg.Storage.Driver = "memory"
	cfg.BcryptCost = 4
	cfg.SeedCredential = "launchpad"

	eng, err := openEngine(context.Background(), cfg, zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer eng.Close()

	acct, err := eng.Identity.Authenticate(context.Background(), "astronaut@example.com", "launchpad")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, acct.Role)

	cfg.Storage.Driver = "redis"
	_, err = openEngine(context.Background(), cfg, zap.NewNop(), prometheus.NewRegistry())
	assert.Error(t, err)
}
