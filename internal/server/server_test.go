package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmdgate/cmdgate/internal/config"
	"github.com/cmdgate/cmdgate/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.LoadFromBytes([]byte("{}"))
	require.NoError(t, err)
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Policy.Path = filepath.Join(dir, "policy.json")
	cfg.Audit.Enabled = true
	cfg.Audit.Output = filepath.Join(dir, "audit.log")
	cfg.Audit.Storage.SQLitePath = filepath.Join(dir, "events.db")
	cfg.Metrics.Enabled = true
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) string {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
		_ = s.Close()
	})
	return "http://" + s.Addr()
}

func TestServerServesHealthAndPolicy(t *testing.T) {
	base := startServer(t, testConfig(t))

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/api/v1/policy")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc types.PolicyDocument
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, types.ActionDeny, doc.DefaultAction)
	assert.NotEmpty(t, doc.Rules, "fresh server installs the default document")
}

func TestServerDeniesDestructiveCommand(t *testing.T) {
	base := startServer(t, testConfig(t))

	body, _ := json.Marshal(types.CommandRequest{Command: "Remove-Item C:\\Windows"})
	resp, err := http.Post(base+"/api/v1/exec", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var verdict types.EvaluationResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&verdict))
	assert.False(t, verdict.Allowed)
	assert.Equal(t, types.ActionDeny, verdict.Action)

	// The decision is in the audit trail and the metrics.
	require.Eventually(t, func() bool {
		r, err := http.Get(base + "/api/v1/events/search?decision=deny")
		if err != nil {
			return false
		}
		defer r.Body.Close()
		var evs []types.Event
		if json.NewDecoder(r.Body).Decode(&evs) != nil {
			return false
		}
		return len(evs) >= 1
	}, 5*time.Second, 50*time.Millisecond)

	r, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer r.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r.Body)
	assert.Contains(t, buf.String(), `cmdgate_decisions_total{action="deny"}`)
}

func TestServerRejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.ReadTimeout = "not-a-duration"
	_, err := New(cfg)
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.Policy.Watch = true
	cfg.Policy.WatchDebounce = "bogus"
	_, err = New(cfg)
	require.Error(t, err)
}

func TestServerPolicyMutationPersists(t *testing.T) {
	cfg := testConfig(t)
	base := startServer(t, cfg)

	rule := map[string]any{"pattern": "custom-tool *", "action": "allow", "enabled": true, "index": 0}
	body, _ := json.Marshal(rule)
	resp, err := http.Post(base+"/api/v1/policy/rules", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// The mutation reaches the file, not just memory.
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(cfg.Policy.Path)
		return err == nil && bytes.Contains(b, []byte("custom-tool *"))
	}, 5*time.Second, 50*time.Millisecond)
}
