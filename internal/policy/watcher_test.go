package policy

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmdgate/cmdgate/pkg/types"
)

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(&types.PolicyDocument{
		DefaultAction: types.ActionDeny,
		Rules:         []types.Rule{{Pattern: "echo *", Action: types.ActionAllow, Enabled: true}},
	}))

	engine := NewEngine(store)
	engine.Load()
	require.True(t, engine.Evaluate("echo hi", "").Allowed)

	w, err := NewWatcher(engine, path, 50*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// An external editor replaces the document.
	require.NoError(t, store.Save(&types.PolicyDocument{
		DefaultAction: types.ActionDeny,
		Rules:         []types.Rule{{Pattern: "echo *", Action: types.ActionDeny, Enabled: true}},
	}))

	require.Eventually(t, func() bool {
		return !engine.Evaluate("echo hi", "").Allowed
	}, 5*time.Second, 20*time.Millisecond, "engine should pick up the external edit")
	assert.GreaterOrEqual(t, w.Stats().ReloadsTotal, int64(1))
}

func TestWatcher_StartTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	engine := NewEngine(store)

	w, err := NewWatcher(engine, path, time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()
	assert.Error(t, w.Start(ctx))
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher(nil, "p", 0)
	assert.Error(t, err)

	engine := NewEngine(&FileStore{path: "x"})
	_, err = NewWatcher(engine, "", 0)
	assert.Error(t, err)
}
