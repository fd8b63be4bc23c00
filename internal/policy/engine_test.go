package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmdgate/cmdgate/pkg/types"
)

func newTestEngine(t *testing.T) (*Engine, *FileStore) {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "policy.json"))
	require.NoError(t, err)
	return NewEngine(store), store
}

func enabledRule(pattern string, action types.Action, shells ...string) types.Rule {
	return types.Rule{Pattern: pattern, Action: action, Shells: shells, Enabled: true}
}

func TestEngine_FirstMatchWins(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetRules([]types.Rule{
		enabledRule("rm *", types.ActionDeny),
		enabledRule("*", types.ActionAllow),
	}, types.ActionDeny)

	res := e.Evaluate("rm -rf /", "")
	assert.False(t, res.Allowed)
	assert.Equal(t, types.ActionDeny, res.Action)
	assert.Equal(t, "rm *", res.MatchedPattern)

	res = e.Evaluate("ls", "")
	assert.True(t, res.Allowed)
	assert.Equal(t, "*", res.MatchedPattern)
}

func TestEngine_DefaultFallback(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetRules(nil, types.ActionDeny)

	res := e.Evaluate("anything", "")
	assert.False(t, res.Allowed)
	assert.Equal(t, types.ActionDeny, res.Action)
	assert.Empty(t, res.MatchedPattern)
	assert.Contains(t, res.Reason, "default")

	e.SetRules(nil, types.ActionAllow)
	res = e.Evaluate("anything", "")
	assert.True(t, res.Allowed)
	assert.Equal(t, types.ActionAllow, res.Action)
}

func TestEngine_ShellScope(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetRules([]types.Rule{
		enabledRule("dir*", types.ActionAllow, "cmd"),
	}, types.ActionDeny)

	assert.False(t, e.Evaluate("dir", "powershell").Allowed)
	assert.True(t, e.Evaluate("dir", "cmd").Allowed)
	assert.True(t, e.Evaluate("dir", "CMD").Allowed, "shell names compare case-insensitively")

	// Empty shell normalizes to powershell, which is out of scope here.
	assert.False(t, e.Evaluate("dir", "").Allowed)
}

func TestEngine_EmptyCommandFailsClosed(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetRules([]types.Rule{enabledRule("*", types.ActionAllow)}, types.ActionAllow)

	for _, cmd := range []string{"", "   ", "\t\n"} {
		res := e.Evaluate(cmd, "powershell")
		assert.False(t, res.Allowed)
		assert.Equal(t, types.ActionDeny, res.Action)
		assert.Equal(t, "Empty command", res.Reason)
		assert.Empty(t, res.MatchedPattern)
	}
}

func TestEngine_DisabledRulesAreSkipped(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetRules([]types.Rule{
		{Pattern: "echo *", Action: types.ActionDeny, Enabled: false},
		enabledRule("echo *", types.ActionAllow),
	}, types.ActionDeny)

	res := e.Evaluate("echo hello", "")
	assert.True(t, res.Allowed)
}

func TestEngine_PromptActionIsNotAllowed(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetRules([]types.Rule{enabledRule("sudo *", types.ActionPrompt)}, types.ActionDeny)

	res := e.Evaluate("sudo reboot", "")
	assert.False(t, res.Allowed)
	assert.Equal(t, types.ActionPrompt, res.Action)
}

func TestEngine_ReasonPrefersDescription(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetRules([]types.Rule{
		{Pattern: "ping *", Action: types.ActionAllow, Description: "Network reachability check", Enabled: true},
		enabledRule("hostname", types.ActionAllow),
	}, types.ActionDeny)

	assert.Equal(t, "Network reachability check", e.Evaluate("ping 127.0.0.1", "").Reason)
	assert.Equal(t, "Matched rule: hostname", e.Evaluate("hostname", "").Reason)
}

func TestEngine_AddRulePersistsAppended(t *testing.T) {
	e, store := newTestEngine(t)
	e.SetRules([]types.Rule{enabledRule("echo *", types.ActionAllow)}, types.ActionDeny)

	r := enabledRule("ping *", types.ActionAllow)
	e.AddRule(r)

	doc, err := store.Load()
	require.NoError(t, err)
	require.Len(t, doc.Rules, 2)
	assert.Equal(t, r, doc.Rules[1])
	assert.Equal(t, types.ActionDeny, doc.DefaultAction)
}

func TestEngine_InsertRuleClampsIndex(t *testing.T) {
	e, store := newTestEngine(t)
	e.SetRules([]types.Rule{
		enabledRule("a*", types.ActionAllow),
		enabledRule("b*", types.ActionAllow),
	}, types.ActionDeny)

	e.InsertRule(-5, enabledRule("front", types.ActionDeny))
	e.InsertRule(99, enabledRule("back", types.ActionDeny))

	doc, err := store.Load()
	require.NoError(t, err)
	require.Len(t, doc.Rules, 4)
	assert.Equal(t, "front", doc.Rules[0].Pattern)
	assert.Equal(t, "back", doc.Rules[3].Pattern)
}

func TestEngine_RemoveRuleOutOfRange(t *testing.T) {
	e, store := newTestEngine(t)
	e.SetRules([]types.Rule{enabledRule("echo *", types.ActionAllow)}, types.ActionDeny)

	before, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	assert.False(t, e.RemoveRule(-1))
	assert.False(t, e.RemoveRule(1))

	after, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after, "out-of-range remove must not touch the document")

	assert.True(t, e.RemoveRule(0))
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc.Rules)
}

func TestEngine_LoadFallbackInstallsDefaults(t *testing.T) {
	e, store := newTestEngine(t)

	usedDefaults := e.Load()
	assert.True(t, usedDefaults)

	doc := e.Document()
	assert.Equal(t, types.ActionDeny, doc.DefaultAction)
	assert.Len(t, doc.Rules, len(DefaultDocument().Rules))

	// The fallback is persisted immediately, so the next load is stable.
	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, doc, persisted)
	assert.False(t, e.Load())
}

func TestEngine_LoadFallbackOnCorruptDocument(t *testing.T) {
	e, store := newTestEngine(t)
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0o644))

	assert.True(t, e.Load())
	doc, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, doc.Rules, len(DefaultDocument().Rules))
}

func TestEngine_LoadReplacesState(t *testing.T) {
	e, store := newTestEngine(t)
	require.NoError(t, store.Save(&types.PolicyDocument{
		DefaultAction: types.ActionAllow,
		Rules:         []types.Rule{enabledRule("echo *", types.ActionAllow)},
	}))

	assert.False(t, e.Load())
	doc := e.Document()
	assert.Equal(t, types.ActionAllow, doc.DefaultAction)
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, "echo *", doc.Rules[0].Pattern)
}

func TestEngine_DocumentIsASnapshot(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetRules([]types.Rule{enabledRule("echo *", types.ActionAllow, "cmd")}, types.ActionDeny)

	doc := e.Document()
	doc.Rules[0].Pattern = "mutated"
	doc.Rules[0].Shells[0] = "mutated"

	fresh := e.Document()
	assert.Equal(t, "echo *", fresh.Rules[0].Pattern)
	assert.Equal(t, "cmd", fresh.Rules[0].Shells[0])
}

func TestEngine_SaveFailureKeepsMemoryAuthoritative(t *testing.T) {
	// A store rooted in a file (not a directory) makes every save fail.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	store, err := NewFileStore(filepath.Join(blocker, "policy.json"))
	require.NoError(t, err)

	e := NewEngine(store)
	e.AddRule(enabledRule("echo *", types.ActionAllow))

	// The mutation succeeded in memory even though persistence failed.
	assert.True(t, e.Evaluate("echo hello", "").Allowed)
}

func TestEngine_EmitsDecisionEvents(t *testing.T) {
	e, _ := newTestEngine(t)
	var events []types.Event
	e.OnEvent(func(ev types.Event) { events = append(events, ev) })
	e.SetRules([]types.Rule{enabledRule("echo *", types.ActionAllow)}, types.ActionDeny)

	e.Evaluate("echo hi", "pwsh")
	e.Evaluate("rm -rf /", "pwsh")

	var decisions []types.Event
	for _, ev := range events {
		if ev.Type == EventPolicyDecision {
			decisions = append(decisions, ev)
		}
	}
	require.Len(t, decisions, 2)
	assert.Equal(t, "echo *", decisions[0].Pattern)
	assert.Equal(t, "echo hi", decisions[0].Command)
	assert.Equal(t, "pwsh", decisions[0].Shell)
	assert.Equal(t, "default", decisions[1].Pattern)
	assert.NotEmpty(t, decisions[0].ID)
	assert.False(t, decisions[0].Timestamp.IsZero())
}

func TestDefaultDocument(t *testing.T) {
	doc := DefaultDocument()
	assert.Equal(t, types.ActionDeny, doc.DefaultAction)
	assert.Len(t, doc.Rules, 21)

	e, _ := newTestEngine(t)
	e.SetRules(doc.Rules, doc.DefaultAction)

	tests := []struct {
		command string
		shell   string
		allowed bool
	}{
		{"echo hello", "powershell", true},
		{"Get-ChildItem C:\\", "powershell", true},
		{"Get-ChildItem C:\\", "pwsh", true},
		{"Get-ChildItem C:\\", "cmd", false},
		{"Get-Content notes.txt", "pwsh", true},
		{"dir", "cmd", true},
		{"type readme.txt", "cmd", true},
		{"hostname", "cmd", true},
		{"whoami /all", "powershell", true},
		{"ping 10.0.0.1", "powershell", true},
		{"Remove-Item -Recurse C:\\", "powershell", false},
		{"del important.txt", "cmd", false},
		{"Stop-Process -Name agent", "powershell", false},
		{"format c:", "cmd", false},
		{"shutdown /s /t 0", "cmd", false},
		{"Restart-Computer -Force", "powershell", false},
		{"Invoke-WebRequest http://evil.example", "powershell", false},
		{"Start-Process calc.exe", "powershell", false},
		{"reg add HKLM\\Software", "cmd", false},
		{"net stop firewall", "cmd", false},
		{"some-unknown-tool --flag", "powershell", false},
	}
	for _, tt := range tests {
		res := e.Evaluate(tt.command, tt.shell)
		assert.Equalf(t, tt.allowed, res.Allowed, "command %q shell %q (matched %q)", tt.command, tt.shell, res.MatchedPattern)
	}
}
