package policy

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cmdgate/cmdgate/internal/policy/pattern"
	"github.com/cmdgate/cmdgate/pkg/types"
)

// Event types emitted by the engine.
const (
	EventPolicyDecision = "policy_decision"
	EventPolicyReload   = "policy_reload"
	EventRuleAdded      = "rule_added"
	EventRuleRemoved    = "rule_removed"
	EventRulesReplaced  = "rules_replaced"
)

// Engine holds the in-memory ordered rule list and default action. The
// first enabled rule whose pattern and shell scope match a command decides
// the outcome; the default action applies when nothing matches.
//
// A single RWMutex serializes mutation against evaluation so no caller
// ever observes the rule list mid-mutation; the first-match-wins contract
// depends on a stable, auditable rule order.
type Engine struct {
	store Store

	mu            sync.RWMutex
	rules         []types.Rule
	defaultAction types.Action
	cache         *pattern.Cache

	emit func(types.Event)
}

// NewEngine creates an engine bound to a store. The engine starts with an
// empty rule list and default deny; call Load to populate it.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:         store,
		defaultAction: types.ActionDeny,
		cache:         pattern.NewCache(),
	}
}

// OnEvent registers an audit emitter invoked for every decision and rule
// mutation. Must be called before the engine is shared.
func (e *Engine) OnEvent(fn func(types.Event)) { e.emit = fn }

// Evaluate decides whether command may run under shell. A blank command
// fails closed without consulting any rule. Every evaluation is logged;
// the audit trail is a required side effect, not an optional one.
func (e *Engine) Evaluate(command, shell string) types.EvaluationResult {
	if strings.TrimSpace(command) == "" {
		res := types.EvaluationResult{Action: types.ActionDeny, Reason: "Empty command"}
		e.audit(command, shell, res)
		return res
	}
	shell = types.NormalizeShell(shell)

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		if !shellInScope(r.Shells, shell) {
			continue
		}
		if !e.cache.Matches(command, r.Pattern) {
			continue
		}
		reason := r.Description
		if reason == "" {
			reason = "Matched rule: " + r.Pattern
		}
		res := types.EvaluationResult{
			Allowed:        r.Action == types.ActionAllow,
			Action:         r.Action,
			MatchedPattern: r.Pattern,
			Reason:         reason,
		}
		e.audit(command, shell, res)
		return res
	}

	res := types.EvaluationResult{
		Allowed: e.defaultAction == types.ActionAllow,
		Action:  e.defaultAction,
		Reason:  "No matching rule; default policy applied",
	}
	e.audit(command, shell, res)
	return res
}

// AddRule appends a rule and persists the document.
func (e *Engine) AddRule(r types.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, r)
	e.afterMutationLocked(EventRuleAdded, map[string]any{"pattern": r.Pattern, "index": len(e.rules) - 1})
}

// InsertRule inserts a rule at index (clamped into [0, len]) and persists
// the document.
func (e *Engine) InsertRule(index int, r types.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 {
		index = 0
	}
	if index > len(e.rules) {
		index = len(e.rules)
	}
	e.rules = append(e.rules[:index], append([]types.Rule{r}, e.rules[index:]...)...)
	e.afterMutationLocked(EventRuleAdded, map[string]any{"pattern": r.Pattern, "index": index})
}

// RemoveRule deletes the rule at index. Out-of-range indices return false
// and write nothing.
func (e *Engine) RemoveRule(index int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.rules) {
		return false
	}
	removed := e.rules[index]
	e.rules = append(e.rules[:index], e.rules[index+1:]...)
	e.afterMutationLocked(EventRuleRemoved, map[string]any{"pattern": removed.Pattern, "index": index})
	return true
}

// SetRules replaces the whole rule list, and the default action when
// defaultAction names a valid action (pass "" to keep the current one).
func (e *Engine) SetRules(rules []types.Rule, defaultAction types.Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append([]types.Rule(nil), rules...)
	if defaultAction.Valid() {
		e.defaultAction = defaultAction
	}
	e.afterMutationLocked(EventRulesReplaced, map[string]any{"rules": len(rules)})
}

// Document returns a read-only snapshot for inspection and editing UIs.
func (e *Engine) Document() *types.PolicyDocument {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

// Load replaces in-memory state from the store. On any failure (missing
// file, parse error, I/O error) it installs the curated default document
// and persists it immediately so subsequent loads are stable; load
// failures are never fatal. It reports whether defaults were installed.
func (e *Engine) Load() (usedDefaults bool) {
	doc, err := e.store.Load()
	if err != nil {
		slog.Warn("policy load failed; installing default document", "err", err)
		doc = DefaultDocument()
		usedDefaults = true
	}

	e.mu.Lock()
	e.rules = append([]types.Rule(nil), doc.Rules...)
	e.defaultAction = doc.DefaultAction
	e.cache.Clear()
	if usedDefaults {
		e.persistLocked()
	}
	ruleCount := len(e.rules)
	e.mu.Unlock()

	slog.Info("policy loaded", "rules", ruleCount, "default_action", doc.DefaultAction, "defaults", usedDefaults)
	e.emitEvent(EventPolicyReload, map[string]any{"rules": ruleCount, "defaults": usedDefaults})
	return usedDefaults
}

// Save persists current state. Failures are logged, never returned: the
// in-memory policy stays authoritative for this process even when the
// disk write fails.
func (e *Engine) Save() {
	e.mu.RLock()
	defer e.mu.RUnlock()
	e.persistLocked()
}

// ClearMatcherCache drops compiled matchers.
func (e *Engine) ClearMatcherCache() {
	e.cache.Clear()
}

// afterMutationLocked runs the post-mutation protocol: drop the matcher
// cache under the same lock guarding the rule list, persist synchronously,
// emit the audit event.
func (e *Engine) afterMutationLocked(eventType string, fields map[string]any) {
	e.cache.Clear()
	e.persistLocked()
	e.emitEvent(eventType, fields)
}

func (e *Engine) persistLocked() {
	if err := e.store.Save(e.snapshotLocked()); err != nil {
		slog.Error("policy save failed; in-memory policy remains authoritative", "err", err)
	}
}

func (e *Engine) snapshotLocked() *types.PolicyDocument {
	rules := make([]types.Rule, len(e.rules))
	copy(rules, e.rules)
	for i := range rules {
		if len(rules[i].Shells) > 0 {
			rules[i].Shells = append([]string(nil), rules[i].Shells...)
		}
	}
	return &types.PolicyDocument{DefaultAction: e.defaultAction, Rules: rules}
}

func (e *Engine) audit(command, shell string, res types.EvaluationResult) {
	matched := res.MatchedPattern
	if matched == "" {
		matched = "default"
	}
	slog.Info("policy decision",
		"allowed", res.Allowed,
		"action", res.Action,
		"pattern", matched,
		"shell", shell,
		"command", command,
	)
	e.emitEventFull(types.Event{
		Type:     EventPolicyDecision,
		Decision: res.Action,
		Pattern:  matched,
		Shell:    shell,
		Command:  command,
		Fields:   map[string]any{"allowed": res.Allowed, "reason": res.Reason},
	})
}

func (e *Engine) emitEvent(eventType string, fields map[string]any) {
	e.emitEventFull(types.Event{Type: eventType, Fields: fields})
}

func (e *Engine) emitEventFull(ev types.Event) {
	if e.emit == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now().UTC()
	e.emit(ev)
}

// shellInScope reports whether a rule with the given shell scope applies
// to the normalized shell name. An empty scope applies to every shell.
func shellInScope(scope []string, shell string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, s := range scope {
		if strings.EqualFold(s, shell) {
			return true
		}
	}
	return false
}
