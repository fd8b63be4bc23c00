// Package types holds the wire contracts shared by the policy engine,
// the executors, and every transport that wraps them.
package types

import "strings"

// Action is the outcome a policy assigns to a command.
type Action string

const (
	ActionAllow  Action = "allow"
	ActionDeny   Action = "deny"
	ActionPrompt Action = "prompt"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionAllow, ActionDeny, ActionPrompt:
		return true
	}
	return false
}

// ParseAction normalizes a string to an Action, reporting whether it named
// a known action.
func ParseAction(s string) (Action, bool) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	return a, a.Valid()
}

// Rule is one entry in the ordered access-control list. Order is
// significant: the first enabled rule whose pattern and shell scope match
// decides the outcome.
type Rule struct {
	Pattern     string   `json:"pattern"`
	Action      Action   `json:"action"`
	Shells      []string `json:"shells,omitempty"`
	Description string   `json:"description,omitempty"`
	Enabled     bool     `json:"enabled"`
}

// PolicyDocument is the persisted form of the rule set. The JSON shape is
// the compatibility contract with external rule editors and must not drift.
type PolicyDocument struct {
	DefaultAction Action `json:"defaultAction"`
	Rules         []Rule `json:"rules"`
}

// EvaluationResult is the outcome of evaluating one command against the
// policy.
type EvaluationResult struct {
	Allowed        bool   `json:"allowed"`
	Action         Action `json:"action"`
	MatchedPattern string `json:"matchedPattern,omitempty"`
	Reason         string `json:"reason,omitempty"`
}
