package types

import "time"

// Event is one audit record: a policy decision, a command lifecycle step,
// or a rule-set change.
type Event struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	CommandID string    `json:"command_id,omitempty"`
	PID       int       `json:"pid,omitempty"`

	// Convenience fields for indexing/search.
	Decision Action `json:"decision,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	Shell    string `json:"shell,omitempty"`
	Command  string `json:"command,omitempty"`

	Fields map[string]any `json:"fields,omitempty"`
}

// EventQuery filters stored audit events.
type EventQuery struct {
	CommandID string
	Types     []string
	Since     *time.Time
	Until     *time.Time

	Decision *Action

	CommandLike string
	TextLike    string

	Limit  int
	Offset int
	Asc    bool
}
