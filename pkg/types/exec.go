package types

import "strings"

// DefaultShell is used when a request does not name a shell.
const DefaultShell = "powershell"

// CommandRequest describes one command execution. TimeoutMs of zero means
// unbounded; callers that need a bound must set it explicitly.
type CommandRequest struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Shell     string            `json:"shell,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// CommandLine returns the full line handed to the shell: the command plus
// space-joined args. This is also the string the policy evaluates.
func (r CommandRequest) CommandLine() string {
	if len(r.Args) == 0 {
		return r.Command
	}
	return r.Command + " " + strings.Join(r.Args, " ")
}

// CommandResult is the outcome of one execution. Invariant:
// TimedOut == true implies ExitCode == -1.
type CommandResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exitCode"`
	TimedOut   bool   `json:"timedOut"`
	DurationMs int64  `json:"durationMs"`
}

// ExecResponse pairs the policy verdict with the execution outcome.
type ExecResponse struct {
	CommandID  string           `json:"commandId"`
	Evaluation EvaluationResult `json:"evaluation"`
	Result     CommandResult    `json:"result"`
}

// NormalizeShell lower-cases and trims a shell name, applying the default
// when empty.
func NormalizeShell(shell string) string {
	s := strings.ToLower(strings.TrimSpace(shell))
	if s == "" {
		return DefaultShell
	}
	return s
}
