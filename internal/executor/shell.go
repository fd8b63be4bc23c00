package executor

import "github.com/cmdgate/cmdgate/pkg/types"

// resolveInvocation maps a request shell to the executable and argument
// vector that runs the command line. Shell names compare
// case-insensitively; anything that is not cmd or pwsh falls back to
// powershell.
func resolveInvocation(shell, line string) (string, []string) {
	switch types.NormalizeShell(shell) {
	case "cmd":
		return "cmd", []string{"/C", line}
	case "pwsh":
		return "pwsh", powershellArgs(line)
	default:
		return "powershell", powershellArgs(line)
	}
}

func powershellArgs(line string) []string {
	return []string{"-NoLogo", "-NoProfile", "-NonInteractive", "-Command", line}
}
