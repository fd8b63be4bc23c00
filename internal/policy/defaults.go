package policy

import "github.com/cmdgate/cmdgate/pkg/types"

// psFamily scopes a rule to PowerShell-family shells.
var psFamily = []string{"powershell", "pwsh"}

// DefaultDocument returns the curated bootstrap policy: an allow-list of
// read-only and diagnostic commands, a deny-list of destructive or
// high-risk operations, and a default-deny fallback. It is installed (and
// immediately persisted) whenever the stored document cannot be loaded.
func DefaultDocument() *types.PolicyDocument {
	allow := func(pattern, desc string, shells ...string) types.Rule {
		return types.Rule{Pattern: pattern, Action: types.ActionAllow, Shells: shells, Description: desc, Enabled: true}
	}
	deny := func(pattern, desc string) types.Rule {
		return types.Rule{Pattern: pattern, Action: types.ActionDeny, Description: desc, Enabled: true}
	}

	return &types.PolicyDocument{
		DefaultAction: types.ActionDeny,
		Rules: []types.Rule{
			allow("echo *", "Echo text back"),
			allow("get-childitem*", "List directory contents", psFamily...),
			allow("get-content*", "Read file contents", psFamily...),
			allow("get-process*", "List running processes", psFamily...),
			allow("dir*", "List directory contents", "cmd"),
			allow("type *", "Read file contents", "cmd"),
			allow("hostname", "Show machine name"),
			allow("whoami*", "Show current user identity"),
			allow("ipconfig*", "Show network configuration"),
			allow("ping *", "Network reachability check"),

			deny("*remove-item*", "Deletes files or directories"),
			deny("del *", "Deletes files"),
			deny("*stop-process*", "Kills processes"),
			deny("format*", "Formats disks"),
			deny("shutdown*", "Shuts down the machine"),
			deny("*restart-computer*", "Restarts the machine"),
			deny("*invoke-webrequest*", "Downloads content from the web"),
			deny("*invoke-restmethod*", "Downloads content from the web"),
			deny("start-process*", "Launches arbitrary processes"),
			deny("reg *", "Edits the registry"),
			deny("net *", "Network service commands"),
		},
	}
}
