package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cmdgate/cmdgate/internal/client"
	"github.com/cmdgate/cmdgate/pkg/types"
)

func newRunCmd() *cobra.Command {
	var shell string
	var cwd string
	var timeoutMs int

	cmd := &cobra.Command{
		Use:   "run -- COMMAND [ARGS...]",
		Short: "Run a command through the gate",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr(cmd))
			resp, err := c.Exec(cmd.Context(), types.CommandRequest{
				Command:   args[0],
				Args:      args[1:],
				Shell:     strings.TrimSpace(shell),
				Cwd:       cwd,
				TimeoutMs: timeoutMs,
			})
			var de *client.DeniedError
			if errors.As(err, &de) {
				_ = printJSON(cmd, de.Verdict)
				return &ExitError{code: 126, message: de.Error()}
			}
			if err != nil {
				return err
			}

			if resp.Result.Stdout != "" {
				fmt.Fprintln(cmd.OutOrStdout(), resp.Result.Stdout)
			}
			if resp.Result.Stderr != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), resp.Result.Stderr)
			}
			if resp.Result.TimedOut {
				return &ExitError{code: 124, message: "command timed out"}
			}
			// Mirror the child's exit code. A start failure reports -1,
			// which os.Exit would wrap around; clamp it to a plain failure.
			if code := resp.Result.ExitCode; code != 0 {
				if code < 0 {
					code = 1
				}
				return &ExitError{code: code}
			}
			return nil
		},
		DisableFlagsInUseLine: true,
	}
	cmd.Flags().StringVar(&shell, "shell", "", "Shell to run under (powershell, pwsh, cmd)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Working directory for the command")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "Timeout in milliseconds (0 means unbounded)")
	return cmd
}
