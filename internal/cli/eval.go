package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/cmdgate/cmdgate/internal/client"
	"github.com/cmdgate/cmdgate/pkg/types"
)

func newEvalCmd() *cobra.Command {
	var shell string

	cmd := &cobra.Command{
		Use:   "eval -- COMMAND [ARGS...]",
		Short: "Evaluate a command against the policy without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(serverAddr(cmd))
			res, err := c.Evaluate(cmd.Context(), types.CommandRequest{
				Command: args[0],
				Args:    args[1:],
				Shell:   strings.TrimSpace(shell),
			})
			if err != nil {
				return err
			}
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Allowed {
				return &ExitError{code: 1}
			}
			return nil
		},
		DisableFlagsInUseLine: true,
	}
	cmd.Flags().StringVar(&shell, "shell", "", "Shell to evaluate for (powershell, pwsh, cmd)")
	return cmd
}
