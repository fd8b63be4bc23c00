package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cmdgate/cmdgate/internal/client"
	"github.com/cmdgate/cmdgate/pkg/types"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and edit the rule document",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active policy document",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := client.New(serverAddr(cmd)).Policy(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, doc)
		},
	})

	var action string
	var shells []string
	var description string
	var disabled bool
	var index int
	addCmd := &cobra.Command{
		Use:   "add PATTERN",
		Short: "Append a rule (or insert with --index)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			act, ok := types.ParseAction(action)
			if !ok {
				return fmt.Errorf("invalid action %q", action)
			}
			rule := types.Rule{
				Pattern:     args[0],
				Action:      act,
				Shells:      shells,
				Description: description,
				Enabled:     !disabled,
			}
			var idx *int
			if cmd.Flags().Changed("index") {
				idx = &index
			}
			doc, err := client.New(serverAddr(cmd)).AddRule(cmd.Context(), rule, idx)
			if err != nil {
				return err
			}
			return printJSON(cmd, doc)
		},
	}
	addCmd.Flags().StringVar(&action, "action", "deny", "Rule action: allow, deny, or prompt")
	addCmd.Flags().StringSliceVar(&shells, "shells", nil, "Shells the rule applies to (empty means all)")
	addCmd.Flags().StringVar(&description, "description", "", "Human-readable rule description")
	addCmd.Flags().BoolVar(&disabled, "disabled", false, "Add the rule in disabled state")
	addCmd.Flags().IntVar(&index, "index", 0, "Insert position (appends when omitted)")
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove INDEX",
		Short: "Remove the rule at INDEX",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("index must be an integer: %q", args[0])
			}
			doc, err := client.New(serverAddr(cmd)).RemoveRule(cmd.Context(), idx)
			if err != nil {
				return err
			}
			return printJSON(cmd, doc)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-default ACTION",
		Short: "Set the default action for unmatched commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			act, ok := types.ParseAction(strings.ToLower(args[0]))
			if !ok {
				return fmt.Errorf("invalid action %q", args[0])
			}
			c := client.New(serverAddr(cmd))
			doc, err := c.Policy(cmd.Context())
			if err != nil {
				return err
			}
			doc.DefaultAction = act
			doc, err = c.SetPolicy(cmd.Context(), doc)
			if err != nil {
				return err
			}
			return printJSON(cmd, doc)
		},
	})

	return cmd
}
