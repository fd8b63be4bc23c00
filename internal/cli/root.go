package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cmdgate",
		Short:         "cmdgate: policy-gated command execution",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("cmdgate {{.Version}}\n")

	cmd.PersistentFlags().String("server", getenvDefault("CMDGATE_SERVER", "http://127.0.0.1:8080"), "cmdgate server base URL")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newEvalCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newPolicyCmd())
	cmd.AddCommand(newEventsCmd())

	return cmd
}

func serverAddr(cmd *cobra.Command) string {
	addr, _ := cmd.Root().PersistentFlags().GetString("server")
	if addr == "" {
		addr = "http://127.0.0.1:8080"
	}
	return addr
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
