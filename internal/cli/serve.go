package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cmdgate/cmdgate/internal/config"
	"github.com/cmdgate/cmdgate/internal/server"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cmdgate server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			server.SetupLogging(cfg.Logging)

			s, err := server.New(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "cmdgate listening on %s\n", s.Addr())
			return s.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to server config YAML (default: ./config.yml or CMDGATE_CONFIG)")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("CMDGATE_CONFIG")
	}
	if path == "" {
		for _, candidate := range []string{"config.yml", "config.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
