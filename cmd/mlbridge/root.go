package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mlbridge/sidecar/internal/version"
)

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "mlbridge.db"
	}
	return filepath.Join(dir, "mlbridge", "settings.db")
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mlbridge",
		Short:         "IDE sidecar bridging an editor to an MLOps control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("db", defaultDBPath(), "settings database path")
	flags.String("server-url", "", "control plane WebSocket URL (overrides stored setting)")
	flags.String("access-token", "", "control plane access token (overrides stored setting)")
	flags.String("profile", "", "profile config file to watch for login changes")
	flags.String("loki-url", "", "Loki push endpoint for telemetry (empty disables)")
	flags.String("loki-username", "", "Loki basic auth username")
	flags.String("loki-api-key", "", "Loki basic auth API key")
	flags.String("openai-api-key", "", "OpenAI API key for fix suggestions (empty disables)")
	flags.String("openai-model", "gpt-4o-mini", "OpenAI model for fix suggestions")

	if err := viper.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("bind flags: %v", err))
	}
	viper.SetEnvPrefix("MLBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the sidecar version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "mlbridge "+version.Version)
		},
	}
}
