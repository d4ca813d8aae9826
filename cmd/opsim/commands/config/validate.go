package config

import (
	"fmt"

	"github.com/marmos91/opsim/pkg/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate an opsim configuration file.

Loads the configuration, applies defaults and environment overrides,
and reports any validation errors.

Examples:
  # Validate default config
  opsim config validate

  # Validate specific config file
  opsim config validate --config /etc/opsim/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Profile:      %s\n", cfg.Simulator.Profile)
	fmt.Printf("  API port:     %d\n", cfg.APIPort)
	fmt.Printf("  Classic port: %d\n", cfg.Simulator.ClassicPort)
	fmt.Printf("  Actor port:   %d\n", cfg.Simulator.ActorPort)
	fmt.Printf("  Viewer port:  %d\n", cfg.Simulator.ViewerPort)
	fmt.Printf("  Persistence:  %t\n", cfg.Simulator.Persist)

	return nil
}
