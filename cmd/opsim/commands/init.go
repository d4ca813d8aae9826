package commands

import (
	"fmt"
	"os"

	"github.com/marmos91/opsim/internal/cli/prompt"
	"github.com/marmos91/opsim/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample opsim configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/opsim/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  opsim init

  # Initialize with custom path
  opsim init --config /etc/opsim/config.yaml

  # Force overwrite existing config
  opsim init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil {
		ok, err := prompt.ConfirmWithForce(
			fmt.Sprintf("Configuration file %s already exists. Overwrite?", configPath), initForce)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Start the simulator with: opsim start")
	fmt.Printf("  3. Or specify custom config: opsim start --config %s\n", configPath)

	return nil
}
