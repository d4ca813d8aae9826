package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/opsim/internal/logger"
	"github.com/marmos91/opsim/pkg/catalog"
	"github.com/marmos91/opsim/pkg/config"
	"github.com/marmos91/opsim/pkg/scenario"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// loadCatalog loads the MID catalog and controller profiles, either from the
// embedded defaults or from the configured data directory.
func loadCatalog(cfg *config.SimulatorConfig) (*catalog.Catalog, *catalog.ProfileStore, error) {
	if cfg.DataDir == "" {
		cat, err := catalog.LoadDefault()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load MID catalog: %w", err)
		}
		profiles, err := catalog.LoadDefaultProfiles(cfg.Profile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load profiles: %w", err)
		}
		return cat, profiles, nil
	}

	cat, err := catalog.LoadFile(filepath.Join(cfg.DataDir, "mid_catalog.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load MID catalog from %s: %w", cfg.DataDir, err)
	}
	profiles, err := catalog.LoadProfilesDir(filepath.Join(cfg.DataDir, "profiles"), cfg.Profile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load profiles from %s: %w", cfg.DataDir, err)
	}
	return cat, profiles, nil
}

// loadScenarios loads the scenario library, either from the embedded defaults
// or from the configured scenario file.
func loadScenarios(cfg *config.SimulatorConfig) (*scenario.Library, error) {
	if cfg.ScenarioFile != "" {
		lib, err := scenario.LoadFile(cfg.ScenarioFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load scenarios from %s: %w", cfg.ScenarioFile, err)
		}
		return lib, nil
	}
	return scenario.LoadDefault()
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if _, err := os.Stat(config.GetDefaultConfigPath()); err == nil {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
