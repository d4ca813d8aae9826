package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for errors.
//
// Struct tags handle range and enum checks; the cross-field rules that
// tags cannot express are checked explicitly afterwards.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// The three protocol listeners and the API share one host, so the
	// ports have to be distinct.
	ports := map[int]string{cfg.APIPort: "api_port"}
	for _, p := range []struct {
		port int
		name string
	}{
		{cfg.Simulator.ClassicPort, "simulator.classic_port"},
		{cfg.Simulator.ActorPort, "simulator.actor_port"},
		{cfg.Simulator.ViewerPort, "simulator.viewer_port"},
	} {
		if other, taken := ports[p.port]; taken {
			return fmt.Errorf("port %d is assigned to both %s and %s", p.port, other, p.name)
		}
		ports[p.port] = p.name
	}

	if cfg.Simulator.Persist && cfg.Simulator.DBPath == "" {
		return fmt.Errorf("simulator.db_path is required when persistence is enabled")
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}

	return nil
}
