// Package config loads engine configuration from YAML files, layering the
// file's values over the engine defaults and validating the result.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/evolvekit/evolvekit/pkg/errors"
	"github.com/evolvekit/evolvekit/pkg/evolve"
)

// Load reads a YAML configuration file. Keys absent from the file keep
// their default values; the merged configuration is validated before it
// is returned.
func Load(path string) (evolve.Config, error) {
	cfg := evolve.DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, errors.WithFields(
				errors.Wrap(err, errors.ResourceNotFound, "configuration file not found"),
				errors.Fields{"path": path})
		}
		return cfg, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to read configuration file"),
			errors.Fields{"path": path})
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to parse configuration file"),
			errors.Fields{"path": path})
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes a configuration back to disk as YAML, e.g. to snapshot the
// effective settings of a run next to its results.
func Save(path string, cfg evolve.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to serialize configuration")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to write configuration file"),
			errors.Fields{"path": path})
	}
	return nil
}
