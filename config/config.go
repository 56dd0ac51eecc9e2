// Package config loads the credential subsystem's configuration: the
// signing backend selection and the policy strings the manager parses.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Config collects all configuration options.
type Config struct {
	// AuthInfo may contain a "cred_expire=<seconds>" token.
	AuthInfo string `yaml:"authInfo"`

	// LaunchParameters may contain "enable_nss_slurm" or
	// "disable_send_gids".
	LaunchParameters string `yaml:"launchParameters"`

	Backend Backend `yaml:"backend"`
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Backend.Config == nil {
		return fmt.Errorf("backend is required")
	}

	return c.Backend.Config.Validate()
}

// rawConfig is a general struct to be used by other config structs to
// unmarshal yaml config first.
type rawConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}

func decode(input map[string]interface{}, output interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: output,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}
