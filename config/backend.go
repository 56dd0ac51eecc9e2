package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/docker/libtrust"
	"gopkg.in/yaml.v3"

	"github.com/workload-auth/cred/cred"
	"github.com/workload-auth/cred/cred/backend/blake2"
	jwtsig "github.com/workload-auth/cred/cred/backend/jwt"
)

// Backend is the configuration for a cred.Backend.
type Backend struct {
	Config BackendFactory
}

func (c *Backend) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig rawConfig

	err := value.Decode(&rawConfig)
	if err != nil {
		return err
	}

	var config BackendFactory

	switch rawConfig.Type {
	case "jwt":
		var factory jwtBackend

		err := decode(rawConfig.Config, &factory)
		if err != nil {
			return err
		}

		config = factory

	case "blake2":
		var factory blake2Backend

		err := decode(rawConfig.Config, &factory)
		if err != nil {
			return err
		}

		config = factory

	default:
		return fmt.Errorf("unknown backend type: %s", rawConfig.Type)
	}

	c.Config = config

	return nil
}

// BackendFactory creates a new cred.Backend.
type BackendFactory interface {
	CreateBackend() (cred.Backend, error)
	Validate() error
}

type jwtBackend struct {
	PrivateKeyFile string `mapstructure:"privateKeyFile"`
}

func (c jwtBackend) CreateBackend() (cred.Backend, error) {
	signingKey, err := libtrust.LoadKeyFile(c.PrivateKeyFile)
	if err != nil {
		return nil, err
	}

	signer, err := jwtsig.New(signingKey)
	if err != nil {
		return nil, err
	}

	return cred.NewSignerBackend(signer), nil
}

func (c jwtBackend) Validate() error {
	if c.PrivateKeyFile == "" {
		return fmt.Errorf("backend: jwt: privateKeyFile is required")
	}

	return nil
}

type blake2Backend struct {
	KeyFile string `mapstructure:"keyFile"`
}

func (c blake2Backend) CreateBackend() (cred.Backend, error) {
	raw, err := os.ReadFile(c.KeyFile)
	if err != nil {
		return nil, err
	}

	signer, err := blake2.New([]byte(strings.TrimSpace(string(raw))))
	if err != nil {
		return nil, err
	}

	return cred.NewSignerBackend(signer), nil
}

func (c blake2Backend) Validate() error {
	if c.KeyFile == "" {
		return fmt.Errorf("backend: blake2: keyFile is required")
	}

	return nil
}
