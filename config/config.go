// Package config loads tool configuration from a YAML document with
// environment-variable overrides applied on top.
package config

import (
	"errors"
	"fmt"
	"os"

	env "github.com/Netflix/go-env"
	"gopkg.in/yaml.v2"
)

// ConfigEnv names the environment variable that may carry an inline YAML
// document instead of a file path argument.
const ConfigEnv = "config"

// Load fills out from the inline YAML in $config if set, otherwise from
// the file named by the first program argument.
func Load(out interface{}) error {
	if doc := os.Getenv(ConfigEnv); doc != "" {
		return LoadString(doc, out)
	}
	if len(os.Args) > 1 {
		return LoadFile(os.Args[1], out)
	}
	return errors.New("no configuration: set $config or pass a config file path")
}

// LoadFile fills out from the YAML file at path.
func LoadFile(path string, out interface{}) error {
	doc, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return load(doc, out)
}

// LoadString fills out from an inline YAML document.
func LoadString(doc string, out interface{}) error {
	return load([]byte(doc), out)
}

func load(doc []byte, out interface{}) error {
	if err := yaml.Unmarshal(doc, out); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if _, err := env.UnmarshalFromEnviron(out); err != nil {
		return fmt.Errorf("apply environment overrides: %w", err)
	}
	return nil
}
