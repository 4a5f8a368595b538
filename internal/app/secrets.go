package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vk/flowgrid/internal/secrets"
)

// secretsDoc is the YAML shape of a secrets file:
//
//	repository:
//	  TOKEN: value
//	environments:
//	  production:
//	    TOKEN: value
type secretsDoc struct {
	Repository   map[string]string            `yaml:"repository"`
	Environments map[string]map[string]string `yaml:"environments"`
}

// loadSecrets reads a secrets file into a static resolver. An empty path
// yields an empty store.
func loadSecrets(path string) (*secrets.Static, error) {
	if path == "" {
		return &secrets.Static{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var doc secretsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", path, err)
	}
	return &secrets.Static{
		Repository:   doc.Repository,
		Environments: doc.Environments,
	}, nil
}
