package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// staticRenderersFile is the on-disk shape for STATIC_RENDERERS_FILE: a
// seed list of IPs for renderers that don't reliably answer multicast
// M-SEARCH on some networks, kept separate from STATIC_RENDERER_IPS so
// a long list doesn't have to live in an environment variable.
type staticRenderersFile struct {
	Renderers []string `yaml:"renderers"`
}

// loadStaticRenderersFile reads and parses path, returning its
// renderers list. An empty path is a no-op.
func loadStaticRenderersFile(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: static renderers file %s: %w", path, err)
	}
	var doc staticRenderersFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: static renderers file %s: %w", path, err)
	}
	return doc.Renderers, nil
}
