package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	models "conversa/internal/domain/models/discussion"
)

// LoadBootstrap reads the payload that seeds the current user and the
// preferences. Files ending in .json are decoded as JSON, anything else as YAML.
func LoadBootstrap(path string) (*models.Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap: %w", err)
	}

	var b models.Bootstrap
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &b)
	default:
		err = yaml.Unmarshal(data, &b)
	}
	if err != nil {
		return nil, fmt.Errorf("decode bootstrap %s: %w", filepath.Base(path), err)
	}
	return &b, nil
}
