// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// LoadOptions controls how configs are loaded.
type LoadOptions struct {
	// AllowUnknownFields ignores unknown HCL fields (useful for forward compat).
	AllowUnknownFields bool
}

// DefaultLoadOptions returns sensible defaults for loading configs.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{AllowUnknownFields: false}
}

// LoadResult contains the loaded config and metadata about the load.
type LoadResult struct {
	Config   *Config
	Warnings []string
}

// LoadFile loads a config file (HCL or JSON) from disk.
func LoadFile(path string) (*Config, error) {
	result, err := LoadFileWithOptions(path, DefaultLoadOptions())
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadFileWithOptions loads a config file with explicit options.
func LoadFileWithOptions(path string, opts LoadOptions) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadJSONWithOptions(data, opts)
	default:
		return LoadHCLWithOptions(data, path, opts)
	}
}

// LoadHCL loads config from HCL bytes.
func LoadHCL(data []byte, filename string) (*Config, error) {
	result, err := LoadHCLWithOptions(data, filename, DefaultLoadOptions())
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadHCLWithOptions loads config from HCL bytes with options.
func LoadHCLWithOptions(data []byte, filename string, opts LoadOptions) (*LoadResult, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL: %w", diags)
	}

	cfg := &Config{SchemaVersion: CurrentSchemaVersion}
	diags = gohcl.DecodeBody(file.Body, nil, cfg)
	if diags.HasErrors() && !opts.AllowUnknownFields {
		for _, diag := range diags {
			if diag.Severity == hcl.DiagError {
				return nil, fmt.Errorf("failed to decode HCL: %w", diags)
			}
		}
	}

	if cfg.Tethering == nil {
		cfg.Tethering = DefaultTethering()
	}
	return &LoadResult{Config: cfg}, nil
}

// LoadJSON loads config from JSON bytes.
func LoadJSON(data []byte) (*Config, error) {
	result, err := LoadJSONWithOptions(data, DefaultLoadOptions())
	if err != nil {
		return nil, err
	}
	return result.Config, nil
}

// LoadJSONWithOptions loads config from JSON bytes with options.
func LoadJSONWithOptions(data []byte, _ LoadOptions) (*LoadResult, error) {
	cfg := &Config{SchemaVersion: CurrentSchemaVersion}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if cfg.Tethering == nil {
		cfg.Tethering = DefaultTethering()
	}
	return &LoadResult{Config: cfg}, nil
}

// SaveFile saves a config file as JSON, whatever its extension.
func SaveFile(cfg *Config, path string) error {
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		return SaveJSON(cfg, path)
	}
	return SaveJSON(cfg, path)
}

// SaveJSON saves config as JSON.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
