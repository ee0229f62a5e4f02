package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// validate is a package-level singleton; building a validator is expensive.
var validate = validator.New()

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
}

// Load reads, decodes and validates the file at path. Relative guest paths
// are resolved against the file's directory.
func Load(path string) (Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	if g := cfg.Runtime.Guest; g != nil && g.Path != "" && !filepath.IsAbs(g.Path) {
		g.Path = filepath.Join(filepath.Dir(path), g.Path)
	}
	return cfg, nil
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte, format Format) (Config, error) {
	cfg := Default()
	if err := decode(data, format, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Document decodes data into a generic tree with JSON value types, for
// schema validation.
func Document(data []byte, format Format) (any, error) {
	var raw any
	if err := decode(data, format, &raw); err != nil {
		return nil, err
	}
	// TOML integers and YAML maps are normalized through JSON.
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	return doc, nil
}

func decode(data []byte, format Format, dst any) error {
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("decode yaml: %w", err)
		}
	case FormatTOML:
		if m, ok := dst.(*any); ok {
			var tree map[string]any
			if _, err := toml.Decode(string(data), &tree); err != nil {
				return fmt.Errorf("decode toml: %w", err)
			}
			*m = tree
			return nil
		}
		if _, err := toml.Decode(string(data), dst); err != nil {
			return fmt.Errorf("decode toml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(dst); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
	return nil
}

// Validate checks the struct tags of c.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config validation failed: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config validation failed: %s: %w", strings.Join(msgs, "; "), err)
}
