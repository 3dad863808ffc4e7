package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/kreuzberg/kerr"
)

// EnvConfigPath names the environment variable Discover checks first.
const EnvConfigPath = "KREUZBERG_CONFIG"

// discoverNames are tried in order in each directory.
var discoverNames = []string{"kreuzberg.toml", "kreuzberg.yaml", "kreuzberg.yml", "kreuzberg.json"}

// FromFile loads a config file, choosing the decoder by extension (.toml,
// .yaml, .yml, .json). YAML and TOML documents are normalised through the
// JSON form so every format gets the same defaults and {} handling.
func FromFile(path string) (*ExtractionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kerr.IO(err, "config: read "+path)
	}

	var doc map[string]any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		cfg, err := Parse(data)
		if err != nil {
			return nil, kerr.Wrap(kerr.KindValidation, err, "config: parse "+path)
		}
		return cfg, nil
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, kerr.Wrap(kerr.KindValidation, err, "config: parse "+path)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, kerr.Wrap(kerr.KindValidation, err, "config: parse "+path)
		}
	default:
		return nil, kerr.Validation("config: unsupported config file extension %q (want .toml, .yaml, .yml or .json)", ext)
	}

	normalised, err := json.Marshal(doc)
	if err != nil {
		return nil, kerr.Wrap(kerr.KindValidation, err, "config: normalise "+path)
	}
	if doc == nil {
		normalised = nil
	}
	cfg, err := Parse(normalised)
	if err != nil {
		return nil, kerr.Wrap(kerr.KindValidation, err, "config: decode "+path)
	}
	return cfg, nil
}

// Discover looks for a config file named by KREUZBERG_CONFIG, then for
// kreuzberg.{toml,yaml,yml,json} in the working directory and each parent.
// It returns (nil, nil) when nothing is found.
func Discover() (*ExtractionConfig, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return FromFile(p)
	}
	dir, err := os.Getwd()
	if err != nil {
		return nil, kerr.IO(err, "config: getwd")
	}
	return discoverFrom(dir)
}

func discoverFrom(dir string) (*ExtractionConfig, error) {
	for {
		for _, name := range discoverNames {
			p := filepath.Join(dir, name)
			info, err := os.Stat(p)
			if err == nil && !info.IsDir() {
				return FromFile(p)
			}
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, kerr.IO(err, fmt.Sprintf("config: stat %s", p))
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}
