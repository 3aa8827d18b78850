package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yosuke-furukawa/json5/encoding/json5"
)

const includeKey = "$include"

// Load merges, in order: built-in defaults, the user config file, the
// project config file, then environment overrides (COWORK_LISTEN,
// COWORK_DATA_DIR). Missing files are not errors.
func Load(workdir string) (*Config, error) {
	cfg := Default()

	layers := []string{}
	if root := UserRoot(); root != "" {
		layers = append(layers, filepath.Join(root, "config.json"))
	}
	layers = append(layers, filepath.Join(ProjectRoot(workdir), ".agent", "config.json"))

	for _, path := range layers {
		doc, err := loadFile(path, map[string]bool{})
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
		if err := applyLayer(cfg, doc); err != nil {
			return nil, fmt.Errorf("config: apply %s: %w", path, err)
		}
	}

	if v := os.Getenv("COWORK_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("COWORK_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	return cfg, nil
}

// loadFile parses one JSON5 document and resolves $include directives
// relative to the file's directory. seen guards against include cycles.
func loadFile(path string, seen map[string]bool) (map[string]json.RawMessage, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[abs] {
		return nil, fmt.Errorf("include cycle at %s", abs)
	}
	seen[abs] = true

	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	var doc map[string]json.RawMessage
	if err := json5.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	inc, ok := doc[includeKey]
	if !ok {
		return doc, nil
	}
	delete(doc, includeKey)

	var includes []string
	var single string
	if err := json.Unmarshal(inc, &includes); err != nil {
		if err := json.Unmarshal(inc, &single); err != nil {
			return nil, fmt.Errorf("%s must be a string or array of strings", includeKey)
		}
		includes = []string{single}
	}

	// Included documents are a base layer; the including file wins.
	merged := map[string]json.RawMessage{}
	for _, rel := range includes {
		child, err := loadFile(filepath.Join(filepath.Dir(abs), rel), seen)
		if err != nil {
			return nil, err
		}
		for k, v := range child {
			merged[k] = v
		}
	}
	for k, v := range doc {
		merged[k] = v
	}
	return merged, nil
}

func applyLayer(cfg *Config, doc map[string]json.RawMessage) error {
	buf, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, cfg)
}
