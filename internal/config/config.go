// Package config loads the layered server configuration: user root
// (~/.agent/config.json) first, then the project root (.agent/config.json),
// then environment overrides. Files are JSON5 and may pull in fragments via
// the $include directive.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Config is the merged server configuration.
type Config struct {
	// Listen is the websocket/HTTP listen address.
	Listen string `json:"listen"`

	// DataDir holds the sqlite database and the ripgrep cache.
	// Default ~/.cowork.
	DataDir string `json:"dataDir"`

	DefaultProvider string `json:"defaultProvider"`
	DefaultModel    string `json:"defaultModel"`
	SubagentModel   string `json:"subagentModel"`
	SystemPrompt    string `json:"systemPrompt"`

	OutputDirectory  string `json:"outputDirectory"`
	UploadsDirectory string `json:"uploadsDirectory"`

	// DenyCommands are unconditionally prohibited shell commands, matched
	// by first token or by full literal command.
	DenyCommands []string `json:"denyCommands"`

	MaxSteps        int `json:"maxSteps"`
	SpawnDepthLimit int `json:"spawnDepthLimit"`

	// ShutdownGrace bounds the drain of active turns on shutdown.
	ShutdownGrace time.Duration `json:"-"`

	// ProviderOptions is forwarded opaquely to provider adapters, keyed by
	// provider tag.
	ProviderOptions map[string]json.RawMessage `json:"providerOptions"`
}

// Default returns the built-in configuration before any file or env layer.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Listen:          "127.0.0.1:8791",
		DataDir:         filepath.Join(home, ".cowork"),
		DefaultProvider: "google",
		DefaultModel:    "gemini-3-flash-preview",
		MaxSteps:        50,
		SpawnDepthLimit: 2,
		ShutdownGrace:   10 * time.Second,
	}
}

// UserRoot returns the per-user config root (~/.agent).
func UserRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".agent")
}

// ProjectRoot walks up from dir looking for a .agent directory and returns
// its parent. Returns dir itself when no .agent directory exists.
func ProjectRoot(dir string) string {
	cur := dir
	for {
		if info, err := os.Stat(filepath.Join(cur, ".agent")); err == nil && info.IsDir() {
			return cur
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return dir
		}
		cur = parent
	}
}
