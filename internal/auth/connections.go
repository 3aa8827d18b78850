// Package auth stores provider credentials in connections.json under the
// user's cowork directory, with a read-only fallback to the legacy
// ai-coworker location.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Connection is one stored provider credential.
type Connection struct {
	Provider  string    `json:"provider"`
	MethodID  string    `json:"methodId"`
	APIKey    string    `json:"apiKey,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type connectionsFile struct {
	Connections map[string]Connection `json:"connections"`
}

// Store reads and writes provider credentials. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	// legacyPath is read when path does not exist yet; never written.
	legacyPath string
}

// NewStore builds a store rooted at the user home directory.
func NewStore(home string) *Store {
	return &Store{
		path:       filepath.Join(home, ".cowork", "auth", "connections.json"),
		legacyPath: filepath.Join(home, ".ai-coworker", "config", "connections.json"),
	}
}

// Get returns the stored connection for a provider, if any.
func (s *Store) Get(provider string) (Connection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.load()
	if err != nil {
		return Connection{}, false, err
	}
	conn, ok := file.Connections[provider]
	return conn, ok, nil
}

// SetAPIKey stores an api_key credential for a provider.
func (s *Store) SetAPIKey(provider, methodID, apiKey string) error {
	if provider == "" || apiKey == "" {
		return fmt.Errorf("auth: provider and apiKey are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.load()
	if err != nil {
		return err
	}
	file.Connections[provider] = Connection{
		Provider:  provider,
		MethodID:  methodID,
		APIKey:    apiKey,
		UpdatedAt: time.Now().UTC(),
	}
	return s.save(file)
}

// Configured reports the providers with a stored credential.
func (s *Store) Configured() (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(file.Connections))
	for name := range file.Connections {
		out[name] = true
	}
	return out, nil
}

func (s *Store) load() (*connectionsFile, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		raw, err = os.ReadFile(s.legacyPath)
	}
	if os.IsNotExist(err) {
		return &connectionsFile{Connections: map[string]Connection{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: read connections: %w", err)
	}

	var file connectionsFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("auth: parse connections: %w", err)
	}
	if file.Connections == nil {
		file.Connections = map[string]Connection{}
	}
	return &file, nil
}

func (s *Store) save(file *connectionsFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("auth: create auth dir: %w", err)
	}
	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("auth: write connections: %w", err)
	}
	return os.Rename(tmp, s.path)
}
