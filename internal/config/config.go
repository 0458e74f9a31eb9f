// Package config owns the JSON-backed configuration and preference
// stores: validated load, deep-merged partial updates, identity
// bootstrap, and live reload on external edits.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ServerConfig is the HTTP listen address.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NotificationsConfig controls push delivery.
type NotificationsConfig struct {
	Enabled         bool   `json:"enabled"`
	PushSubject     string `json:"pushSubject,omitempty"`
	VapidPublicKey  string `json:"vapidPublicKey,omitempty"`
	VapidPrivateKey string `json:"vapidPrivateKey,omitempty"`
	NtfyURL         string `json:"ntfyUrl,omitempty"`
}

// InterfaceConfig holds user-interface preferences that live in the
// main config document.
type InterfaceConfig struct {
	ColorScheme   string              `json:"colorScheme"`
	Language      string              `json:"language"`
	Notifications NotificationsConfig `json:"notifications"`
}

// Config is the typed view of config.json. Unknown top-level keys
// (router rules among them) are preserved verbatim by the Store and
// are not represented here.
type Config struct {
	MachineID       string          `json:"machine_id"`
	AuthToken       string          `json:"auth_token"`
	Server          ServerConfig    `json:"server"`
	ProjectsDir     string          `json:"projectsDir,omitempty"`
	VCSProbeCommand string          `json:"vcsProbeCommand,omitempty"`
	Interface       InterfaceConfig `json:"interface"`
}

// defaults returns the optional sections applied under a loaded
// document. Identity is filled by bootstrap.
func defaults() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"host": "127.0.0.1",
			"port": float64(3001),
		},
		"interface": map[string]any{
			"colorScheme": "system",
			"language":    "en",
			"notifications": map[string]any{
				"enabled": false,
			},
		},
	}
}

// Validate checks the required fields.
func (c Config) Validate() error {
	if c.MachineID == "" {
		return fmt.Errorf("machine_id is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("auth_token is required")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

// decodeConfig converts a raw document into its typed view.
func decodeConfig(raw map[string]any) (Config, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return Config{}, fmt.Errorf("encoding config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// writeDocument writes a JSON document through an atomic replace.
func writeDocument(path string, doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", filepath.Base(path), err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// readDocument reads a JSON document; a missing file yields an
// empty document.
func readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}
