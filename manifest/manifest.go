// Package manifest handles dgml.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a dgml.toml project configuration.
type Manifest struct {
	Project Project    `toml:"project"`
	Bundle  Bundle     `toml:"bundle"`
	Play    PlayConfig `toml:"play"`
	Env     EnvConfig  `toml:"env"`

	// Dir is the directory containing the dgml.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Bundle configures the compiled bundle location.
type Bundle struct {
	Path string `toml:"path"`
}

// PlayConfig carries defaults for the interactive player.
type PlayConfig struct {
	Section  string `toml:"section"`
	Node     string `toml:"node"`
	Seed     uint64 `toml:"seed"`
	MaxSteps int    `toml:"max-steps"`
}

// EnvConfig configures environment persistence.
type EnvConfig struct {
	Store string `toml:"store"` // SQLite database path
	Slot  string `toml:"slot"`
}

// Load parses a dgml.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "dgml.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Bundle.Path == "" {
		m.Bundle.Path = m.Project.Name + ".dgmlb"
	}
	if m.Play.Section == "" {
		m.Play.Section = "main"
	}
	if m.Env.Slot == "" {
		m.Env.Slot = "default"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a dgml.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "dgml.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// BundlePath returns the absolute path of the compiled bundle.
func (m *Manifest) BundlePath() string {
	return filepath.Join(m.Dir, m.Bundle.Path)
}

// EnvStorePath returns the absolute path of the environment store, or "" if
// persistence is not configured.
func (m *Manifest) EnvStorePath() string {
	if m.Env.Store == "" {
		return ""
	}
	return filepath.Join(m.Dir, m.Env.Store)
}
