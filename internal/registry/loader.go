// Package registry loads identity rosters from disk so a daemon can come up
// with known faces already registered.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"facestreamd/pkg/types"
)

// LoadDir scans a directory for *.json and *.yaml identity files and returns
// the identities they hold. Each file carries either a single identity object
// or a list of them. Files with other extensions are skipped.
func LoadDir(dir string) ([]types.Identity, error) {
	base, err := expandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var roster []types.Identity
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ids, ok, err := loadFile(filepath.Join(abs, e.Name()))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		roster = append(roster, ids...)
	}
	return roster, nil
}

// loadFile parses one roster file; ok is false for unrecognized extensions.
func loadFile(path string) ([]types.Identity, bool, error) {
	var unmarshal func([]byte, interface{}) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		unmarshal = json.Unmarshal
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	default:
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var many []types.Identity
	if err := unmarshal(data, &many); err != nil {
		var one types.Identity
		if err2 := unmarshal(data, &one); err2 != nil {
			return nil, false, fmt.Errorf("parse %s: %w", path, err)
		}
		many = []types.Identity{one}
	}
	for _, id := range many {
		if id.Name == "" {
			return nil, false, fmt.Errorf("parse %s: identity without a name", path)
		}
		if len(id.Embedding) == 0 {
			return nil, false, fmt.Errorf("parse %s: identity %q has no embedding", path, id.Name)
		}
	}
	return many, true, nil
}

// expandHome expands a leading '~' to the user's home directory so roster
// paths like ~/faces work from config files.
func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
