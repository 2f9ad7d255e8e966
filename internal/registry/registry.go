// Package registry loads the set of conversations the bridge is allowed to
// deliver from. Conversations outside the registry only ever surface
// discovery notifications.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"slackbridge/internal/domain"
)

// registryFile is the on-disk shape of one registry YAML file.
type registryFile struct {
	Conversations []conversationEntry `yaml:"conversations"`
}

type conversationEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// FileRegistry implements domain.Registry backed by a directory of YAML
// files. Files are merged; later files win on duplicate ids.
type FileRegistry struct {
	mu      sync.RWMutex
	entries map[string]domain.ConversationConfig
	logger  *slog.Logger
}

// LoadFromDirectory reads every .yaml/.yml file in dir. A missing directory
// yields an empty registry; a malformed file is logged and skipped so one
// bad file never takes the bridge down.
func LoadFromDirectory(dir string, logger *slog.Logger) (*FileRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &FileRegistry{
		entries: make(map[string]domain.ConversationConfig),
		logger:  logger,
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("registry directory missing, starting empty", "dir", dir)
			return r, nil
		}
		return nil, fmt.Errorf("cannot read registry directory %s: %w", dir, err)
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, f.Name())
		if err := r.loadFile(path); err != nil {
			logger.Warn("skipping registry file", "file", f.Name(), "err", err)
		}
	}

	logger.Info("registry loaded", "dir", dir, "conversations", len(r.entries))
	return r, nil
}

func (r *FileRegistry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}
	for _, e := range rf.Conversations {
		if e.ID == "" {
			r.logger.Warn("registry entry without id ignored", "file", filepath.Base(path))
			continue
		}
		r.entries[e.ID] = domain.ConversationConfig{Name: e.Name}
	}
	return nil
}

// Registered returns a copy of the registered conversation set.
func (r *FileRegistry) Registered() map[string]domain.ConversationConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.ConversationConfig, len(r.entries))
	for id, cfg := range r.entries {
		out[id] = cfg
	}
	return out
}

// Register adds or replaces a conversation at runtime.
func (r *FileRegistry) Register(id string, cfg domain.ConversationConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = cfg
}
