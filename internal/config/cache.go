package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileCache memoizes parsed YAML files by absolute path. It belongs to
// whoever created it; nothing is shared process-wide.
type FileCache struct {
	mu      sync.Mutex
	entries map[string]any
}

func NewFileCache() *FileCache {
	return &FileCache{entries: map[string]any{}}
}

// loadYAML decodes path into a T, reusing an earlier decode of the same
// absolute path. Missing files return fs.ErrNotExist wrapped.
func loadYAML[T any](c *FileCache, path string) (*T, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if c != nil {
		c.mu.Lock()
		cached, ok := c.entries[abs]
		c.mu.Unlock()
		if ok {
			if v, ok := cached.(*T); ok {
				return v, nil
			}
		}
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", abs, fs.ErrNotExist)
		}
		return nil, err
	}
	v := new(T)
	if err := yaml.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", abs, err)
	}

	if c != nil {
		c.mu.Lock()
		c.entries[abs] = v
		c.mu.Unlock()
	}
	return v, nil
}
