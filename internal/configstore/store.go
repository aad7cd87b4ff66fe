// Package configstore reads versioned policy assets from an external
// configuration store. The orchestrator only ever reads; publishing and
// version management belong to the store itself.
package configstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Asset is one versioned configuration document.
type Asset struct {
	Name    string         `yaml:"name"`
	Version int            `yaml:"version"`
	Content map[string]any `yaml:"content"`
}

// Loader resolves a named policy asset. The boolean result distinguishes
// "store reachable but asset absent" from a load failure.
type Loader interface {
	LoadPolicyAsset(ctx context.Context, name string) (Asset, bool, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, name string) (Asset, bool, error)

func (f LoaderFunc) LoadPolicyAsset(ctx context.Context, name string) (Asset, bool, error) {
	return f(ctx, name)
}

// FileLoader serves assets from a directory of YAML files, one asset per
// file named <asset>.yaml. Assets are parsed once and memoized.
type FileLoader struct {
	dir string

	mu     sync.Mutex
	loaded map[string]Asset
}

func NewFileLoader(dir string) *FileLoader {
	return &FileLoader{
		dir:    dir,
		loaded: make(map[string]Asset),
	}
}

func (l *FileLoader) LoadPolicyAsset(ctx context.Context, name string) (Asset, bool, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, false, err
	}
	if strings.ContainsAny(name, `/\`) {
		return Asset{}, false, fmt.Errorf("invalid asset name %q", name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if asset, ok := l.loaded[name]; ok {
		return asset, true, nil
	}

	path := filepath.Join(l.dir, name+".yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Asset{}, false, nil
	}
	if err != nil {
		return Asset{}, false, fmt.Errorf("read asset %q: %w", name, err)
	}

	var asset Asset
	if err := yaml.Unmarshal(data, &asset); err != nil {
		return Asset{}, false, fmt.Errorf("parse asset %q: %w", name, err)
	}
	if asset.Name == "" {
		asset.Name = name
	}

	l.loaded[name] = asset
	return asset, true, nil
}

// Invalidate drops the memoized copy of name so the next load re-reads the
// file. Invalidating an unknown name is a no-op.
func (l *FileLoader) Invalidate(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.loaded, name)
}

// StaticLoader serves a fixed in-memory asset set. Used in tests and as a
// deterministic store for the development CLI.
type StaticLoader struct {
	Assets map[string]Asset
}

func (l *StaticLoader) LoadPolicyAsset(ctx context.Context, name string) (Asset, bool, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, false, err
	}
	asset, ok := l.Assets[name]
	return asset, ok, nil
}

var (
	_ Loader = (*FileLoader)(nil)
	_ Loader = (*StaticLoader)(nil)
)
