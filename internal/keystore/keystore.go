// Package keystore persists the generative API key and the anonymous user
// identity in a small TOML file outside the process.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Credentials is the on-disk document.
type Credentials struct {
	APIKey string `toml:"api_key"`
	UserID string `toml:"user_id"`
}

// File is a TOML-backed credential store. It implements studio.KeySource.
type File struct {
	path string
	ids  studio.IDGenerator
	mu   sync.Mutex
}

// Open resolves path (a leading ~ expands to the home directory). The file
// itself is created lazily on first write.
func Open(path string, ids studio.IDGenerator) (*File, error) {
	resolved, err := expandPath(path)
	if err != nil {
		return nil, err
	}
	return &File{path: resolved, ids: ids}, nil
}

// Path is the resolved file location.
func (f *File) Path() string {
	return f.path
}

// APIKey returns the stored key, or studio.ErrNoAPIKey when none is set.
func (f *File) APIKey(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, err := f.read()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(creds.APIKey) == "" {
		return "", studio.ErrNoAPIKey
	}
	return creds.APIKey, nil
}

// SetAPIKey stores key, replacing any previous one.
func (f *File) SetAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("api key is empty")
	}
	return f.update(func(c *Credentials) { c.APIKey = key })
}

// ClearAPIKey removes the stored key.
func (f *File) ClearAPIKey() error {
	return f.update(func(c *Credentials) { c.APIKey = "" })
}

// HasAPIKey reports whether a key is stored.
func (f *File) HasAPIKey() bool {
	_, err := f.APIKey(context.Background())
	return err == nil
}

// UserID returns the stable anonymous identity, creating and saving one on
// first use.
func (f *File) UserID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, err := f.read()
	if err != nil {
		return "", err
	}
	if creds.UserID != "" {
		return creds.UserID, nil
	}
	if f.ids == nil {
		return "", errors.New("no id generator configured")
	}
	id, err := f.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("new user id: %w", err)
	}
	creds.UserID = id
	if err := f.write(creds); err != nil {
		return "", err
	}
	return id, nil
}

func (f *File) update(fn func(*Credentials)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	creds, err := f.read()
	if err != nil {
		return err
	}
	fn(&creds)
	return f.write(creds)
}

func (f *File) read() (Credentials, error) {
	// #nosec G304 -- path is operator configuration.
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := toml.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	return creds, nil
}

func (f *File) write(creds Credentials) error {
	data, err := toml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
