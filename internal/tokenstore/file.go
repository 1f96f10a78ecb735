package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aetherfit/aetherfit-front/internal/crypto"
	"github.com/aetherfit/aetherfit-front/internal/log"
)

var _ Storage = (*FileStorage)(nil)

type fileEntry struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileStorage keeps every token in one JSON document on local disk. Values
// are encrypted and each write replaces the document with an atomic rename.
type FileStorage struct {
	path      string
	encryptor crypto.Encryptor

	mu      sync.Mutex
	entries map[string]fileEntry
	now     func() time.Time
}

// NewFileStorage opens or creates the token file at path.
func NewFileStorage(path string, encryptor crypto.Encryptor) (*FileStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}

	s := &FileStorage{
		path:      path,
		encryptor: encryptor,
		entries:   make(map[string]fileEntry),
		now:       time.Now,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating token directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("reading token file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &s.entries); err != nil {
			return nil, fmt.Errorf("parsing token file: %w", err)
		}
	}

	log.LogInfoWithFields("tokenstore", "File token storage opened", map[string]any{
		"path":    path,
		"entries": len(s.entries),
	})
	return s, nil
}

func (s *FileStorage) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return "", ErrNotFound
	}

	value, err := s.encryptor.Decrypt(e.Value)
	if err != nil {
		return "", fmt.Errorf("decrypting %s: %w", key, err)
	}
	return value, nil
}

func (s *FileStorage) Set(ctx context.Context, key, value string) error {
	sealed, err := s.encryptor.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypting %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.entries[key]
	s.entries[key] = fileEntry{Value: sealed, UpdatedAt: s.now()}
	if err := s.flushLocked(); err != nil {
		if had {
			s.entries[key] = prev
		} else {
			delete(s.entries, key)
		}
		return err
	}
	return nil
}

func (s *FileStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.entries[key]
	if !ok {
		return nil
	}
	delete(s.entries, key)
	if err := s.flushLocked(); err != nil {
		s.entries[key] = prev
		return err
	}
	return nil
}

func (s *FileStorage) Sweep(ctx context.Context, cutoff time.Time, keep func(string) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make(map[string]fileEntry)
	for k, e := range s.entries {
		if e.UpdatedAt.Before(cutoff) && (keep == nil || !keep(k)) {
			removed[k] = e
			delete(s.entries, k)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := s.flushLocked(); err != nil {
		for k, e := range removed {
			s.entries[k] = e
		}
		return 0, err
	}
	return len(removed), nil
}

func (s *FileStorage) Close() error {
	return nil
}

// flushLocked writes the document to a temp file in the same directory and
// renames it over the previous one.
func (s *FileStorage) flushLocked() error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encoding token file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tokens-*")
	if err != nil {
		return fmt.Errorf("creating temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}
