package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
)

const (
	RecordName = "session.json"

	storeDirMode  = 0o700
	recordMode    = 0o600
	tempPattern   = ".session-*.tmp"
	recordVersion = 1
)

// Store keeps the whole session as one JSON record under dir. Every write
// rewrites the record through a temp file and rename, so readers see either
// the old session or the new one.
type Store struct {
	dir string
	mu  sync.Mutex
}

var _ ports.SecretStore = (*Store)(nil)

type record struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
}

func NewStore(dir string) *Store {
	return &Store{dir: filepath.Clean(dir)}
}

func (s *Store) Path() string {
	return filepath.Join(s.dir, RecordName)
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read()
	if err != nil {
		return err
	}
	if current, ok := rec.Values[key]; ok && current == value {
		return nil
	}
	rec.Values[key] = value

	return s.write(rec)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateKey(key); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read()
	if err != nil {
		return "", err
	}
	value, ok := rec.Values[key]
	if !ok {
		return "", fmt.Errorf("session file %q: %w", key, domain.ErrSecretNotFound)
	}
	return value, nil
}

// Delete drops key from the record and removes the file once the record is
// empty, so logout leaves nothing behind.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := rec.Values[key]; !ok {
		return nil
	}
	delete(rec.Values, key)

	if len(rec.Values) == 0 {
		if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove session file: %w", err)
		}
		return nil
	}
	return s.write(rec)
}

// Keys lists the stored keys in order.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(rec.Values))
	for key := range rec.Values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) read() (record, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return record{Version: recordVersion, Values: map[string]string{}}, nil
		}
		return record{}, fmt.Errorf("read session file: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("decode session file %s: %w", s.Path(), err)
	}
	if rec.Version != recordVersion {
		return record{}, fmt.Errorf("session file %s: unsupported version %d", s.Path(), rec.Version)
	}
	if rec.Values == nil {
		rec.Values = map[string]string{}
	}
	return rec, nil
}

func (s *Store) write(rec record) error {
	if err := os.MkdirAll(s.dir, storeDirMode); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}

	tempFile, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tempName := tempFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tempName)
		}
	}()

	if err := tempFile.Chmod(recordMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp session file: %w", err)
	}
	if _, err := tempFile.Write(encoded); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp session file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp session file: %w", err)
	}
	if err := os.Rename(tempName, s.Path()); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	committed = true

	return nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("session key is empty")
	}
	if key != strings.TrimSpace(key) {
		return fmt.Errorf("invalid session key %q", key)
	}
	return nil
}
