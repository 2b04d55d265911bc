package pass

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bnema/possync/internal/domain"
	"github.com/bnema/possync/internal/ports"
)

const (
	DefaultNamespace = "possync"
	entryName        = "session"
	notFoundMarker   = "is not in the password store"
)

var ErrUnavailable = errors.New("pass command unavailable")

type runFunc func(ctx context.Context, input string, args ...string) (stdout string, stderr string, err error)

// Store keeps the session as a single pass(1) entry, one "key: value" line per
// stored field, so `pass show possync/session` prints the whole session.
type Store struct {
	run       runFunc
	namespace string
	mu        sync.Mutex
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{run: runPassCommand, namespace: namespace}
}

func (s *Store) Entry() string {
	return path.Join(s.namespace, entryName)
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateField(key, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fields, err := s.load(ctx)
	if err != nil {
		return err
	}
	if current, ok := fields[key]; ok && current == value {
		return nil
	}
	fields[key] = value

	return s.save(ctx, fields)
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fields, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	value, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("pass get %q field %q: %w", s.Entry(), key, domain.ErrSecretNotFound)
	}
	return value, nil
}

// Delete drops the field and removes the entry once no field is left.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fields, err := s.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := fields[key]; !ok {
		return nil
	}
	delete(fields, key)

	if len(fields) > 0 {
		return s.save(ctx, fields)
	}

	_, stderr, err := s.run(ctx, "", "rm", "-f", s.Entry())
	if err != nil && !strings.Contains(stderr, notFoundMarker) {
		return formatError("delete", s.Entry(), err, stderr)
	}
	return nil
}

func (s *Store) load(ctx context.Context) (map[string]string, error) {
	stdout, stderr, err := s.run(ctx, "", "show", s.Entry())
	if err != nil {
		if strings.Contains(stderr, notFoundMarker) {
			return map[string]string{}, nil
		}
		return nil, formatError("get", s.Entry(), err, stderr)
	}
	return parseEntry(stdout), nil
}

func (s *Store) save(ctx context.Context, fields map[string]string) error {
	_, stderr, err := s.run(ctx, renderEntry(fields), "insert", "-m", "-f", s.Entry())
	if err != nil {
		return formatError("put", s.Entry(), err, stderr)
	}
	return nil
}

func parseEntry(raw string) map[string]string {
	fields := map[string]string{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		key, value, ok := strings.Cut(line, ": ")
		if !ok || key == "" {
			continue
		}
		fields[key] = value
	}
	return fields
}

func renderEntry(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(fields[key])
		b.WriteByte('\n')
	}
	return b.String()
}

func validateField(key, value string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return errors.New("session key is empty")
	case strings.ContainsAny(key, ":\r\n"):
		return fmt.Errorf("invalid session key %q", key)
	case strings.ContainsAny(value, "\r\n"):
		return fmt.Errorf("session value for %q spans lines", key)
	}
	return nil
}

func runPassCommand(ctx context.Context, input string, args ...string) (string, string, error) {
	binary, err := exec.LookPath("pass")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", "", ErrUnavailable
		}
		return "", "", fmt.Errorf("locate pass command: %w", err)
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	return stdout.String(), strings.TrimSpace(stderr.String()), err
}

func formatError(op string, entry string, err error, stderr string) error {
	if stderr == "" {
		return fmt.Errorf("pass %s %q: %w", op, entry, err)
	}

	return fmt.Errorf("pass %s %q: %w: %s", op, entry, err, stderr)
}
