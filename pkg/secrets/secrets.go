// Package secrets is the channel through which provisioners hand connection
// strings to downstream services. Values are stored by name; the last write
// wins.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// ErrSecretNotFound is matched by every *SecretNotFoundError.
var ErrSecretNotFound = errors.New("secret not found")

// Store stores and retrieves named secrets.
type Store interface {
	SetSecret(ctx context.Context, name, value string) error
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretNotFoundError is returned when no secret exists under Name.
type SecretNotFoundError struct {
	Store string // Store identifier (e.g., vault name, "memory")
	Name  string
}

func (e *SecretNotFoundError) Error() string {
	return fmt.Sprintf("secret %q not found in %s", e.Name, e.Store)
}

func (e *SecretNotFoundError) Is(target error) bool {
	return target == ErrSecretNotFound
}

// AuthenticationError is returned when the store rejects our identity.
type AuthenticationError struct {
	Store string
	Err   error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication to %s failed: %v", e.Store, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) SetSecret(ctx context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}

func (m *Memory) GetSecret(ctx context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[name]
	if !ok {
		return "", &SecretNotFoundError{Store: "memory", Name: name}
	}
	return value, nil
}

// Secret is a written secret together with who wrote it.
type Secret struct {
	Name       string
	Value      string
	Provenance string // Provisioner that wrote the value
}

// Tracked wraps a Store and remembers which provisioner wrote each secret.
// Values are never logged.
type Tracked struct {
	store  Store
	logger hclog.Logger

	mu      sync.Mutex
	written map[string]Secret
}

func NewTracked(store Store, logger hclog.Logger) *Tracked {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Tracked{
		store:   store,
		logger:  logger.Named("secrets"),
		written: make(map[string]Secret),
	}
}

// For returns a Store that attributes its writes to provenance.
func (t *Tracked) For(provenance string) Store {
	return &attributed{tracked: t, provenance: provenance}
}

// SetSecret writes without provenance.
func (t *Tracked) SetSecret(ctx context.Context, name, value string) error {
	return t.set(ctx, name, value, "")
}

func (t *Tracked) GetSecret(ctx context.Context, name string) (string, error) {
	return t.store.GetSecret(ctx, name)
}

// Written returns every secret written through this store, sorted by name.
func (t *Tracked) Written() []Secret {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Secret, 0, len(t.written))
	for _, s := range t.written {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Provenance returns the provisioner that last wrote name.
func (t *Tracked) Provenance(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.written[name]
	return s.Provenance, ok
}

func (t *Tracked) set(ctx context.Context, name, value, provenance string) error {
	if err := t.store.SetSecret(ctx, name, value); err != nil {
		t.logger.Error("error setting secret", "name", name, "provenance", provenance, "error", err)
		return fmt.Errorf("error setting secret %q: %w", name, err)
	}

	t.mu.Lock()
	t.written[name] = Secret{Name: name, Value: value, Provenance: provenance}
	t.mu.Unlock()

	t.logger.Info("secret set", "name", name, "provenance", provenance)
	return nil
}

type attributed struct {
	tracked    *Tracked
	provenance string
}

func (a *attributed) SetSecret(ctx context.Context, name, value string) error {
	return a.tracked.set(ctx, name, value, a.provenance)
}

func (a *attributed) GetSecret(ctx context.Context, name string) (string, error) {
	return a.tracked.GetSecret(ctx, name)
}
