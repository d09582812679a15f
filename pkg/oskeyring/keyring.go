// Package oskeyring keeps the GitLab access token in the operating system keyring.
package oskeyring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	keyringlib "github.com/zalando/go-keyring"
)

const (
	DefaultService = "glconnect"
	DefaultAccount = "gitlab_token"
)

// ErrNotFound is returned when no secret is stored for the service/account pair.
var ErrNotFound = errors.New("secret not found in keyring")

// Backend is the raw keyring. The system implementation uses zalando/go-keyring.
type Backend interface {
	Get(service, account string) (string, error)
	Set(service, account, secret string) error
	Delete(service, account string) error
}

type systemBackend struct{}

func (systemBackend) Get(service, account string) (string, error) {
	secret, err := keyringlib.Get(service, account)
	if err != nil {
		if errors.Is(err, keyringlib.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read OS keyring: %w", err)
	}
	return secret, nil
}

func (systemBackend) Set(service, account, secret string) error {
	return keyringlib.Set(service, account, secret)
}

func (systemBackend) Delete(service, account string) error {
	err := keyringlib.Delete(service, account)
	if errors.Is(err, keyringlib.ErrNotFound) {
		return nil
	}
	return err
}

// TokenStore persists a single access token under one keyring entry.
type TokenStore struct {
	backend Backend
	service string
	account string
}

type Option func(*TokenStore)

func WithBackend(b Backend) Option {
	return func(s *TokenStore) { s.backend = b }
}

// WithEntry overrides the keyring service and account names.
func WithEntry(service, account string) Option {
	return func(s *TokenStore) {
		s.service = service
		s.account = account
	}
}

func NewTokenStore(opts ...Option) *TokenStore {
	s := &TokenStore{backend: systemBackend{}, service: DefaultService, account: DefaultAccount}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Token returns the stored token, or "" when none is stored.
func (s *TokenStore) Token(_ context.Context) (string, error) {
	tok, err := s.backend.Get(s.service, s.account)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return tok, err
}

func (s *TokenStore) SetToken(_ context.Context, token string) error {
	if err := s.backend.Set(s.service, s.account, token); err != nil {
		return fmt.Errorf("store token in keyring: %w", err)
	}
	return nil
}

func (s *TokenStore) DeleteToken(_ context.Context) error {
	if err := s.backend.Delete(s.service, s.account); err != nil {
		return fmt.Errorf("delete token from keyring: %w", err)
	}
	return nil
}

// MemoryBackend keeps secrets in a map. Used in tests and when no keyring is available.
type MemoryBackend struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{secrets: make(map[string]string)}
}

func (m *MemoryBackend) Get(service, account string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	secret, ok := m.secrets[service+"/"+account]
	if !ok {
		return "", ErrNotFound
	}
	return secret, nil
}

func (m *MemoryBackend) Set(service, account, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[service+"/"+account] = secret
	return nil
}

func (m *MemoryBackend) Delete(service, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, service+"/"+account)
	return nil
}

var (
	_ Backend = systemBackend{}
	_ Backend = (*MemoryBackend)(nil)
)
