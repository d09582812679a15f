// Package session validates a GitLab personal access token and tracks the
// resulting identity.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mscno/glconnect/pkg/gitlab"
)

type State int

const (
	Unauthenticated State = iota
	Validating
	Authenticated
	Invalid
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Validating:
		return "validating"
	case Authenticated:
		return "authenticated"
	case Invalid:
		return "invalid"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrValidation   = errors.New("validation failed")
	ErrInvalidToken = errors.New("invalid GitLab token")
	// ErrStale is returned when a newer submission or a disconnect superseded the call.
	ErrStale = errors.New("superseded by a newer session change")
)

// TokenStore persists the token across runs. Token returns "" when none is stored.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	DeleteToken(ctx context.Context) error
}

// SnapshotStore is the imported-projects snapshot cleared on disconnect.
type SnapshotStore interface {
	ClearImportedProjects(ctx context.Context) error
}

type Options struct {
	Caller   gitlab.Caller
	Tokens   TokenStore
	Snapshot SnapshotStore
	Logger   *slog.Logger
}

type Manager struct {
	caller   gitlab.Caller
	tokens   TokenStore
	snapshot SnapshotStore
	logger   *slog.Logger

	mu      sync.Mutex
	gen     uint64
	state   State
	user    *gitlab.User
	token   string
	message string
}

func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		caller:   opts.Caller,
		tokens:   opts.Tokens,
		snapshot: opts.Snapshot,
		logger:   opts.Logger,
	}
}

// Submit validates token with one GET /user call. On success the token is
// saved and the user cached. On failure a previously valid session stays
// authenticated and only the message changes.
func (m *Manager) Submit(ctx context.Context, token string) (gitlab.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		m.mu.Lock()
		m.message = "Please enter a GitLab token"
		m.mu.Unlock()
		return gitlab.User{}, fmt.Errorf("%w: token is required", ErrValidation)
	}
	return m.validate(ctx, token, true)
}

// Restore validates the token saved by a previous run, if any.
func (m *Manager) Restore(ctx context.Context) (State, error) {
	if m.tokens == nil {
		return m.State(), nil
	}
	token, err := m.tokens.Token(ctx)
	if err != nil {
		return m.State(), fmt.Errorf("read saved token: %w", err)
	}
	if token == "" {
		return m.State(), nil
	}
	_, err = m.validate(ctx, token, false)
	return m.State(), err
}

func (m *Manager) validate(ctx context.Context, token string, save bool) (gitlab.User, error) {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.state = Validating
	m.message = ""
	m.mu.Unlock()

	m.logger.Debug("validating gitlab token")
	user, err := gitlab.CurrentUser(ctx, m.caller, token)
	if err == nil && !user.Valid() {
		err = errors.New("invalid user data received")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return gitlab.User{}, ErrStale
	}
	if err != nil {
		m.message = err.Error()
		if m.user != nil {
			m.state = Authenticated
			m.logger.Warn("token rejected, keeping previous session", "user", m.user.Username, "error", err)
		} else {
			m.state = Invalid
			m.logger.Info("token rejected", "error", err)
		}
		return gitlab.User{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if save && m.tokens != nil {
		if err := m.tokens.SetToken(ctx, token); err != nil {
			m.logger.Error("failed to save token", "error", err)
			m.message = fmt.Sprintf("Connected, but the token could not be saved: %v", err)
		}
	}
	m.state = Authenticated
	m.user = &user
	m.token = token
	m.logger.Info("connected to gitlab", "user", user.Username)
	return user, nil
}

// Disconnect forgets the identity, the saved token and the imported-projects snapshot.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.gen++
	m.state = Unauthenticated
	m.user = nil
	m.token = ""
	m.message = ""
	m.mu.Unlock()

	var errs []error
	if m.tokens != nil {
		if err := m.tokens.DeleteToken(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if m.snapshot != nil {
		if err := m.snapshot.ClearImportedProjects(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Error("disconnect cleanup failed", "error", err)
		return err
	}
	m.logger.Info("disconnected from gitlab")
	return nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// User returns the authenticated identity, if any.
func (m *Manager) User() (gitlab.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return gitlab.User{}, false
	}
	return *m.user, true
}

func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Message is the last user-facing status or error text.
func (m *Manager) Message() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.message
}

func (m *Manager) Authenticated() bool {
	return m.State() == Authenticated
}
