package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mscno/glconnect/pkg/client"
	"github.com/mscno/glconnect/pkg/config"
	"github.com/mscno/glconnect/pkg/gitlab"
	"github.com/mscno/glconnect/pkg/selector"
	"github.com/mscno/glconnect/pkg/session"
	"github.com/mscno/glconnect/pkg/store"
)

var (
	errNotConnected = errors.New("not connected to GitLab, run 'glconnect connect <token>' first")
	errNoOrgToken   = fmt.Errorf("%w: the active organization has no access token", store.ErrValidation)
)

// env opens the store, the GitLab caller and the session on first use.
type env struct {
	cfg       *config.Config
	logger    *slog.Logger
	gitlabURL string
	serverURL string

	store   *store.Store
	tokens  session.TokenStore
	caller  gitlab.Caller
	session *session.Manager
}

func (e *env) Store(ctx context.Context) (*store.Store, error) {
	if e.store == nil {
		s, err := e.cfg.OpenStore(ctx, e.logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		e.store = s
	}
	return e.store, nil
}

// Caller talks to the default GitLab instance on behalf of the session. It
// relays through the server when one is configured.
func (e *env) Caller(ctx context.Context) (gitlab.Caller, error) {
	if e.caller != nil {
		return e.caller, nil
	}
	if e.serverURL != "" {
		e.logger.Debug("relaying through glconnect server", "serverURL", e.serverURL)
		e.caller = client.NewConnectClient(client.ClientConfig{ServerURL: e.serverURL, Logger: e.logger})
		return e.caller, nil
	}
	e.logger.Debug("calling gitlab directly", "baseURL", e.baseURL())
	e.caller = gitlab.NewClient(gitlab.Config{BaseURL: e.baseURL(), Logger: e.logger})
	return e.caller, nil
}

func (e *env) baseURL() string {
	if e.gitlabURL != "" {
		return e.gitlabURL
	}
	return e.cfg.GitLabBaseURL
}

// OrgCaller talks to the active organization's instance with the token saved
// for that organization. The session token is never used here.
func (e *env) OrgCaller(ctx context.Context) (gitlab.Caller, string, error) {
	st, err := e.Store(ctx)
	if err != nil {
		return nil, "", err
	}
	org, ok := st.ActiveOrganization()
	if !ok {
		return nil, "", store.ErrNoActiveOrganization
	}
	if org.AccessToken == "" {
		return nil, "", fmt.Errorf("%w: run 'glconnect orgs token %s <token>'", errNoOrgToken, org.ID)
	}
	baseURL := gitlab.APIBaseURL(org.URL)
	if baseURL == gitlab.DefaultBaseURL {
		if e.serverURL != "" {
			caller, err := e.Caller(ctx)
			return caller, org.AccessToken, err
		}
		baseURL = e.baseURL()
	}
	e.logger.Debug("calling organization instance", "org", org.ID, "baseURL", baseURL)
	return gitlab.NewClient(gitlab.Config{BaseURL: baseURL, Logger: e.logger}), org.AccessToken, nil
}

func (e *env) newSession(ctx context.Context) (*session.Manager, error) {
	if e.session != nil {
		return e.session, nil
	}
	st, err := e.Store(ctx)
	if err != nil {
		return nil, err
	}
	caller, err := e.Caller(ctx)
	if err != nil {
		return nil, err
	}
	if e.tokens == nil {
		e.tokens = e.cfg.Tokens(st)
	}
	e.session = session.New(session.Options{
		Caller:   caller,
		Tokens:   e.tokens,
		Snapshot: st,
		Logger:   e.logger,
	})
	return e.session, nil
}

// Session restores the session saved by a previous run.
func (e *env) Session(ctx context.Context) (*session.Manager, error) {
	m, err := e.newSession(ctx)
	if err != nil {
		return nil, err
	}
	if m.State() == session.Unauthenticated {
		if _, err := m.Restore(ctx); err != nil {
			e.logger.Debug("saved token could not be restored", "error", err)
		}
	}
	return m, nil
}

// Token returns the token of an authenticated session.
func (e *env) Token(ctx context.Context) (string, error) {
	m, err := e.Session(ctx)
	if err != nil {
		return "", err
	}
	if !m.Authenticated() {
		return "", errNotConnected
	}
	return m.Token(), nil
}

// Selector builds a project selector. A negative delay uses the configured import delay.
func (e *env) Selector(ctx context.Context, onError func(string), delay time.Duration) (*selector.Selector, error) {
	st, err := e.Store(ctx)
	if err != nil {
		return nil, err
	}
	caller, err := e.Caller(ctx)
	if err != nil {
		return nil, err
	}
	if delay < 0 {
		delay = e.cfg.ImportDelay
	}
	return selector.New(selector.Options{
		Caller:      caller,
		Snapshot:    st,
		OnError:     onError,
		ImportDelay: delay,
		Logger:      e.logger,
	}), nil
}

func (e *env) Close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error("failed to close store", "error", err)
		}
	}
}
