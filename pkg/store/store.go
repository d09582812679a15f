// Package store keeps the connected organizations, imported repositories, the
// current access token and the imported-projects snapshot.
//
// Every collection is mirrored to the Backend as a full JSON blob on each
// mutation. Mutations are applied in memory first and never rolled back: a
// failed write is logged, reported to the Notifier and returned wrapped in
// ErrPersist.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mscno/glconnect/pkg/gitlab"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrPersist    = errors.New("failed to persist")

	ErrOrganizationNotFound = fmt.Errorf("%w: organization not found", ErrValidation)
	ErrRepositoryNotFound   = fmt.Errorf("%w: repository not found", ErrValidation)
	ErrNoActiveOrganization = fmt.Errorf("%w: no active organization selected", ErrValidation)

	// ErrSealed is returned by Open when saved tokens cannot be opened with the configured key.
	ErrSealed = errors.New("sealed token cannot be opened")
)

// Sealer protects access tokens before they are written to the backend.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type Options struct {
	Backend  Backend
	Notifier Notifier
	Logger   *slog.Logger
	Sealer   Sealer
	Now      func() time.Time
	NewID    func() string
}

type Store struct {
	mu       sync.Mutex
	backend  Backend
	notifier Notifier
	logger   *slog.Logger
	sealer   Sealer
	now      func() time.Time
	newID    func() string

	orgs     []Organization
	repos    []Repository
	active   *Organization
	token    string
	imported []ImportedProject
}

// Open loads every collection from the backend. Missing keys start empty;
// an unreadable blob is logged and treated as empty.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Backend == nil {
		opts.Backend = NewMemoryBackend()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	s := &Store{
		backend:  opts.Backend,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		sealer:   opts.Sealer,
		now:      opts.Now,
		newID:    opts.NewID,
	}

	loaders := []struct {
		key string
		dst any
	}{
		{KeyOrganizations, &s.orgs},
		{KeyRepositories, &s.repos},
		{KeyActiveOrg, &s.active},
		{KeyToken, &s.token},
		{KeyImportedProjects, &s.imported},
	}
	for _, l := range loaders {
		data, err := s.backend.Load(ctx, l.key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", l.key, err)
		}
		if err := json.Unmarshal(data, l.dst); err != nil {
			s.logger.Warn("ignoring unreadable saved data", "key", l.key, "error", err)
		}
	}
	if err := s.openTokens(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// openTokens refuses to continue when any sealed token fails to open, so a
// wrong key never rewrites saved tokens.
func (s *Store) openTokens() error {
	if s.sealer == nil {
		return nil
	}
	var failed error
	open := func(v string) string {
		pt, err := s.sealer.Open(v)
		if err != nil {
			failed = err
			return v
		}
		return pt
	}
	for i := range s.orgs {
		s.orgs[i].AccessToken = open(s.orgs[i].AccessToken)
	}
	if s.active != nil {
		s.active.AccessToken = open(s.active.AccessToken)
	}
	s.token = open(s.token)
	if failed != nil {
		s.logger.Error("unable to open sealed tokens, check GLCONNECT_STORE_KEY", "error", failed)
		return fmt.Errorf("%w: %v", ErrSealed, failed)
	}
	return nil
}

func (s *Store) seal(v string) (string, error) {
	if s.sealer == nil || v == "" {
		return v, nil
	}
	return s.sealer.Seal(v)
}

func (s *Store) orgsWrite() (Write, error) {
	out := make([]Organization, len(s.orgs))
	for i, o := range s.orgs {
		tok, err := s.seal(o.AccessToken)
		if err != nil {
			return Write{}, err
		}
		o.AccessToken = tok
		out[i] = o
	}
	return jsonWrite(KeyOrganizations, out)
}

func (s *Store) activeWrite() (Write, error) {
	if s.active == nil {
		return Write{Key: KeyActiveOrg}, nil
	}
	o := *s.active
	tok, err := s.seal(o.AccessToken)
	if err != nil {
		return Write{}, err
	}
	o.AccessToken = tok
	return jsonWrite(KeyActiveOrg, o)
}

func (s *Store) reposWrite() (Write, error) {
	return jsonWrite(KeyRepositories, s.repos)
}

func (s *Store) importedWrite() (Write, error) {
	if len(s.imported) == 0 {
		return Write{Key: KeyImportedProjects}, nil
	}
	return jsonWrite(KeyImportedProjects, s.imported)
}

func (s *Store) tokenWrite() (Write, error) {
	if s.token == "" {
		return Write{Key: KeyToken}, nil
	}
	tok, err := s.seal(s.token)
	if err != nil {
		return Write{}, err
	}
	return jsonWrite(KeyToken, tok)
}

func jsonWrite(key string, v any) (Write, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Write{}, fmt.Errorf("encode %s: %w", key, err)
	}
	if data == nil {
		data = []byte("null")
	}
	return Write{Key: key, Value: data}, nil
}

// persist mirrors the given collections and notifies the outcome. Callers hold s.mu.
func (s *Store) persist(ctx context.Context, op, message string, builders ...func() (Write, error)) error {
	writes := make([]Write, 0, len(builders))
	var err error
	for _, b := range builders {
		var w Write
		if w, err = b(); err != nil {
			break
		}
		writes = append(writes, w)
	}
	if err == nil {
		err = s.backend.Commit(ctx, writes...)
	}
	if err != nil {
		s.logger.Error("failed to persist", "op", op, "error", err)
		err = fmt.Errorf("%w: %s: %w", ErrPersist, op, err)
		s.notifier.Notify(Event{Op: op, Err: err})
		return err
	}
	s.logger.Debug("persisted", "op", op, "keys", len(writes))
	s.notifier.Notify(Event{Op: op, Message: message})
	return nil
}

func (s *Store) orgIndex(id string) int {
	return slices.IndexFunc(s.orgs, func(o Organization) bool { return o.ID == id })
}

func (s *Store) repoIndex(id string) int {
	return slices.IndexFunc(s.repos, func(r Repository) bool { return r.ID == id })
}

// AddOrganization adds org and returns the stored record. An org whose ID is
// already known is ignored and the existing record returned. The first
// organization becomes active when none is.
func (s *Store) AddOrganization(ctx context.Context, org Organization) (Organization, error) {
	org.Name = strings.TrimSpace(org.Name)
	org.URL = strings.TrimSpace(org.URL)
	if org.Name == "" {
		return Organization{}, fmt.Errorf("%w: organization name is required", ErrValidation)
	}
	if org.URL == "" {
		return Organization{}, fmt.Errorf("%w: organization URL is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if org.ID != "" {
		if i := s.orgIndex(org.ID); i >= 0 {
			return s.orgs[i], nil
		}
	} else {
		org.ID = s.newID()
	}
	now := s.now()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	s.orgs = append(s.orgs, org)

	builders := []func() (Write, error){s.orgsWrite}
	if s.active == nil {
		active := org
		s.active = &active
		builders = append(builders, s.activeWrite)
	}
	return org, s.persist(ctx, "add_organization", fmt.Sprintf("%s has been successfully added", org.Name), builders...)
}

// RemoveOrganization drops the organization, its repositories and, if it was
// active, the active selection, in a single backend commit.
func (s *Store) RemoveOrganization(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.orgIndex(id) < 0 {
		return ErrOrganizationNotFound
	}
	s.orgs = slices.DeleteFunc(s.orgs, func(o Organization) bool { return o.ID == id })
	s.repos = slices.DeleteFunc(s.repos, func(r Repository) bool { return r.OrganizationID == id })
	if s.active != nil && s.active.ID == id {
		s.active = nil
	}
	return s.persist(ctx, "remove_organization", "The organization has been successfully removed",
		s.orgsWrite, s.reposWrite, s.activeWrite)
}

// SetActiveOrganization selects the active organization. An empty id clears it.
func (s *Store) SetActiveOrganization(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		s.active = nil
	} else {
		i := s.orgIndex(id)
		if i < 0 {
			return ErrOrganizationNotFound
		}
		active := s.orgs[i]
		s.active = &active
	}
	return s.persist(ctx, "set_active_organization", "Active organization changed", s.activeWrite)
}

func (s *Store) AddRepository(ctx context.Context, repo Repository) (Repository, error) {
	repo.Name = strings.TrimSpace(repo.Name)
	if repo.Name == "" {
		return Repository{}, fmt.Errorf("%w: repository name is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.orgIndex(repo.OrganizationID) < 0 {
		return Repository{}, ErrOrganizationNotFound
	}
	if repo.ID != "" {
		if i := s.repoIndex(repo.ID); i >= 0 {
			return s.repos[i], nil
		}
	} else {
		repo.ID = s.newID()
	}
	if existing, ok := s.findProject(repo.OrganizationID, repo.GitlabProjectID); ok {
		return existing, nil
	}
	now := s.now()
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = now
	}
	repo.UpdatedAt = now
	s.repos = append(s.repos, repo)
	return repo, s.persist(ctx, "add_repository", fmt.Sprintf("%s has been successfully added", repo.Name), s.reposWrite)
}

func (s *Store) findProject(orgID string, projectID int) (Repository, bool) {
	if projectID == 0 {
		return Repository{}, false
	}
	for _, r := range s.repos {
		if r.OrganizationID == orgID && r.GitlabProjectID == projectID {
			return r, true
		}
	}
	return Repository{}, false
}

// ImportRepository creates an active repository in the active organization.
// Importing the same GitLab project twice returns the existing record.
func (s *Store) ImportRepository(ctx context.Context, req ImportRequest) (Repository, error) {
	req.Name = strings.TrimSpace(req.Name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return Repository{}, ErrNoActiveOrganization
	}
	if req.Name == "" {
		return Repository{}, fmt.Errorf("%w: repository name is required", ErrValidation)
	}
	if existing, ok := s.findProject(s.active.ID, req.GitlabProjectID); ok {
		return existing, nil
	}
	now := s.now()
	repo := Repository{
		ID:              s.newID(),
		OrganizationID:  s.active.ID,
		Name:            req.Name,
		Description:     req.Description,
		URL:             req.URL,
		GitlabProjectID: req.GitlabProjectID,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.repos = append(s.repos, repo)
	return repo, s.persist(ctx, "import_repository", fmt.Sprintf("%s has been successfully imported", repo.Name), s.reposWrite)
}

// UpdateRepositoryStatus sets IsActive and, when synced is non-nil, IsSynced.
func (s *Store) UpdateRepositoryStatus(ctx context.Context, id string, active bool, synced *bool) (Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.repoIndex(id)
	if i < 0 {
		return Repository{}, ErrRepositoryNotFound
	}
	s.repos[i].IsActive = active
	if synced != nil {
		s.repos[i].IsSynced = *synced
	}
	s.repos[i].UpdatedAt = s.now()
	return s.repos[i], s.persist(ctx, "update_repository_status", "Repository status has been updated", s.reposWrite)
}

// SaveAccessToken stores token on the organization and on the active copy when it is the same organization.
func (s *Store) SaveAccessToken(ctx context.Context, orgID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.orgIndex(orgID)
	if i < 0 {
		return ErrOrganizationNotFound
	}
	s.orgs[i].AccessToken = token
	s.orgs[i].UpdatedAt = s.now()
	builders := []func() (Write, error){s.orgsWrite}
	if s.active != nil && s.active.ID == orgID {
		s.active.AccessToken = token
		s.active.UpdatedAt = s.orgs[i].UpdatedAt
		builders = append(builders, s.activeWrite)
	}
	return s.persist(ctx, "save_access_token", "The GitLab access token has been successfully saved", builders...)
}

// AddImportedProjects appends projects to the snapshot, skipping ids already present.
// It returns how many were added.
func (s *Store) AddImportedProjects(ctx context.Context, projects []gitlab.Project) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int]bool, len(s.imported))
	for _, p := range s.imported {
		seen[p.ID] = true
	}
	now := s.now()
	added := 0
	for _, p := range projects {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		s.imported = append(s.imported, ImportedProject{Project: p, ImportedAt: now})
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, s.persist(ctx, "add_imported_projects", fmt.Sprintf("%d projects imported", added), s.importedWrite)
}

func (s *Store) RemoveImportedProject(ctx context.Context, projectID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.imported)
	s.imported = slices.DeleteFunc(s.imported, func(p ImportedProject) bool { return p.ID == projectID })
	if len(s.imported) == n {
		return fmt.Errorf("%w: project %d is not imported", ErrValidation, projectID)
	}
	return s.persist(ctx, "remove_imported_project", "Project removed", s.importedWrite)
}

func (s *Store) ClearImportedProjects(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.imported = nil
	return s.persist(ctx, "clear_imported_projects", "Imported projects cleared", s.importedWrite)
}

// Token returns the current access token, "" when none is saved.
func (s *Store) Token(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *Store) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	return s.persist(ctx, "set_token", "Access token saved", s.tokenWrite)
}

func (s *Store) DeleteToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	return s.persist(ctx, "delete_token", "Access token removed", s.tokenWrite)
}

func (s *Store) Organizations() []Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.orgs)
}

func (s *Store) Organization(id string) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.orgIndex(id)
	if i < 0 {
		return Organization{}, ErrOrganizationNotFound
	}
	return s.orgs[i], nil
}

// ActiveOrganization returns the active organization, if any.
func (s *Store) ActiveOrganization() (Organization, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Organization{}, false
	}
	return *s.active, true
}

// Repositories lists repositories, restricted to orgID when non-empty.
func (s *Store) Repositories(orgID string) []Repository {
	s.mu.Lock()
	defer s.mu.Unlock()
	if orgID == "" {
		return slices.Clone(s.repos)
	}
	var out []Repository
	for _, r := range s.repos {
		if r.OrganizationID == orgID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) ImportedProjects() []ImportedProject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.imported)
}
