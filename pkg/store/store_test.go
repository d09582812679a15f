package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/mscno/glconnect/pkg/gitlab"
	"github.com/mscno/glconnect/pkg/tokenbox"
)

type failingBackend struct {
	*MemoryBackend
	fail bool
}

func (f *failingBackend) Commit(ctx context.Context, writes ...Write) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.MemoryBackend.Commit(ctx, writes...)
}

func newTestStore(t *testing.T, backend Backend, events *[]Event) *Store {
	t.Helper()
	n := 0
	s, err := Open(context.Background(), Options{
		Backend: backend,
		Notifier: NotifierFunc(func(e Event) {
			if events != nil {
				*events = append(*events, e)
			}
		}),
		Now: func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
	assert.NoError(t, err)
	return s
}

func TestAddOrganization(t *testing.T) {
	ctx := context.Background()
	var events []Event
	s := newTestStore(t, NewMemoryBackend(), &events)

	_, err := s.AddOrganization(ctx, Organization{Name: " ", URL: "https://gitlab.com"})
	assert.IsError(t, err, ErrValidation)
	_, err = s.AddOrganization(ctx, Organization{Name: "Acme"})
	assert.IsError(t, err, ErrValidation)
	assert.Equal(t, 0, len(events))

	org, err := s.AddOrganization(ctx, Organization{Name: "Acme", URL: "https://gitlab.com/acme"})
	assert.NoError(t, err)
	assert.Equal(t, "id-1", org.ID)
	assert.NotZero(t, org.CreatedAt)

	active, ok := s.ActiveOrganization()
	assert.True(t, ok)
	assert.Equal(t, org.ID, active.ID)

	second, err := s.AddOrganization(ctx, Organization{Name: "Other", URL: "https://git.other.io"})
	assert.NoError(t, err)
	active, _ = s.ActiveOrganization()
	assert.Equal(t, org.ID, active.ID, "first organization stays active")

	// same id is ignored
	again, err := s.AddOrganization(ctx, Organization{ID: second.ID, Name: "Renamed", URL: "https://x"})
	assert.NoError(t, err)
	assert.Equal(t, "Other", again.Name)
	assert.Equal(t, 2, len(s.Organizations()))

	assert.Equal(t, 2, len(events))
	assert.Equal(t, "add_organization", events[0].Op)
	assert.Contains(t, events[0].Message, "Acme")
}

func TestRemoveOrganizationCascades(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := newTestStore(t, backend, nil)

	o1, err := s.AddOrganization(ctx, Organization{Name: "O1", URL: "https://gitlab.com/o1"})
	assert.NoError(t, err)
	o2, err := s.AddOrganization(ctx, Organization{Name: "O2", URL: "https://gitlab.com/o2"})
	assert.NoError(t, err)

	_, err = s.AddRepository(ctx, Repository{OrganizationID: o1.ID, Name: "r1", GitlabProjectID: 1})
	assert.NoError(t, err)
	_, err = s.AddRepository(ctx, Repository{OrganizationID: o1.ID, Name: "r2", GitlabProjectID: 2})
	assert.NoError(t, err)
	_, err = s.AddRepository(ctx, Repository{OrganizationID: o2.ID, Name: "r3", GitlabProjectID: 3})
	assert.NoError(t, err)

	assert.NoError(t, s.RemoveOrganization(ctx, o1.ID))

	orgs := s.Organizations()
	assert.Equal(t, 1, len(orgs))
	assert.Equal(t, o2.ID, orgs[0].ID)
	repos := s.Repositories("")
	assert.Equal(t, 1, len(repos))
	assert.Equal(t, "r3", repos[0].Name)
	_, ok := s.ActiveOrganization()
	assert.False(t, ok)

	// durable state matches memory
	reloaded := newTestStore(t, backend, nil)
	assert.Equal(t, 1, len(reloaded.Organizations()))
	assert.Equal(t, 1, len(reloaded.Repositories("")))
	_, ok = reloaded.ActiveOrganization()
	assert.False(t, ok)

	assert.IsError(t, s.RemoveOrganization(ctx, "missing"), ErrOrganizationNotFound)
}

func TestImportRepository(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryBackend(), nil)

	_, err := s.ImportRepository(ctx, ImportRequest{Name: "api", GitlabProjectID: 42})
	assert.IsError(t, err, ErrNoActiveOrganization)
	assert.IsError(t, err, ErrValidation)

	org, err := s.AddOrganization(ctx, Organization{Name: "Acme", URL: "https://gitlab.com"})
	assert.NoError(t, err)

	first, err := s.ImportRepository(ctx, ImportRequest{Name: "api", GitlabProjectID: 42, URL: "https://gitlab.com/acme/api"})
	assert.NoError(t, err)
	assert.True(t, first.IsActive)
	assert.Equal(t, org.ID, first.OrganizationID)

	second, err := s.ImportRepository(ctx, ImportRequest{Name: "api again", GitlabProjectID: 42})
	assert.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, len(s.Repositories(org.ID)))
}

func TestAddRepositoryRequiresOrganization(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryBackend(), nil)
	_, err := s.AddRepository(ctx, Repository{OrganizationID: "nope", Name: "r"})
	assert.IsError(t, err, ErrOrganizationNotFound)
}

func TestUpdateRepositoryStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryBackend(), nil)
	_, err := s.AddOrganization(ctx, Organization{Name: "Acme", URL: "https://gitlab.com"})
	assert.NoError(t, err)
	repo, err := s.ImportRepository(ctx, ImportRequest{Name: "api", GitlabProjectID: 1})
	assert.NoError(t, err)

	synced := true
	updated, err := s.UpdateRepositoryStatus(ctx, repo.ID, false, &synced)
	assert.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.True(t, updated.IsSynced)

	updated, err = s.UpdateRepositoryStatus(ctx, repo.ID, true, nil)
	assert.NoError(t, err)
	assert.True(t, updated.IsActive)
	assert.True(t, updated.IsSynced, "synced flag kept when not given")

	_, err = s.UpdateRepositoryStatus(ctx, "missing", true, nil)
	assert.IsError(t, err, ErrRepositoryNotFound)
}

func TestSaveAccessTokenUpdatesActiveCopy(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := newTestStore(t, backend, nil)
	org, err := s.AddOrganization(ctx, Organization{Name: "Acme", URL: "https://gitlab.com"})
	assert.NoError(t, err)

	assert.NoError(t, s.SaveAccessToken(ctx, org.ID, "glpat-1"))

	got, err := s.Organization(org.ID)
	assert.NoError(t, err)
	assert.Equal(t, "glpat-1", got.AccessToken)
	active, _ := s.ActiveOrganization()
	assert.Equal(t, "glpat-1", active.AccessToken)

	reloaded := newTestStore(t, backend, nil)
	active, _ = reloaded.ActiveOrganization()
	assert.Equal(t, "glpat-1", active.AccessToken)

	assert.IsError(t, s.SaveAccessToken(ctx, "missing", "x"), ErrOrganizationNotFound)
}

func TestTokenWriteThenRead(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	s := newTestStore(t, backend, nil)

	tok, err := s.Token(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "", tok)

	assert.NoError(t, s.SetToken(ctx, "glpat-a"))
	assert.NoError(t, s.SetToken(ctx, "glpat-b"))
	tok, _ = s.Token(ctx)
	assert.Equal(t, "glpat-b", tok)

	reloaded := newTestStore(t, backend, nil)
	tok, _ = reloaded.Token(ctx)
	assert.Equal(t, "glpat-b", tok)

	assert.NoError(t, s.DeleteToken(ctx))
	_, err = backend.Load(ctx, KeyToken)
	assert.IsError(t, err, ErrNotFound)

	assert.IsError(t, s.SetToken(ctx, ""), ErrValidation)
}

func TestSealedTokensAtRest(t *testing.T) {
	ctx := context.Background()
	box, err := tokenbox.ParseKey(strings.Repeat("ab", 32))
	assert.NoError(t, err)
	backend := NewMemoryBackend()

	s, err := Open(ctx, Options{Backend: backend, Sealer: box})
	assert.NoError(t, err)
	org, err := s.AddOrganization(ctx, Organization{Name: "Acme", URL: "https://gitlab.com"})
	assert.NoError(t, err)
	assert.NoError(t, s.SaveAccessToken(ctx, org.ID, "glpat-plain"))
	assert.NoError(t, s.SetToken(ctx, "glpat-user"))

	for _, key := range []string{KeyOrganizations, KeyActiveOrg, KeyToken} {
		raw, err := backend.Load(ctx, key)
		assert.NoError(t, err)
		assert.NotContains(t, string(raw), "glpat-")
	}

	reloaded, err := Open(ctx, Options{Backend: backend, Sealer: box})
	assert.NoError(t, err)
	got, err := reloaded.Organization(org.ID)
	assert.NoError(t, err)
	assert.Equal(t, "glpat-plain", got.AccessToken)
	tok, _ := reloaded.Token(ctx)
	assert.Equal(t, "glpat-user", tok)
}

func TestOpenWithWrongKeyKeepsSealedTokens(t *testing.T) {
	ctx := context.Background()
	k1, err := tokenbox.ParseKey(strings.Repeat("ab", 32))
	assert.NoError(t, err)
	k2, err := tokenbox.ParseKey(strings.Repeat("cd", 32))
	assert.NoError(t, err)
	backend := NewMemoryBackend()

	s, err := Open(ctx, Options{Backend: backend, Sealer: k1})
	assert.NoError(t, err)
	org, err := s.AddOrganization(ctx, Organization{Name: "Acme", URL: "https://gitlab.com"})
	assert.NoError(t, err)
	assert.NoError(t, s.SaveAccessToken(ctx, org.ID, "secret-a"))
	before, err := backend.Load(ctx, KeyOrganizations)
	assert.NoError(t, err)

	_, err = Open(ctx, Options{Backend: backend, Sealer: k2})
	assert.IsError(t, err, ErrSealed)

	after, err := backend.Load(ctx, KeyOrganizations)
	assert.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	reopened, err := Open(ctx, Options{Backend: backend, Sealer: k1})
	assert.NoError(t, err)
	got, err := reopened.Organization(org.ID)
	assert.NoError(t, err)
	assert.Equal(t, "secret-a", got.AccessToken)
}

func TestImportedProjectsSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryBackend(), nil)

	n, err := s.AddImportedProjects(ctx, []gitlab.Project{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 1, Name: "a"}})
	assert.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.AddImportedProjects(ctx, []gitlab.Project{{ID: 2, Name: "b"}, {ID: 3, Name: "c"}})
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, len(s.ImportedProjects()))

	assert.NoError(t, s.RemoveImportedProject(ctx, 2))
	assert.IsError(t, s.RemoveImportedProject(ctx, 2), ErrValidation)
	assert.Equal(t, 2, len(s.ImportedProjects()))

	assert.NoError(t, s.ClearImportedProjects(ctx))
	assert.Equal(t, 0, len(s.ImportedProjects()))
}

func TestPersistFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{MemoryBackend: NewMemoryBackend(), fail: true}
	var events []Event
	s := newTestStore(t, backend, &events)

	org, err := s.AddOrganization(ctx, Organization{Name: "Acme", URL: "https://gitlab.com"})
	assert.IsError(t, err, ErrPersist)
	assert.Contains(t, err.Error(), "disk full")

	// optimistic: the in-memory change survives
	got, err := s.Organization(org.ID)
	assert.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)

	assert.Equal(t, 1, len(events))
	assert.True(t, events[0].Failed())

	backend.fail = false
	_, err = backend.Load(ctx, KeyOrganizations)
	assert.IsError(t, err, ErrNotFound)
}

func TestOpenIgnoresUnreadableBlob(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	assert.NoError(t, backend.Commit(ctx, Write{Key: KeyOrganizations, Value: []byte("{not json")}))

	s, err := Open(ctx, Options{Backend: backend})
	assert.NoError(t, err)
	assert.Equal(t, 0, len(s.Organizations()))
}
