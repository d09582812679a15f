// Package selector loads the projects a user is a member of and tracks which
// of them are selected for import.
package selector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/mscno/glconnect/pkg/gitlab"
)

const DefaultImportDelay = 1500 * time.Millisecond

var (
	ErrNothingSelected = errors.New("please select at least one project to import")
	ErrStale           = errors.New("superseded by a newer load")
)

// Snapshot receives the imported projects.
type Snapshot interface {
	AddImportedProjects(ctx context.Context, projects []gitlab.Project) (int, error)
}

type Options struct {
	Caller   gitlab.Caller
	Snapshot Snapshot
	// OnError receives upstream and import failures as user-facing text.
	OnError     func(message string)
	ImportDelay time.Duration
	Workers     int
	Logger      *slog.Logger
}

type Selector struct {
	caller   gitlab.Caller
	snapshot Snapshot
	onError  func(string)
	delay    time.Duration
	workers  int
	logger   *slog.Logger

	mu        sync.Mutex
	gen       uint64
	loading   bool
	importing bool
	projects  []gitlab.Project
	selected  map[int]bool
	search    string
	message   string
}

func New(opts Options) *Selector {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.OnError == nil {
		opts.OnError = func(string) {}
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.ImportDelay < 0 {
		opts.ImportDelay = 0
	}
	return &Selector{
		caller:   opts.Caller,
		snapshot: opts.Snapshot,
		onError:  opts.OnError,
		delay:    opts.ImportDelay,
		workers:  opts.Workers,
		logger:   opts.Logger,
		selected: make(map[int]bool),
	}
}

// Load replaces the project list with the user's memberships. On failure the
// error is reported through OnError and the current list and selection are kept.
func (s *Selector) Load(ctx context.Context, token string) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.loading = true
	s.mu.Unlock()

	projects, err := gitlab.ListProjects(ctx, s.caller, token, gitlab.MembershipProjects)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return ErrStale
	}
	s.loading = false
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("failed to load projects", "error", err)
		s.onError(err.Error())
		return err
	}
	s.projects = projects
	s.mu.Unlock()
	s.logger.Debug("loaded projects", "count", len(projects))
	return nil
}

func (s *Selector) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Selector) Importing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.importing
}

func (s *Selector) Projects() []gitlab.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.projects)
}

// Merge adds projects not already in the list, keeping the existing order.
func (s *Selector) Merge(projects ...gitlab.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range projects {
		if !slices.ContainsFunc(s.projects, func(q gitlab.Project) bool { return q.ID == p.ID }) {
			s.projects = append(s.projects, p)
		}
	}
}

func (s *Selector) SetSearch(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search = q
}

func (s *Selector) Search() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.search
}

// Filtered returns the projects whose path or description contains the search
// text, case-insensitively.
func (s *Selector) Filtered() []gitlab.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filtered()
}

func (s *Selector) filtered() []gitlab.Project {
	q := strings.ToLower(s.search)
	var out []gitlab.Project
	for _, p := range s.projects {
		if strings.Contains(strings.ToLower(p.PathWithNamespace), q) ||
			(p.Description != "" && strings.Contains(strings.ToLower(p.Description), q)) {
			out = append(out, p)
		}
	}
	return out
}

// Toggle flips the selection of a loaded project and reports whether it is now selected.
func (s *Selector) Toggle(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.ContainsFunc(s.projects, func(p gitlab.Project) bool { return p.ID == id }) {
		return false
	}
	if s.selected[id] {
		delete(s.selected, id)
		return false
	}
	s.selected[id] = true
	return true
}

// SelectAll makes the selection exactly the filtered projects.
func (s *Selector) SelectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[int]bool)
	for _, p := range s.filtered() {
		s.selected[p.ID] = true
	}
}

// DeselectAll removes the filtered projects from the selection.
func (s *Selector) DeselectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.filtered() {
		delete(s.selected, p.ID)
	}
}

// ToggleAll deselects the filtered projects when all of them are selected and selects them otherwise.
func (s *Selector) ToggleAll() {
	if s.AllSelected() {
		s.DeselectAll()
		return
	}
	s.SelectAll()
}

// AllSelected reports whether there is at least one filtered project and every one is selected.
func (s *Selector) AllSelected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.filtered()
	if len(filtered) == 0 {
		return false
	}
	for _, p := range filtered {
		if !s.selected[p.ID] {
			return false
		}
	}
	return true
}

func (s *Selector) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = make(map[int]bool)
}

func (s *Selector) IsSelected(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected[id]
}

// Selected returns the selected projects in list order.
func (s *Selector) Selected() []gitlab.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedProjects()
}

func (s *Selector) selectedProjects() []gitlab.Project {
	var out []gitlab.Project
	for _, p := range s.projects {
		if s.selected[p.ID] {
			out = append(out, p)
		}
	}
	return out
}

func (s *Selector) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// Import copies the selected projects into the snapshot after the configured
// processing delay and returns them.
func (s *Selector) Import(ctx context.Context) ([]gitlab.Project, error) {
	s.mu.Lock()
	toImport := s.selectedProjects()
	if len(toImport) == 0 {
		s.message = "Please select at least one project to import"
		s.mu.Unlock()
		return nil, ErrNothingSelected
	}
	s.importing = true
	s.message = "Importing selected projects..."
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.importing = false
		s.mu.Unlock()
	}()

	if err := s.wait(ctx); err != nil {
		return nil, s.importFailed(err)
	}
	if s.snapshot != nil {
		if _, err := s.snapshot.AddImportedProjects(ctx, toImport); err != nil {
			return nil, s.importFailed(err)
		}
	}

	s.mu.Lock()
	s.message = fmt.Sprintf("Successfully imported %d projects", len(toImport))
	s.mu.Unlock()
	s.logger.Info("imported projects", "count", len(toImport))
	return toImport, nil
}

func (s *Selector) importFailed(err error) error {
	s.mu.Lock()
	s.message = fmt.Sprintf("Error importing projects: %v", err)
	s.mu.Unlock()
	s.onError(err.Error())
	return err
}

func (s *Selector) wait(ctx context.Context) error {
	if s.delay == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FetchByIDs fetches the given projects concurrently. Projects that fail are
// left out and their errors joined.
func (s *Selector) FetchByIDs(ctx context.Context, token string, ids []int) ([]gitlab.Project, error) {
	results := make([]*gitlab.Project, len(ids))
	errs := make([]error, len(ids))

	wp := workerpool.New(s.workers)
	for i, id := range ids {
		wp.Submit(func() {
			p, err := gitlab.GetProject(ctx, s.caller, token, id)
			if err != nil {
				errs[i] = fmt.Errorf("project %d: %w", id, err)
				return
			}
			results[i] = &p
		})
	}
	wp.StopWait()

	var out []gitlab.Project
	for _, p := range results {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, errors.Join(errs...)
}
