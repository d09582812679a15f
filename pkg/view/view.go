// Package view decides which screen the connect flow shows. Nothing here is persisted.
package view

import (
	"fmt"
	"strings"
	"sync"
)

type View int

const (
	Connect View = iota
	ProjectSelection
	ImportedProjects
	Dashboard
)

func (v View) String() string {
	switch v {
	case Connect:
		return "connect"
	case ProjectSelection:
		return "project-selection"
	case ImportedProjects:
		return "imported-projects"
	case Dashboard:
		return "dashboard"
	}
	return fmt.Sprintf("View(%d)", int(v))
}

type Tab int

const (
	Repositories Tab = iota
	Issues
	MergeRequests
)

func (t Tab) String() string {
	switch t {
	case Repositories:
		return "repositories"
	case Issues:
		return "issues"
	case MergeRequests:
		return "merge-requests"
	}
	return fmt.Sprintf("Tab(%d)", int(t))
}

func ParseTab(s string) (Tab, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "repositories", "repos":
		return Repositories, nil
	case "issues":
		return Issues, nil
	case "merge-requests", "mrs", "merge_requests":
		return MergeRequests, nil
	}
	return 0, fmt.Errorf("unknown dashboard tab %q", s)
}

// Auth reports whether a valid session exists.
type Auth interface {
	Authenticated() bool
}

type Controller struct {
	auth Auth

	mu        sync.Mutex
	imported  bool
	dashboard bool
	tab       Tab
}

func New(auth Auth) *Controller {
	return &Controller{auth: auth}
}

// Current routes: no session shows Connect; a requested dashboard wins over
// the import result; otherwise project selection.
func (c *Controller) Current() View {
	if !c.auth.Authenticated() {
		return Connect
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.dashboard:
		return Dashboard
	case c.imported:
		return ImportedProjects
	}
	return ProjectSelection
}

func (c *Controller) ImportCompleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.imported = true
}

// BackToSelection leaves the import result and returns to project selection.
func (c *Controller) BackToSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.imported = false
	c.dashboard = false
}

func (c *Controller) ShowDashboard(tab Tab) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dashboard = true
	c.tab = tab
}

func (c *Controller) HideDashboard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dashboard = false
}

func (c *Controller) SetTab(tab Tab) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tab = tab
}

func (c *Controller) Tab() Tab {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tab
}

// Disconnect forgets the per-run flags. The session itself is reset by its owner.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.imported = false
	c.dashboard = false
	c.tab = Repositories
}
