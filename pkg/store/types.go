package store

import (
	"time"

	"github.com/mscno/glconnect/pkg/gitlab"
)

const (
	KeyOrganizations    = "gitlab_organizations"
	KeyRepositories     = "gitlab_repositories"
	KeyActiveOrg        = "gitlab_active_org"
	KeyToken            = "gitlab_token"
	KeyImportedProjects = "imported_projects"
)

// Organization is a connected GitLab instance or group.
type Organization struct {
	ID             string    `json:"id"`
	TeamID         string    `json:"team_id,omitempty"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	InstallationID int       `json:"installation_id,omitempty"`
	AccessToken    string    `json:"access_token,omitempty"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Repository is a GitLab project imported into an organization.
type Repository struct {
	ID              string    `json:"id"`
	OrganizationID  string    `json:"organization_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	URL             string    `json:"url,omitempty"`
	GitlabProjectID int       `json:"gitlab_project_id,omitempty"`
	IsActive        bool      `json:"is_active"`
	IsSynced        bool      `json:"is_synced"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ImportRequest carries the fields needed to import a project into the active organization.
type ImportRequest struct {
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	GitlabProjectID int    `json:"gitlab_project_id,omitempty"`
	URL             string `json:"url,omitempty"`
}

// ImportedProject is one entry of the imported-projects snapshot.
type ImportedProject struct {
	gitlab.Project
	ImportedAt time.Time `json:"imported_at"`
}
