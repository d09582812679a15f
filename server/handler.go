package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mscno/glconnect/pkg/gitlab"
	"github.com/mscno/glconnect/pkg/store"
	"github.com/mscno/glconnect/server/middleware"
)

// Handler serves the plain HTTP surface: the proxy endpoint and the store API.
// Store routes require a bearer token that GitLab accepts.
type Handler struct {
	caller gitlab.Caller
	store  Store
	logger *slog.Logger
	auth   func(http.Handler) http.Handler
}

func NewHandler(caller gitlab.Caller, st Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		caller: caller,
		store:  st,
		logger: logger,
		auth:   middleware.WithGitLabAuth(middleware.GitLabValidator(caller), logger),
	}
}

// Routes registers every route through handle.
func (h *Handler) Routes(handle func(pattern string, handler http.Handler)) {
	handle("GET /health", http.HandlerFunc(h.Health))
	handle("POST /api/call-gitlab", http.HandlerFunc(h.CallGitLab))
	if h.store == nil {
		return
	}
	authed := func(pattern string, f http.HandlerFunc) {
		handle(pattern, h.auth(f))
	}
	authed("GET /api/v1/organizations", h.ListOrganizations)
	authed("POST /api/v1/organizations", h.CreateOrganization)
	authed("DELETE /api/v1/organizations/{id}", h.DeleteOrganization)
	authed("PUT /api/v1/organizations/{id}/token", h.SaveToken)
	authed("POST /api/v1/organizations/{id}/activate", h.ActivateOrganization)
	authed("GET /api/v1/repositories", h.ListRepositories)
	authed("POST /api/v1/repositories/import", h.ImportRepository)
	authed("PATCH /api/v1/repositories/{id}/status", h.UpdateRepositoryStatus)
	authed("GET /api/v1/imported-projects", h.ListImportedProjects)
	authed("DELETE /api/v1/imported-projects", h.ClearImportedProjects)
	authed("DELETE /api/v1/imported-projects/{id}", h.DeleteImportedProject)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CallGitLab handles POST /api/call-gitlab. Upstream failures come back with
// status 200 and an {"error": ...} body.
func (h *Handler) CallGitLab(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error("call-gitlab panicked", "panic", p)
			writeError(w, http.StatusInternalServerError, fmt.Sprint(p))
		}
	}()

	var req gitlab.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if req.Token == "" || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, errMissingParams.Error())
		return
	}
	res := h.caller.Call(r.Context(), req)
	writeJSON(w, http.StatusOK, res)
}

// storeError maps store errors onto HTTP statuses.
func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrOrganizationNotFound), errors.Is(err, store.ErrRepositoryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("store operation failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// organization is an organization as served over REST. Access tokens never
// leave the server; HasToken tells whether one is saved.
type organization struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id,omitempty"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	HasToken  bool      `json:"has_token"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newOrganization(o store.Organization) organization {
	return organization{
		ID:        o.ID,
		TeamID:    o.TeamID,
		Name:      o.Name,
		URL:       o.URL,
		AvatarURL: o.AvatarURL,
		HasToken:  o.AccessToken != "",
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

type organizationsResponse struct {
	Organizations []organization `json:"organizations"`
	Active        *organization  `json:"active,omitempty"`
}

func (h *Handler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs := h.store.Organizations()
	resp := organizationsResponse{Organizations: make([]organization, 0, len(orgs))}
	for _, o := range orgs {
		resp.Organizations = append(resp.Organizations, newOrganization(o))
	}
	if active, ok := h.store.ActiveOrganization(); ok {
		a := newOrganization(active)
		resp.Active = &a
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var org store.Organization
	if err := decodeJSON(r, &org); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	created, err := h.store.AddOrganization(r.Context(), org)
	if err != nil {
		h.storeError(w, "add_organization", err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrganization(created))
}

func (h *Handler) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RemoveOrganization(r.Context(), r.PathValue("id")); err != nil {
		h.storeError(w, "remove_organization", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SaveToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	id := r.PathValue("id")
	if err := h.store.SaveAccessToken(r.Context(), id, body.Token); err != nil {
		h.storeError(w, "save_access_token", err)
		return
	}
	org, err := h.store.Organization(id)
	if err != nil {
		h.storeError(w, "save_access_token", err)
		return
	}
	writeJSON(w, http.StatusOK, newOrganization(org))
}

func (h *Handler) ActivateOrganization(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SetActiveOrganization(r.Context(), r.PathValue("id")); err != nil {
		h.storeError(w, "set_active_organization", err)
		return
	}
	active, _ := h.store.ActiveOrganization()
	writeJSON(w, http.StatusOK, newOrganization(active))
}

func (h *Handler) ListRepositories(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	repos := h.store.Repositories(orgID)
	if repos == nil {
		repos = []store.Repository{}
	}
	writeJSON(w, http.StatusOK, repos)
}

func (h *Handler) ImportRepository(w http.ResponseWriter, r *http.Request) {
	var req store.ImportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	repo, err := h.store.ImportRepository(r.Context(), req)
	if err != nil {
		h.storeError(w, "import_repository", err)
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (h *Handler) UpdateRepositoryStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsActive *bool `json:"is_active"`
		IsSynced *bool `json:"is_synced"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.IsActive == nil {
		writeError(w, http.StatusBadRequest, "is_active is required")
		return
	}
	repo, err := h.store.UpdateRepositoryStatus(r.Context(), r.PathValue("id"), *body.IsActive, body.IsSynced)
	if err != nil {
		h.storeError(w, "update_repository_status", err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

func (h *Handler) ListImportedProjects(w http.ResponseWriter, r *http.Request) {
	projects := h.store.ImportedProjects()
	if projects == nil {
		projects = []store.ImportedProject{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Handler) DeleteImportedProject(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}
	if err := h.store.RemoveImportedProject(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrValidation) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.storeError(w, "remove_imported_project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearImportedProjects(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearImportedProjects(r.Context()); err != nil {
		h.storeError(w, "clear_imported_projects", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
