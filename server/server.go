package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"connectrpc.com/connect"
	"github.com/mscno/glconnect/pkg/gitlab"
	"github.com/mscno/glconnect/pkg/rpc"
	"github.com/mscno/glconnect/pkg/store"
	"github.com/mscno/glconnect/server/middleware"
)

// Store is the part of the persistence store exposed over REST.
type Store interface {
	Organizations() []store.Organization
	Organization(id string) (store.Organization, error)
	ActiveOrganization() (store.Organization, bool)
	AddOrganization(ctx context.Context, org store.Organization) (store.Organization, error)
	RemoveOrganization(ctx context.Context, id string) error
	SetActiveOrganization(ctx context.Context, id string) error
	SaveAccessToken(ctx context.Context, orgID, token string) error

	Repositories(orgID string) []store.Repository
	ImportRepository(ctx context.Context, req store.ImportRequest) (store.Repository, error)
	UpdateRepositoryStatus(ctx context.Context, id string, active bool, synced *bool) (store.Repository, error)

	ImportedProjects() []store.ImportedProject
	RemoveImportedProject(ctx context.Context, projectID int) error
	ClearImportedProjects(ctx context.Context) error
}

var _ Store = (*store.Store)(nil)

var errMissingParams = errors.New("Missing required parameters: token and endpoint are required.")

// Server implements the proxy and session Connect services.
type Server struct {
	Caller gitlab.Caller
	Logger *slog.Logger
}

func NewServer(caller gitlab.Caller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Caller: caller, Logger: logger}
}

var (
	_ rpc.ProxyServiceHandler   = (*Server)(nil)
	_ rpc.SessionServiceHandler = (*Server)(nil)
)

// Call relays one request to GitLab. Upstream failures are returned in the
// response body, not as Connect errors.
func (s *Server) Call(ctx context.Context, req *connect.Request[rpc.CallRequest]) (*connect.Response[rpc.CallResponse], error) {
	msg := *req.Msg
	if msg.Token == "" {
		msg.Token = middleware.ExtractBearerToken(req.Header().Get("Authorization"))
	}
	if msg.Token == "" || msg.Endpoint == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errMissingParams)
	}
	start := time.Now()
	res := s.Caller.Call(ctx, msg)
	s.Logger.DebugContext(ctx, "proxied gitlab call", "endpoint", msg.Endpoint, "failed", res.Failed(), "duration", time.Since(start))
	return connect.NewResponse(rpc.NewCallResponse(res)), nil
}

func (s *Server) Validate(ctx context.Context, req *connect.Request[rpc.ValidateRequest]) (*connect.Response[rpc.ValidateResponse], error) {
	token := req.Msg.Token
	if token == "" {
		token = middleware.ExtractBearerToken(req.Header().Get("Authorization"))
	}
	if token == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("missing token"))
	}
	user, err := gitlab.CurrentUser(ctx, s.Caller, token)
	if err != nil {
		s.Logger.InfoContext(ctx, "token validation failed", "error", err)
		return connect.NewResponse(&rpc.ValidateResponse{Error: err.Error()}), nil
	}
	if !user.Valid() {
		return connect.NewResponse(&rpc.ValidateResponse{Error: "Invalid token"}), nil
	}
	return connect.NewResponse(&rpc.ValidateResponse{Valid: true, User: &user}), nil
}

// Register mounts the Connect services and the HTTP routes. Store routes are
// skipped when st is nil.
func Register(cs *ConnectServer, srv *Server, st Store) {
	cs.Handle(rpc.NewProxyServiceHandler(srv))
	cs.Handle(rpc.NewSessionServiceHandler(srv))
	NewHandler(srv.Caller, st, srv.Logger).Routes(cs.HandleRoute)
}
