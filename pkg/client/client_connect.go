package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/mscno/glconnect/pkg/gitlab"
	"github.com/mscno/glconnect/pkg/rpc"
)

// ErrInvalidToken is returned by Validate when the server rejects the token.
var ErrInvalidToken = errors.New("invalid token")

// ConnectClient relays GitLab calls through a glconnect server instead of
// calling GitLab directly.
type ConnectClient struct {
	proxy   *rpc.ProxyServiceClient
	session *rpc.SessionServiceClient
	logger  *slog.Logger
}

type ClientConfig struct {
	ServerURL string
	// AuthToken is sent as a bearer header when a request carries no token of its own.
	AuthToken  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

var _ Client = (*ConnectClient)(nil)

func NewConnectClient(config ClientConfig) *ConnectClient {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	opts := connect.WithInterceptors(authIntercepter(config.AuthToken))
	return &ConnectClient{
		proxy:   rpc.NewProxyServiceClient(httpClient, config.ServerURL, opts),
		session: rpc.NewSessionServiceClient(httpClient, config.ServerURL, opts),
		logger:  config.Logger,
	}
}

func authIntercepter(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return connect.UnaryFunc(func(
			ctx context.Context,
			req connect.AnyRequest,
		) (connect.AnyResponse, error) {
			if token != "" && req.Header().Get("Authorization") == "" {
				req.Header().Set("Authorization", "Bearer "+token)
			}
			return next(ctx, req)
		})
	}
}

// Call never returns a Go error; transport failures become error results.
func (c *ConnectClient) Call(ctx context.Context, req gitlab.Request) gitlab.Result {
	r := req
	resp, err := c.proxy.Call(ctx, connect.NewRequest(&r))
	if err != nil {
		c.logger.ErrorContext(ctx, "Call request failed", "endpoint", req.Endpoint, "error", err)
		var cerr *connect.Error
		if errors.As(err, &cerr) {
			return gitlab.ErrorResult(cerr.Message(), cerr.Code().String())
		}
		return gitlab.ErrorResult(err.Error(), "")
	}
	return resp.Msg.Result()
}

func (c *ConnectClient) Validate(ctx context.Context, token string) (gitlab.User, error) {
	resp, err := c.session.Validate(ctx, connect.NewRequest(&rpc.ValidateRequest{Token: token}))
	if err != nil {
		c.logger.ErrorContext(ctx, "Validate request failed", "error", err)
		return gitlab.User{}, fmt.Errorf("validate failed: %w", err)
	}
	if !resp.Msg.Valid || resp.Msg.User == nil {
		return gitlab.User{}, fmt.Errorf("%w: %s", ErrInvalidToken, resp.Msg.Error)
	}
	return *resp.Msg.User, nil
}
