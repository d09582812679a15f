package client

import (
	"context"

	"github.com/mscno/glconnect/pkg/gitlab"
)

// Client defines the operations a glconnect server exposes remotely.
type Client interface {
	gitlab.Caller
	// Validate asks the server to resolve the identity behind token.
	Validate(ctx context.Context, token string) (gitlab.User, error)
}
