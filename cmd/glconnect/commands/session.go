package commands

import (
	"errors"
	"fmt"

	"github.com/mscno/glconnect/pkg/session"
)

type ConnectCmd struct {
	Token    string `arg:"" optional:"" help:"GitLab personal access token (api scope)."`
	EnvToken string `name:"token" env:"GITLAB_TOKEN" help:"Token to use when no argument is given."`
}

func (c *ConnectCmd) Run(ctx *cliCtx) error {
	m, err := ctx.env.newSession(ctx)
	if err != nil {
		return err
	}
	token := c.Token
	if token == "" {
		token = c.EnvToken
	}
	user, err := m.Submit(ctx, token)
	if err != nil {
		failure(ctx.Out, "%s", m.Message())
		if errors.Is(err, session.ErrValidation) {
			return err
		}
		return fmt.Errorf("connect failed: %w", err)
	}
	success(ctx.Out, "Connected as %s (%s)", user.Username, user.Name)
	if msg := m.Message(); msg != "" {
		warnColor.Fprintln(ctx.Out, msg)
	}
	return nil
}

type DisconnectCmd struct{}

func (c *DisconnectCmd) Run(ctx *cliCtx) error {
	m, err := ctx.env.newSession(ctx)
	if err != nil {
		return err
	}
	if err := m.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	success(ctx.Out, "Disconnected from GitLab")
	return nil
}

type WhoamiCmd struct{}

func (c *WhoamiCmd) Run(ctx *cliCtx) error {
	m, err := ctx.env.Session(ctx)
	if err != nil {
		return err
	}
	user, ok := m.User()
	if !ok {
		if msg := m.Message(); msg != "" {
			failure(ctx.Out, "%s", msg)
		}
		return errNotConnected
	}
	heading(ctx.Out, "%s", user.Name)
	fmt.Fprintf(ctx.Out, "username: %s\nid:       %d\n", user.Username, user.ID)
	if user.Email != "" {
		fmt.Fprintf(ctx.Out, "email:    %s\n", user.Email)
	}
	if user.WebURL != "" {
		fmt.Fprintf(ctx.Out, "profile:  %s\n", user.WebURL)
	}
	return nil
}
