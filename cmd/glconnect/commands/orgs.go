package commands

import (
	"fmt"

	"github.com/mscno/glconnect/pkg/store"
)

// OrgsCmd is the parent command for organization operations.
type OrgsCmd struct {
	Add      OrgsAddCmd      `cmd:"" help:"Connect a GitLab organization."`
	List     OrgsListCmd     `cmd:"" help:"List connected organizations."`
	Remove   OrgsRemoveCmd   `cmd:"" help:"Remove an organization and its repositories."`
	Activate OrgsActivateCmd `cmd:"" help:"Make an organization the active one."`
	Token    OrgsTokenCmd    `cmd:"" help:"Save the GitLab access token of an organization."`
}

type OrgsAddCmd struct {
	Name      string `arg:"" help:"Display name."`
	URL       string `arg:"" help:"Organization URL, e.g. https://gitlab.com/acme or https://git.acme.io."`
	TeamID    string `help:"Team the organization belongs to."`
	AvatarURL string `name:"avatar-url" help:"Avatar image URL."`
}

func (c *OrgsAddCmd) Run(ctx *cliCtx) error {
	st, err := ctx.env.Store(ctx)
	if err != nil {
		return err
	}
	org, err := st.AddOrganization(ctx, store.Organization{
		Name:      c.Name,
		URL:       c.URL,
		TeamID:    c.TeamID,
		AvatarURL: c.AvatarURL,
	})
	if err != nil {
		return err
	}
	success(ctx.Out, "%s has been successfully added", org.Name)
	fmt.Fprintf(ctx.Out, "  ID:  %s\n  URL: %s\n", org.ID, org.URL)
	return nil
}

type OrgsListCmd struct{}

func (c *OrgsListCmd) Run(ctx *cliCtx) error {
	st, err := ctx.env.Store(ctx)
	if err != nil {
		return err
	}
	orgs := st.Organizations()
	if len(orgs) == 0 {
		fmt.Fprintln(ctx.Out, "No organizations found.")
		return nil
	}
	active, _ := st.ActiveOrganization()
	for _, org := range orgs {
		marker := " "
		if org.ID == active.ID {
			marker = okColor.Sprint("*")
		}
		token := dimColor.Sprint("no token")
		if org.AccessToken != "" {
			token = "token saved"
		}
		fmt.Fprintf(ctx.Out, "%s %s  %s  %s  (%s)\n", marker, org.ID, org.Name, org.URL, token)
	}
	return nil
}

type OrgsRemoveCmd struct {
	ID string `arg:"" help:"Organization ID."`
}

func (c *OrgsRemoveCmd) Run(ctx *cliCtx) error {
	st, err := ctx.env.Store(ctx)
	if err != nil {
		return err
	}
	if err := st.RemoveOrganization(ctx, c.ID); err != nil {
		return err
	}
	success(ctx.Out, "The organization has been successfully removed")
	return nil
}

type OrgsActivateCmd struct {
	ID string `arg:"" optional:"" help:"Organization ID; empty clears the selection."`
}

func (c *OrgsActivateCmd) Run(ctx *cliCtx) error {
	st, err := ctx.env.Store(ctx)
	if err != nil {
		return err
	}
	if err := st.SetActiveOrganization(ctx, c.ID); err != nil {
		return err
	}
	if org, ok := st.ActiveOrganization(); ok {
		success(ctx.Out, "Active organization: %s", org.Name)
	} else {
		success(ctx.Out, "No active organization")
	}
	return nil
}

type OrgsTokenCmd struct {
	ID    string `arg:"" help:"Organization ID."`
	Token string `arg:"" help:"Access token."`
}

func (c *OrgsTokenCmd) Run(ctx *cliCtx) error {
	st, err := ctx.env.Store(ctx)
	if err != nil {
		return err
	}
	if err := st.SaveAccessToken(ctx, c.ID, c.Token); err != nil {
		return err
	}
	success(ctx.Out, "The GitLab access token has been successfully saved")
	return nil
}
