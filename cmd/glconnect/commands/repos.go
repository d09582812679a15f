package commands

import (
	"fmt"

	"github.com/mscno/glconnect/pkg/gitlab"
	"github.com/mscno/glconnect/pkg/store"
)

type ReposCmd struct {
	List   ReposListCmd   `cmd:"" help:"List repositories."`
	Import ReposImportCmd `cmd:"" help:"Import a GitLab project into the active organization."`
	Status ReposStatusCmd `cmd:"" help:"Activate or deactivate a repository."`
}

type ReposListCmd struct {
	All bool `short:"a" help:"Include repositories of every organization."`
}

func (c *ReposListCmd) Run(ctx *cliCtx) error {
	st, err := ctx.env.Store(ctx)
	if err != nil {
		return err
	}
	orgID := ""
	if !c.All {
		org, ok := st.ActiveOrganization()
		if !ok {
			return store.ErrNoActiveOrganization
		}
		orgID = org.ID
	}
	repos := st.Repositories(orgID)
	if len(repos) == 0 {
		fmt.Fprintln(ctx.Out, "No repositories found.")
		return nil
	}
	printRepositories(ctx.Out, repos)
	return nil
}

type ReposImportCmd struct {
	ProjectID int `arg:"" help:"GitLab project ID."`
}

// Run looks the project up on the active organization's instance, using the
// organization's token, and records it there.
func (c *ReposImportCmd) Run(ctx *cliCtx) error {
	st, err := ctx.env.Store(ctx)
	if err != nil {
		return err
	}
	caller, token, err := ctx.env.OrgCaller(ctx)
	if err != nil {
		return err
	}
	p, err := gitlab.GetProject(ctx, caller, token, c.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to fetch project %d: %w", c.ProjectID, err)
	}
	repo, err := st.ImportRepository(ctx, store.ImportRequest{
		Name:            p.PathWithNamespace,
		Description:     p.Description,
		GitlabProjectID: p.ID,
		URL:             p.WebURL,
	})
	if err != nil {
		return err
	}
	success(ctx.Out, "%s has been successfully imported", repo.Name)
	return nil
}

type ReposStatusCmd struct {
	ID       string `arg:"" help:"Repository ID."`
	Inactive bool   `help:"Deactivate instead of activate."`
	Synced   bool   `help:"Mark the repository as synced." xor:"sync"`
	Unsynced bool   `help:"Mark the repository as not synced." xor:"sync"`
}

func (c *ReposStatusCmd) Run(ctx *cliCtx) error {
	st, err := ctx.env.Store(ctx)
	if err != nil {
		return err
	}
	var synced *bool
	if c.Synced || c.Unsynced {
		synced = &c.Synced
	}
	repo, err := st.UpdateRepositoryStatus(ctx, c.ID, !c.Inactive, synced)
	if err != nil {
		return err
	}
	success(ctx.Out, "Repository status has been updated")
	printRepositories(ctx.Out, []store.Repository{repo})
	return nil
}
