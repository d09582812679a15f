package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/mscno/glconnect/pkg/view"
)

type ProjectsCmd struct {
	List   ProjectsListCmd   `cmd:"" help:"List projects you are a member of."`
	Import ProjectsImportCmd `cmd:"" help:"Import selected projects."`
}

type ProjectsListCmd struct {
	Search string `short:"s" help:"Filter by name, path or description."`
}

func (c *ProjectsListCmd) Run(ctx *cliCtx) error {
	token, err := ctx.env.Token(ctx)
	if err != nil {
		return err
	}
	sel, err := ctx.env.Selector(ctx, nil, -1)
	if err != nil {
		return err
	}
	if err := sel.Load(ctx, token); err != nil {
		return fmt.Errorf("failed to load projects: %w", err)
	}
	sel.SetSearch(c.Search)
	projects := sel.Filtered()
	if len(projects) == 0 {
		if c.Search != "" {
			fmt.Fprintln(ctx.Out, "No projects match your search.")
		} else {
			fmt.Fprintln(ctx.Out, "No projects found.")
		}
		return nil
	}
	heading(ctx.Out, "%d of %d projects", len(projects), len(sel.Projects()))
	printProjects(ctx.Out, projects, nil)
	return nil
}

type ProjectsImportCmd struct {
	IDs     []int  `arg:"" optional:"" name:"id" help:"Project IDs to import."`
	All     bool   `short:"a" help:"Select every project matching --search."`
	Search  string `short:"s" help:"Restrict --all to matching projects."`
	NoDelay bool   `help:"Skip the import processing delay."`
}

func (c *ProjectsImportCmd) Run(ctx *cliCtx) error {
	if len(c.IDs) == 0 && !c.All {
		return errors.New("pass project IDs or --all")
	}
	m, err := ctx.env.Session(ctx)
	if err != nil {
		return err
	}
	if !m.Authenticated() {
		return errNotConnected
	}
	token := m.Token()

	delay := time.Duration(-1)
	if c.NoDelay {
		delay = 0
	}
	sel, err := ctx.env.Selector(ctx, func(msg string) { failure(ctx.Out, "%s", msg) }, delay)
	if err != nil {
		return err
	}
	if err := sel.Load(ctx, token); err != nil {
		return fmt.Errorf("failed to load projects: %w", err)
	}
	sel.SetSearch(c.Search)
	if c.All {
		sel.SelectAll()
	}

	var missing []int
	for _, id := range c.IDs {
		if !sel.IsSelected(id) && !sel.Toggle(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		fetched, err := sel.FetchByIDs(ctx, token, missing)
		if err != nil {
			warnColor.Fprintf(ctx.Out, "Some projects could not be fetched: %v\n", err)
		}
		sel.Merge(fetched...)
		for _, p := range fetched {
			sel.Toggle(p.ID)
		}
	}

	fmt.Fprintf(ctx.Out, "Importing %d projects...\n", len(sel.Selected()))
	if _, err := sel.Import(ctx); err != nil {
		return err
	}
	success(ctx.Out, "%s", sel.Message())

	vc := view.New(m)
	vc.ImportCompleted()
	return renderView(ctx, vc, dashboardQuery{Page: 1})
}

type ImportedCmd struct {
	List   ImportedListCmd   `cmd:"" help:"List imported projects."`
	Remove ImportedRemoveCmd `cmd:"" help:"Remove a project from the imported list."`
	Clear  ImportedClearCmd  `cmd:"" help:"Remove every imported project."`
}

type ImportedListCmd struct{}

func (c *ImportedListCmd) Run(ctx *cliCtx) error {
	st, err := ctx.env.Store(ctx)
	if err != nil {
		return err
	}
	projects := st.ImportedProjects()
	if len(projects) == 0 {
		fmt.Fprintln(ctx.Out, "No imported projects.")
		return nil
	}
	printImported(ctx.Out, projects)
	return nil
}

type ImportedRemoveCmd struct {
	ID int `arg:"" help:"Project ID."`
}

func (c *ImportedRemoveCmd) Run(ctx *cliCtx) error {
	st, err := ctx.env.Store(ctx)
	if err != nil {
		return err
	}
	if err := st.RemoveImportedProject(ctx, c.ID); err != nil {
		return err
	}
	success(ctx.Out, "Project %d removed", c.ID)
	return nil
}

type ImportedClearCmd struct{}

func (c *ImportedClearCmd) Run(ctx *cliCtx) error {
	st, err := ctx.env.Store(ctx)
	if err != nil {
		return err
	}
	if err := st.ClearImportedProjects(ctx); err != nil {
		return err
	}
	success(ctx.Out, "Imported projects cleared")
	return nil
}
