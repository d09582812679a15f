package commands

import (
	"fmt"
	"strings"

	"github.com/mscno/glconnect/pkg/gitlab"
	"github.com/mscno/glconnect/pkg/store"
	"github.com/mscno/glconnect/pkg/view"
)

type ViewCmd struct {
	Dashboard bool   `short:"d" help:"Show the dashboard."`
	Tab       string `short:"t" default:"repositories" enum:"repositories,issues,merge-requests" help:"Dashboard tab (repositories, issues, merge-requests)."`
	Page      int    `short:"p" default:"1" help:"Page of the repositories tab."`
	Search    string `short:"s" help:"Filter repositories by name, description or namespace."`
}

// dashboardQuery pages and filters the repositories tab.
type dashboardQuery struct {
	Page   int
	Search string
}

func (c *ViewCmd) Run(ctx *cliCtx) error {
	m, err := ctx.env.Session(ctx)
	if err != nil {
		return err
	}
	vc := view.New(m)
	if c.Dashboard {
		tab, err := view.ParseTab(c.Tab)
		if err != nil {
			return err
		}
		vc.ShowDashboard(tab)
	}
	return renderView(ctx, vc, dashboardQuery{Page: c.Page, Search: c.Search})
}

func renderView(ctx *cliCtx, vc *view.Controller, q dashboardQuery) error {
	current := vc.Current()
	ctx.Logger.Debug("rendering view", "view", current.String())
	switch current {
	case view.Connect:
		heading(ctx.Out, "Connect to GitLab")
		fmt.Fprintln(ctx.Out, "Run 'glconnect connect <token>' with a personal access token (api scope).")
		m, err := ctx.env.Session(ctx)
		if err == nil && m.Message() != "" {
			failure(ctx.Out, "%s", m.Message())
		}
		return nil
	case view.ProjectSelection:
		return renderSelection(ctx)
	case view.ImportedProjects:
		st, err := ctx.env.Store(ctx)
		if err != nil {
			return err
		}
		heading(ctx.Out, "Imported projects")
		printImported(ctx.Out, st.ImportedProjects())
		return nil
	case view.Dashboard:
		return renderDashboard(ctx, vc.Tab(), q)
	}
	return fmt.Errorf("unknown view %v", current)
}

func renderSelection(ctx *cliCtx) error {
	m, err := ctx.env.Session(ctx)
	if err != nil {
		return err
	}
	user, _ := m.User()
	heading(ctx.Out, "Select projects to import")
	fmt.Fprintf(ctx.Out, "Connected as %s. Run 'glconnect projects list' to browse and 'glconnect projects import' to import.\n", user.Username)
	st, err := ctx.env.Store(ctx)
	if err != nil {
		return err
	}
	if n := len(st.ImportedProjects()); n > 0 {
		dimColor.Fprintf(ctx.Out, "%d projects imported so far.\n", n)
	}
	return nil
}

// renderDashboard shows one page of the user's recently active projects with
// the repositories tracked in the active organization, or the open issues or
// merge requests of every imported project.
func renderDashboard(ctx *cliCtx, tab view.Tab, q dashboardQuery) error {
	st, err := ctx.env.Store(ctx)
	if err != nil {
		return err
	}
	heading(ctx.Out, "Dashboard: %s", tab)
	if tab == view.Repositories {
		return renderRepositories(ctx, st, q)
	}

	token, err := ctx.env.Token(ctx)
	if err != nil {
		return err
	}
	caller, err := ctx.env.Caller(ctx)
	if err != nil {
		return err
	}
	projects := st.ImportedProjects()
	if len(projects) == 0 {
		fmt.Fprintln(ctx.Out, "No imported projects.")
		return nil
	}
	for _, p := range projects {
		fmt.Fprintln(ctx.Out)
		headColor.Fprintln(ctx.Out, p.PathWithNamespace)
		switch tab {
		case view.Issues:
			issues, err := gitlab.ListIssues(ctx, caller, token, p.ID, "opened")
			if err != nil {
				failure(ctx.Out, "  %v", err)
				continue
			}
			printIssues(ctx, issues)
		case view.MergeRequests:
			mrs, err := gitlab.ListMergeRequests(ctx, caller, token, p.ID, "opened")
			if err != nil {
				failure(ctx.Out, "  %v", err)
				continue
			}
			printMergeRequests(ctx, mrs)
		}
	}
	return nil
}

func renderRepositories(ctx *cliCtx, st *store.Store, q dashboardQuery) error {
	caller, token, err := gitlabCall(ctx)
	if err != nil {
		return err
	}
	page := gitlab.RecentProjects(q.Page)
	projects, err := gitlab.ListProjects(ctx, caller, token, page)
	if err != nil {
		return fmt.Errorf("failed to load repositories: %w", err)
	}
	matching := filterProjects(projects, q.Search)
	if len(matching) == 0 {
		fmt.Fprintln(ctx.Out, "No repositories found.")
	} else {
		printProjects(ctx.Out, matching, nil)
	}
	if len(projects) == gitlab.DashboardPageSize {
		dimColor.Fprintf(ctx.Out, "More repositories: glconnect view --dashboard --page %d\n", page.Page+1)
	}

	if org, ok := st.ActiveOrganization(); ok {
		if repos := st.Repositories(org.ID); len(repos) > 0 {
			fmt.Fprintln(ctx.Out)
			heading(ctx.Out, "Tracked in %s", org.Name)
			printRepositories(ctx.Out, repos)
		}
	}
	return nil
}

// filterProjects keeps projects whose name, description or namespace contains q, ignoring case.
func filterProjects(projects []gitlab.Project, q string) []gitlab.Project {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return projects
	}
	var out []gitlab.Project
	for _, p := range projects {
		for _, field := range []string{p.Name, p.Description, p.Namespace.FullPath, p.Namespace.Name, p.PathWithNamespace} {
			if strings.Contains(strings.ToLower(field), q) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
