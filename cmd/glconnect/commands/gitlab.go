package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mscno/glconnect/pkg/gitlab"
)

// gitlabCall resolves the caller and the session token for a GitLab command.
func gitlabCall(ctx *cliCtx) (gitlab.Caller, string, error) {
	token, err := ctx.env.Token(ctx)
	if err != nil {
		return nil, "", err
	}
	caller, err := ctx.env.Caller(ctx)
	if err != nil {
		return nil, "", err
	}
	return caller, token, nil
}

type IssuesCmd struct {
	List   IssuesListCmd   `cmd:"" help:"List issues of a project."`
	Create IssuesCreateCmd `cmd:"" help:"Open an issue."`
}

type IssuesListCmd struct {
	Project int    `arg:"" help:"Project ID."`
	State   string `default:"opened" enum:"opened,closed,all" help:"Issue state."`
}

func (c *IssuesListCmd) Run(ctx *cliCtx) error {
	caller, token, err := gitlabCall(ctx)
	if err != nil {
		return err
	}
	state := c.State
	if state == "all" {
		state = ""
	}
	issues, err := gitlab.ListIssues(ctx, caller, token, c.Project, state)
	if err != nil {
		return err
	}
	printIssues(ctx, issues)
	return nil
}

type IssuesCreateCmd struct {
	Project     int      `arg:"" help:"Project ID."`
	Title       string   `short:"t" required:"" help:"Issue title."`
	Description string   `short:"d" help:"Issue description."`
	Labels      []string `short:"l" help:"Labels."`
}

func (c *IssuesCreateCmd) Run(ctx *cliCtx) error {
	caller, token, err := gitlabCall(ctx)
	if err != nil {
		return err
	}
	issue, err := gitlab.CreateIssue(ctx, caller, token, c.Project, gitlab.NewIssue{
		Title:       c.Title,
		Description: c.Description,
		Labels:      strings.Join(c.Labels, ","),
	})
	if err != nil {
		return err
	}
	success(ctx.Out, "Created issue #%d: %s", issue.IID, issue.Title)
	if issue.WebURL != "" {
		fmt.Fprintln(ctx.Out, issue.WebURL)
	}
	return nil
}

func printIssues(ctx *cliCtx, issues []gitlab.Issue) {
	if len(issues) == 0 {
		dimColor.Fprintln(ctx.Out, "  No issues.")
		return
	}
	for _, i := range issues {
		fmt.Fprintf(ctx.Out, "  #%-5d %-7s %s\n", i.IID, i.State, i.Title)
	}
}

type MRsCmd struct {
	Project int    `arg:"" help:"Project ID."`
	State   string `default:"opened" enum:"opened,closed,merged,all" help:"Merge request state."`
}

func (c *MRsCmd) Run(ctx *cliCtx) error {
	caller, token, err := gitlabCall(ctx)
	if err != nil {
		return err
	}
	state := c.State
	if state == "all" {
		state = ""
	}
	mrs, err := gitlab.ListMergeRequests(ctx, caller, token, c.Project, state)
	if err != nil {
		return err
	}
	printMergeRequests(ctx, mrs)
	return nil
}

func printMergeRequests(ctx *cliCtx, mrs []gitlab.MergeRequest) {
	if len(mrs) == 0 {
		dimColor.Fprintln(ctx.Out, "  No merge requests.")
		return
	}
	for _, mr := range mrs {
		fmt.Fprintf(ctx.Out, "  !%-5d %-7s %s", mr.IID, mr.State, mr.Title)
		dimColor.Fprintf(ctx.Out, "  %s -> %s", mr.SourceBranch, mr.TargetBranch)
		fmt.Fprintln(ctx.Out)
	}
}

type TreeCmd struct {
	Project int    `arg:"" help:"Project ID."`
	Path    string `help:"Directory inside the repository."`
	Ref     string `help:"Branch, tag or commit."`
}

func (c *TreeCmd) Run(ctx *cliCtx) error {
	caller, token, err := gitlabCall(ctx)
	if err != nil {
		return err
	}
	entries, err := gitlab.ListTree(ctx, caller, token, c.Project, c.Path, c.Ref)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(ctx.Out, "No files found.")
		return nil
	}
	for _, e := range entries {
		if e.Type == "tree" {
			headColor.Fprintf(ctx.Out, "%s/\n", e.Path)
			continue
		}
		fmt.Fprintln(ctx.Out, e.Path)
	}
	return nil
}

type CommitsCmd struct {
	List CommitsListCmd `cmd:"" help:"List commits."`
	Show CommitsShowCmd `cmd:"" help:"Show one commit."`
}

type CommitsListCmd struct {
	Project int    `arg:"" help:"Project ID."`
	Ref     string `help:"Branch or tag."`
}

func (c *CommitsListCmd) Run(ctx *cliCtx) error {
	caller, token, err := gitlabCall(ctx)
	if err != nil {
		return err
	}
	commits, err := gitlab.ListCommits(ctx, caller, token, c.Project, c.Ref)
	if err != nil {
		return err
	}
	for _, cm := range commits {
		warnColor.Fprint(ctx.Out, cm.ShortID)
		fmt.Fprintf(ctx.Out, " %s", cm.Title)
		dimColor.Fprintf(ctx.Out, "  %s", cm.AuthorName)
		fmt.Fprintln(ctx.Out)
	}
	return nil
}

type CommitsShowCmd struct {
	Project int    `arg:"" help:"Project ID."`
	SHA     string `arg:"" help:"Commit SHA."`
}

func (c *CommitsShowCmd) Run(ctx *cliCtx) error {
	caller, token, err := gitlabCall(ctx)
	if err != nil {
		return err
	}
	cm, err := gitlab.GetCommit(ctx, caller, token, c.Project, c.SHA)
	if err != nil {
		return err
	}
	warnColor.Fprintf(ctx.Out, "commit %s\n", cm.ID)
	fmt.Fprintf(ctx.Out, "Author: %s <%s>\nDate:   %s\n\n%s\n", cm.AuthorName, cm.AuthorEmail, cm.CreatedAt, cm.Message)
	return nil
}

type PipelinesCmd struct {
	List   PipelinesListCmd   `cmd:"" help:"List pipelines."`
	Report PipelinesReportCmd `cmd:"" help:"Show the test report of a pipeline."`
}

type PipelinesListCmd struct {
	Project int `arg:"" help:"Project ID."`
}

func (c *PipelinesListCmd) Run(ctx *cliCtx) error {
	caller, token, err := gitlabCall(ctx)
	if err != nil {
		return err
	}
	pipelines, err := gitlab.ListPipelines(ctx, caller, token, c.Project)
	if err != nil {
		return err
	}
	for _, p := range pipelines {
		status := p.Status
		switch p.Status {
		case "success":
			status = okColor.Sprint(p.Status)
		case "failed", "canceled":
			status = errColor.Sprint(p.Status)
		}
		fmt.Fprintf(ctx.Out, "%-8d %-10s %s", p.ID, status, p.Ref)
		dimColor.Fprintf(ctx.Out, "  %s", p.CreatedAt)
		fmt.Fprintln(ctx.Out)
	}
	return nil
}

type PipelinesReportCmd struct {
	Project  int `arg:"" help:"Project ID."`
	Pipeline int `arg:"" help:"Pipeline ID."`
}

func (c *PipelinesReportCmd) Run(ctx *cliCtx) error {
	caller, token, err := gitlabCall(ctx)
	if err != nil {
		return err
	}
	r, err := gitlab.GetTestReport(ctx, caller, token, c.Project, c.Pipeline)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "total %d in %.2fs: ", r.TotalCount, r.TotalTime)
	okColor.Fprintf(ctx.Out, "%d passed", r.SuccessCount)
	fmt.Fprint(ctx.Out, ", ")
	errColor.Fprintf(ctx.Out, "%d failed", r.FailedCount)
	fmt.Fprintf(ctx.Out, ", %d skipped, %d errors\n", r.SkippedCount, r.ErrorCount)
	return nil
}

type GroupsCmd struct {
	List     GroupsListCmd     `cmd:"" help:"List groups you can access."`
	Projects GroupsProjectsCmd `cmd:"" help:"List the projects of a group."`
}

type GroupsListCmd struct{}

func (c *GroupsListCmd) Run(ctx *cliCtx) error {
	caller, token, err := gitlabCall(ctx)
	if err != nil {
		return err
	}
	groups, err := gitlab.ListGroups(ctx, caller, token)
	if err != nil {
		return err
	}
	for _, g := range groups {
		fmt.Fprintf(ctx.Out, "%-8d %s", g.ID, g.FullPath)
		dimColor.Fprintf(ctx.Out, "  %s", g.WebURL)
		fmt.Fprintln(ctx.Out)
	}
	return nil
}

type GroupsProjectsCmd struct {
	Group int `arg:"" help:"Group ID."`
}

func (c *GroupsProjectsCmd) Run(ctx *cliCtx) error {
	caller, token, err := gitlabCall(ctx)
	if err != nil {
		return err
	}
	projects, err := gitlab.ListGroupProjects(ctx, caller, token, c.Group)
	if err != nil {
		return err
	}
	printProjects(ctx.Out, projects, nil)
	return nil
}

type APICmd struct {
	Endpoint string            `arg:"" help:"Endpoint relative to /api/v4, e.g. /user."`
	Method   string            `short:"X" default:"GET" help:"HTTP method (GET or POST)."`
	Data     string            `short:"d" help:"JSON body for POST requests."`
	Params   map[string]string `short:"p" name:"param" help:"Query parameters for GET requests (key=value)."`
	Token    string            `env:"GITLAB_TOKEN" help:"Token to use instead of the connected session."`
}

// Run prints the upstream JSON, or the {"error": ...} object and a non-zero exit.
func (c *APICmd) Run(ctx *cliCtx) error {
	token := c.Token
	if token == "" {
		var err error
		if token, err = ctx.env.Token(ctx); err != nil {
			return err
		}
	}
	caller, err := ctx.env.Caller(ctx)
	if err != nil {
		return err
	}
	req := gitlab.Request{Token: token, Endpoint: c.Endpoint, Method: c.Method, Params: c.Params}
	if c.Data != "" {
		if !json.Valid([]byte(c.Data)) {
			return fmt.Errorf("--data is not valid JSON")
		}
		if !strings.EqualFold(c.Method, http.MethodPost) {
			return fmt.Errorf("--data requires -X POST")
		}
		req.Body = json.RawMessage(c.Data)
	}

	res := caller.Call(ctx, req)
	out, err := json.Marshal(res)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, out, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(out)
	}
	fmt.Fprintln(ctx.Out, pretty.String())
	if res.Failed() {
		return res.Err
	}
	return nil
}
