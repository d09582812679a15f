package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
)

// ListProjectsOptions maps to the /projects query string. Zero values are omitted.
type ListProjectsOptions struct {
	Membership bool
	Search     string
	OrderBy    string
	Sort       string
	PerPage    int
	Page       int
}

func (o ListProjectsOptions) params() map[string]string {
	p := map[string]string{}
	if o.Membership {
		p["membership"] = "true"
	}
	if o.Search != "" {
		p["search"] = o.Search
	}
	if o.OrderBy != "" {
		p["order_by"] = o.OrderBy
	}
	if o.Sort != "" {
		p["sort"] = o.Sort
	}
	if o.PerPage > 0 {
		p["per_page"] = strconv.Itoa(o.PerPage)
	}
	if o.Page > 0 {
		p["page"] = strconv.Itoa(o.Page)
	}
	return p
}

// MembershipProjects is the listing used by project selection.
var MembershipProjects = ListProjectsOptions{
	Membership: true,
	PerPage:    100,
	OrderBy:    "path",
	Sort:       "asc",
}

// DashboardPageSize is the page size of the dashboard repository listing.
const DashboardPageSize = 10

// RecentProjects is one page of the dashboard listing, most recently active first.
func RecentProjects(page int) ListProjectsOptions {
	if page < 1 {
		page = 1
	}
	return ListProjectsOptions{
		Membership: true,
		PerPage:    DashboardPageSize,
		Page:       page,
		OrderBy:    "last_activity_at",
		Sort:       "desc",
	}
}

type NewIssue struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Labels      string `json:"labels,omitempty"`
}

func get(ctx context.Context, c Caller, token, endpoint string, params map[string]string, v any) error {
	res := c.Call(ctx, Request{Token: token, Endpoint: endpoint, Method: http.MethodGet, Params: params})
	return res.Decode(v)
}

func CurrentUser(ctx context.Context, c Caller, token string) (User, error) {
	var u User
	if err := get(ctx, c, token, "/user", nil, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

func ListProjects(ctx context.Context, c Caller, token string, opts ListProjectsOptions) ([]Project, error) {
	var projects []Project
	if err := get(ctx, c, token, "/projects", opts.params(), &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func GetProject(ctx context.Context, c Caller, token string, id int) (Project, error) {
	var p Project
	if err := get(ctx, c, token, fmt.Sprintf("/projects/%d", id), nil, &p); err != nil {
		return Project{}, err
	}
	return p, nil
}

func ListIssues(ctx context.Context, c Caller, token string, projectID int, state string) ([]Issue, error) {
	var params map[string]string
	if state != "" {
		params = map[string]string{"state": state}
	}
	var issues []Issue
	if err := get(ctx, c, token, fmt.Sprintf("/projects/%d/issues", projectID), params, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func CreateIssue(ctx context.Context, c Caller, token string, projectID int, issue NewIssue) (Issue, error) {
	if issue.Title == "" {
		return Issue{}, &Error{Message: "issue title is required"}
	}
	res := c.Call(ctx, Request{
		Token:    token,
		Endpoint: fmt.Sprintf("/projects/%d/issues", projectID),
		Method:   http.MethodPost,
		Body:     issue,
	})
	var created Issue
	if err := res.Decode(&created); err != nil {
		return Issue{}, err
	}
	return created, nil
}

func ListMergeRequests(ctx context.Context, c Caller, token string, projectID int, state string) ([]MergeRequest, error) {
	var params map[string]string
	if state != "" {
		params = map[string]string{"state": state}
	}
	var mrs []MergeRequest
	if err := get(ctx, c, token, fmt.Sprintf("/projects/%d/merge_requests", projectID), params, &mrs); err != nil {
		return nil, err
	}
	return mrs, nil
}

func GetCommit(ctx context.Context, c Caller, token string, projectID int, sha string) (Commit, error) {
	var commit Commit
	if err := get(ctx, c, token, fmt.Sprintf("/projects/%d/repository/commits/%s", projectID, sha), nil, &commit); err != nil {
		return Commit{}, err
	}
	return commit, nil
}

func ListCommits(ctx context.Context, c Caller, token string, projectID int, ref string) ([]Commit, error) {
	var params map[string]string
	if ref != "" {
		params = map[string]string{"ref_name": ref}
	}
	var commits []Commit
	if err := get(ctx, c, token, fmt.Sprintf("/projects/%d/repository/commits", projectID), params, &commits); err != nil {
		return nil, err
	}
	return commits, nil
}

func ListPipelines(ctx context.Context, c Caller, token string, projectID int) ([]Pipeline, error) {
	var pipelines []Pipeline
	if err := get(ctx, c, token, fmt.Sprintf("/projects/%d/pipelines", projectID), nil, &pipelines); err != nil {
		return nil, err
	}
	return pipelines, nil
}

func GetTestReport(ctx context.Context, c Caller, token string, projectID, pipelineID int) (TestReport, error) {
	var report TestReport
	endpoint := fmt.Sprintf("/projects/%d/pipelines/%d/test_report", projectID, pipelineID)
	if err := get(ctx, c, token, endpoint, nil, &report); err != nil {
		return TestReport{}, err
	}
	return report, nil
}

func ListGroups(ctx context.Context, c Caller, token string) ([]Group, error) {
	var groups []Group
	if err := get(ctx, c, token, "/groups", map[string]string{"min_access_level": "10"}, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func ListGroupProjects(ctx context.Context, c Caller, token string, groupID int) ([]Project, error) {
	var projects []Project
	if err := get(ctx, c, token, fmt.Sprintf("/groups/%d/projects", groupID), nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// ListTree lists the files and directories under path at ref. Empty values
// mean the repository root and the default branch.
func ListTree(ctx context.Context, c Caller, token string, projectID int, path, ref string) ([]TreeEntry, error) {
	params := map[string]string{}
	if path != "" {
		params["path"] = path
	}
	if ref != "" {
		params["ref"] = ref
	}
	var entries []TreeEntry
	if err := get(ctx, c, token, fmt.Sprintf("/projects/%d/repository/tree", projectID), params, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
