package gitlab

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/jarcoal/httpmock"
)

func newMockClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	c := NewClient(Config{
		BaseURL:    "https://gitlab.example.com/api/v4",
		HTTPClient: &http.Client{Transport: transport},
	})
	return c, transport
}

func TestCall_GetSendsBearerAndParams(t *testing.T) {
	var gotAuth, gotContentType string
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotQuery = r.URL.Query()
		assert.Equal(t, "/api/v4/projects", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1,"path_with_namespace":"acme/api"}]`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/api/v4"})
	res := c.Call(context.Background(), Request{
		Token:    "glpat-123",
		Endpoint: "/projects",
		Params:   map[string]string{"membership": "true", "per_page": "100"},
	})
	assert.False(t, res.Failed())
	assert.Equal(t, "Bearer glpat-123", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, []string{"true"}, gotQuery["membership"])
	assert.Equal(t, []string{"100"}, gotQuery["per_page"])

	var projects []Project
	assert.NoError(t, res.Decode(&projects))
	assert.Equal(t, 1, len(projects))
	assert.Equal(t, "acme/api", projects[0].PathWithNamespace)
}

func TestCall_PostSendsBodyNotParams(t *testing.T) {
	var gotBody map[string]any
	var gotRawQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotRawQuery = r.URL.RawQuery
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":9,"iid":1,"title":"bug"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	res := c.Call(context.Background(), Request{
		Token:    "t",
		Endpoint: "projects/1/issues",
		Method:   "post",
		Body:     map[string]string{"title": "bug"},
		Params:   map[string]string{"ignored": "yes"},
	})
	assert.False(t, res.Failed())
	assert.Equal(t, "", gotRawQuery)
	assert.Equal(t, "bug", gotBody["title"])
}

func TestCall_UnsupportedMethod(t *testing.T) {
	c, transport := newMockClient(t)
	res := c.Call(context.Background(), Request{Token: "t", Endpoint: "/user", Method: "DELETE"})
	assert.True(t, res.Failed())
	assert.Equal(t, "Method DELETE not supported", res.Err.Message)
	assert.Equal(t, 0, transport.GetTotalCallCount())
}

func TestCall_NonSuccessStatus(t *testing.T) {
	c, transport := newMockClient(t)
	transport.RegisterResponder(http.MethodGet, "https://gitlab.example.com/api/v4/user",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"message":"401 Unauthorized"}`))

	res := c.Call(context.Background(), Request{Token: "bad", Endpoint: "/user"})
	assert.True(t, res.Failed())
	assert.Equal(t, "API returned status code 401", res.Err.Message)
	assert.Equal(t, `{"message":"401 Unauthorized"}`, res.Err.Details)

	out, err := json.Marshal(res)
	assert.NoError(t, err)
	assert.Equal(t, `{"error":"API returned status code 401","details":"{\"message\":\"401 Unauthorized\"}"}`, string(out))
}

func TestCall_NetworkFailure(t *testing.T) {
	c, _ := newMockClient(t)
	// no responder registered: the mock transport returns an error
	res := c.Call(context.Background(), Request{Token: "t", Endpoint: "/user"})
	assert.True(t, res.Failed())
	assert.NotZero(t, res.Err.Message)
}

func TestCall_MalformedJSON(t *testing.T) {
	c, transport := newMockClient(t)
	transport.RegisterResponder(http.MethodGet, "https://gitlab.example.com/api/v4/user",
		httpmock.NewStringResponder(http.StatusOK, `<html>oops</html>`))

	res := c.Call(context.Background(), Request{Token: "t", Endpoint: "/user"})
	assert.True(t, res.Failed())
}

func TestCall_EmptyBodyIsNull(t *testing.T) {
	c, transport := newMockClient(t)
	transport.RegisterResponder(http.MethodPost, "https://gitlab.example.com/api/v4/projects/1/star",
		httpmock.NewStringResponder(http.StatusNoContent, ``))

	res := c.Call(context.Background(), Request{Token: "t", Endpoint: "/projects/1/star", Method: http.MethodPost})
	assert.False(t, res.Failed())
	out, err := json.Marshal(res)
	assert.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestCall_RecoversPanic(t *testing.T) {
	c, transport := newMockClient(t)
	transport.RegisterResponder(http.MethodGet, "https://gitlab.example.com/api/v4/user",
		func(*http.Request) (*http.Response, error) { panic("boom") })

	var res Result
	assert.NotPanics(t, func() {
		res = c.Call(context.Background(), Request{Token: "t", Endpoint: "/user"})
	})
	assert.True(t, res.Failed())
}

func TestCall_MissingTokenOrEndpoint(t *testing.T) {
	c, transport := newMockClient(t)
	assert.True(t, c.Call(context.Background(), Request{Endpoint: "/user"}).Failed())
	assert.True(t, c.Call(context.Background(), Request{Token: "t"}).Failed())
	assert.Equal(t, 0, transport.GetTotalCallCount())
}

func TestRecentProjectsAndTree(t *testing.T) {
	var queries []map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query())
		switch r.URL.Path {
		case "/api/v4/projects":
			_, _ = w.Write([]byte(`[{"id":3,"path_with_namespace":"acme/web"}]`))
		case "/api/v4/projects/3/repository/tree":
			_, _ = w.Write([]byte(`[{"id":"a1","name":"cmd","type":"tree","path":"src/cmd","mode":"040000"}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := NewClient(Config{BaseURL: srv.URL + "/api/v4"})
	ctx := context.Background()

	projects, err := ListProjects(ctx, c, "t", RecentProjects(0))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(projects))
	assert.Equal(t, []string{"1"}, queries[0]["page"])
	assert.Equal(t, []string{"10"}, queries[0]["per_page"])
	assert.Equal(t, []string{"last_activity_at"}, queries[0]["order_by"])
	assert.Equal(t, []string{"desc"}, queries[0]["sort"])
	assert.Equal(t, []string{"true"}, queries[0]["membership"])

	entries, err := ListTree(ctx, c, "t", 3, "src", "main")
	assert.NoError(t, err)
	assert.Equal(t, []TreeEntry{{ID: "a1", Name: "cmd", Type: "tree", Path: "src/cmd", Mode: "040000"}}, entries)
	assert.Equal(t, []string{"src"}, queries[1]["path"])
	assert.Equal(t, []string{"main"}, queries[1]["ref"])
}

func TestResult_UnmarshalJSON(t *testing.T) {
	var ok Result
	assert.NoError(t, json.Unmarshal([]byte(`{"id":1,"username":"alice"}`), &ok))
	assert.False(t, ok.Failed())
	var u User
	assert.NoError(t, ok.Decode(&u))
	assert.Equal(t, "alice", u.Username)

	var failed Result
	assert.NoError(t, json.Unmarshal([]byte(`{"error":"API returned status code 404","details":"nope"}`), &failed))
	assert.True(t, failed.Failed())
	assert.Equal(t, "nope", failed.Err.Details)
}

func TestAPIBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", DefaultBaseURL},
		{"https://gitlab.com", DefaultBaseURL},
		{"https://gitlab.com/acme/", DefaultBaseURL},
		{"https://git.acme.io", "https://git.acme.io/api/v4"},
		{"https://git.acme.io/", "https://git.acme.io/api/v4"},
		{"https://git.acme.io/api/v4", "https://git.acme.io/api/v4"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, APIBaseURL(tt.in))
		})
	}
}
