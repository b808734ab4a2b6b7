package routes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rathix/devserver/internal/config"
)

func defaultTable(t *testing.T) *Table {
	t.Helper()
	table, err := Compile(config.Default().Proxy)
	require.NoError(t, err)
	return table
}

func TestCompile_PreservesDeclarationOrder(t *testing.T) {
	table := defaultTable(t)
	require.Equal(t, 2, table.Len())

	routes := table.Routes()
	assert.Equal(t, "/api/summarize", routes[0].Context())
	assert.Equal(t, "/api", routes[1].Context())
}

func TestDefaultTable_Forwarding(t *testing.T) {
	table := defaultTable(t)

	cases := []struct {
		name         string
		path         string
		query        string
		wantRule     string
		wantURL      string
		wantWS       bool
		changeOrigin bool
	}{
		{
			name:     "summarize exact",
			path:     "/api/summarize",
			wantRule: "/api/summarize",
			wantURL:  "http://localhost:5002/summarize",
			wantWS:   true,
		},
		{
			name:     "summarize subpath",
			path:     "/api/summarize/report",
			wantRule: "/api/summarize",
			wantURL:  "http://localhost:5002/report",
			wantWS:   true,
		},
		{
			name:     "summarize trailing slash",
			path:     "/api/summarize/",
			wantRule: "/api/summarize",
			wantURL:  "http://localhost:5002/",
			wantWS:   true,
		},
		{
			name:     "summarize keeps query",
			path:     "/api/summarize/report",
			query:    "format=md",
			wantRule: "/api/summarize",
			wantURL:  "http://localhost:5002/report?format=md",
			wantWS:   true,
		},
		{
			name:     "general api",
			path:     "/api/users/42",
			wantRule: "/api",
			wantURL:  "http://localhost:5002/users/42",
		},
		{
			name:     "api health",
			path:     "/api/health",
			wantRule: "/api",
			wantURL:  "http://localhost:5002/health",
		},
		{
			name:     "bare api",
			path:     "/api",
			wantRule: "/api",
			wantURL:  "http://localhost:5002/",
		},
		{
			name:     "prefix without separator",
			path:     "/apiary",
			wantRule: "/api",
			wantURL:  "http://localhost:5002/ary",
		},
		{
			name:     "summarize prefix without separator",
			path:     "/api/summarizer",
			wantRule: "/api/summarize",
			wantURL:  "http://localhost:5002/r",
			wantWS:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			route, ok := table.Match(tc.path)
			require.True(t, ok, "expected %s to match", tc.path)
			assert.Equal(t, tc.wantRule, route.Context())
			assert.Equal(t, tc.wantURL, route.Forward(tc.path, tc.query).String())
			assert.Equal(t, tc.wantWS, route.Rule.WS)
			assert.True(t, route.Rule.ChangeOrigin)
		})
	}
}

func TestMatch_NoRouteForOtherPaths(t *testing.T) {
	table := defaultTable(t)
	for _, p := range []string{"/", "/index.html", "/assets/app.js", "/ap", "/API/users"} {
		_, ok := table.Match(p)
		assert.False(t, ok, "%s should not match", p)
	}
}

func TestMatch_FirstMatchWinsOverLongerLaterRule(t *testing.T) {
	table, err := Compile([]config.ProxyRule{
		{Context: "/api", Target: "http://general:1"},
		{Context: "/api/summarize", Target: "http://specific:2"},
	})
	require.NoError(t, err)

	route, ok := table.Match("/api/summarize/report")
	require.True(t, ok)
	assert.Equal(t, "/api", route.Context(), "declaration order must win over prefix length")
}

func TestMatch_RegexContext(t *testing.T) {
	table, err := Compile([]config.ProxyRule{
		{Context: `^/v\d+/`, Target: "http://versioned:1"},
		{Context: "/v", Target: "http://fallback:2"},
	})
	require.NoError(t, err)

	route, ok := table.Match("/v2/items")
	require.True(t, ok)
	assert.Equal(t, `^/v\d+/`, route.Context())

	route, ok = table.Match("/vendor")
	require.True(t, ok)
	assert.Equal(t, "/v", route.Context())
}

func TestRewritePath_NoRewriteKeepsPath(t *testing.T) {
	table, err := Compile([]config.ProxyRule{{Context: "/static", Target: "http://cdn:1"}})
	require.NoError(t, err)

	route, _ := table.Match("/static/app.css")
	assert.Equal(t, "/static/app.css", route.RewritePath("/static/app.css"))
}

func TestRewritePath_OnlyFirstMatchingRewriteApplies(t *testing.T) {
	table, err := Compile([]config.ProxyRule{{
		Context: "/x",
		Target:  "http://h:1",
		Rewrite: []config.PathRewrite{
			{Pattern: "^/x", Replace: "/y"},
			{Pattern: "^/y", Replace: "/z"},
		},
	}})
	require.NoError(t, err)

	route, _ := table.Match("/x/1")
	assert.Equal(t, "/y/1", route.RewritePath("/x/1"))
}

func TestForward_TargetWithBasePathAndQuery(t *testing.T) {
	table, err := Compile([]config.ProxyRule{{
		Context: "/api",
		Target:  "https://backend.test/v1/?key=abc",
		Rewrite: []config.PathRewrite{{Pattern: "^/api", Replace: ""}},
	}})
	require.NoError(t, err)

	route, _ := table.Match("/api/users")
	u := route.Forward("/api/users", "page=2")
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "backend.test", u.Host)
	assert.Equal(t, "/v1/users", u.Path)
	assert.Equal(t, "key=abc&page=2", u.RawQuery)
}

func TestForward_KeepsEscapedSegments(t *testing.T) {
	table, err := Compile(config.Default().Proxy)
	require.NoError(t, err)

	cases := []struct {
		in      string
		rawPath string
		path    string
	}{
		{"/api/files/a%2Fb", "/files/a%2Fb", "/files/a/b"},
		{"/api/files/a%2Fb%20c", "/files/a%2Fb%20c", "/files/a/b c"},
		{"/api/summarize/doc%2F1", "/doc%2F1", "/doc/1"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			route, ok := table.Match(tc.in)
			require.True(t, ok)
			u := route.Forward(tc.in, "")
			assert.Equal(t, tc.rawPath, u.EscapedPath())
			assert.Equal(t, tc.path, u.Path)
			assert.Equal(t, "http://localhost:5002"+tc.rawPath, u.String())
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	cases := map[string][]config.ProxyRule{
		"empty context": {{Context: "", Target: "http://h:1"}},
		"bad scheme":    {{Context: "/a", Target: "ws://h:1"}},
		"no host":       {{Context: "/a", Target: "http://"}},
		"bad regex":     {{Context: "^(", Target: "http://h:1"}},
		"bad rewrite":   {{Context: "/a", Target: "http://h:1", Rewrite: []config.PathRewrite{{Pattern: "["}}}},
		"duplicate": {
			{Context: "/a", Target: "http://h:1"},
			{Context: "/a", Target: "http://h:2"},
		},
	}
	for name, rules := range cases {
		t.Run(name, func(t *testing.T) {
			table, err := Compile(rules)
			assert.Nil(t, table)
			assert.True(t, errors.Is(err, config.ErrInvalidRule), "got %v", err)
		})
	}
}

func TestNilTable(t *testing.T) {
	var table *Table
	_, ok := table.Match("/api")
	assert.False(t, ok)
	assert.Zero(t, table.Len())
	assert.Nil(t, table.Routes())
}
