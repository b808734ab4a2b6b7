// Package routes compiles proxy rules into an ordered, immutable routing
// table. Matching is first-match in declaration order; the table never
// reorders rules, so a specific prefix must be declared before any broader
// prefix that contains it.
package routes

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rathix/devserver/internal/config"
)

// Route is a compiled proxy rule.
type Route struct {
	Rule   config.ProxyRule
	Target *url.URL

	pattern  *regexp.Regexp
	rewrites []rewrite
}

type rewrite struct {
	re      *regexp.Regexp
	replace string
}

// Table is an ordered list of routes. It is safe for concurrent use and
// must not be modified after Compile returns.
type Table struct {
	routes []*Route
}

// Compile validates and compiles rules, preserving their order.
func Compile(rules []config.ProxyRule) (*Table, error) {
	t := &Table{routes: make([]*Route, 0, len(rules))}
	seen := make(map[string]struct{}, len(rules))
	for i, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("proxy[%d]: %w", i, err)
		}
		if _, dup := seen[rule.Context]; dup {
			return nil, fmt.Errorf("proxy[%d]: %w: duplicate context %q", i, config.ErrInvalidRule, rule.Context)
		}
		seen[rule.Context] = struct{}{}

		r, err := compileRoute(rule)
		if err != nil {
			return nil, fmt.Errorf("proxy[%d]: %w", i, err)
		}
		t.routes = append(t.routes, r)
	}
	return t, nil
}

func compileRoute(rule config.ProxyRule) (*Route, error) {
	target, err := url.Parse(rule.Target)
	if err != nil {
		return nil, err
	}
	r := &Route{Rule: rule, Target: target}
	if rule.IsPattern() {
		r.pattern = regexp.MustCompile(rule.Context)
	}
	for _, rw := range rule.Rewrite {
		r.rewrites = append(r.rewrites, rewrite{
			re:      regexp.MustCompile(rw.Pattern),
			replace: rw.Replace,
		})
	}
	return r, nil
}

// Match returns the first route whose context matches path.
func (t *Table) Match(path string) (*Route, bool) {
	if t == nil {
		return nil, false
	}
	for _, r := range t.routes {
		if r.matches(path) {
			return r, true
		}
	}
	return nil, false
}

// Routes returns the routes in match order.
func (t *Table) Routes() []*Route {
	if t == nil {
		return nil
	}
	out := make([]*Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

func (r *Route) matches(path string) bool {
	if r.pattern != nil {
		return r.pattern.MatchString(path)
	}
	return strings.HasPrefix(path, r.Rule.Context)
}

// Context returns the rule context used as the route's label.
func (r *Route) Context() string {
	return r.Rule.Context
}

// RewritePath applies the first rewrite whose pattern matches path.
// The result always begins with '/'.
func (r *Route) RewritePath(path string) string {
	for _, rw := range r.rewrites {
		if rw.re.MatchString(path) {
			path = rw.re.ReplaceAllString(path, rw.replace)
			break
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// Forward returns the upstream URL for an escaped request path and raw
// query. The target's own path, if any, is prepended to the rewritten path.
// Escapes such as %2F survive rewriting and reach the upstream unchanged.
func (r *Route) Forward(escapedPath, rawQuery string) *url.URL {
	u := *r.Target
	raw := joinPath(r.Target.EscapedPath(), r.RewritePath(escapedPath))
	if p, err := url.PathUnescape(raw); err == nil {
		u.Path, u.RawPath = p, raw
	} else {
		u.Path, u.RawPath = raw, ""
	}
	u.RawQuery = joinQuery(r.Target.RawQuery, rawQuery)
	return &u
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return strings.TrimSuffix(base, "/") + p
}

func joinQuery(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "&" + b
	}
}
