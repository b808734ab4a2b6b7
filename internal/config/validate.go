package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidRule is wrapped by every proxy rule validation error.
var ErrInvalidRule = errors.New("invalid proxy rule")

// IsPattern reports whether the rule context is a regular expression.
func (r ProxyRule) IsPattern() bool {
	return strings.HasPrefix(r.Context, "^")
}

// Validate checks that the rule can be compiled into a route.
func (r ProxyRule) Validate() error {
	if strings.TrimSpace(r.Context) == "" {
		return fmt.Errorf("%w: context: required field missing", ErrInvalidRule)
	}
	if r.IsPattern() {
		if _, err := regexp.Compile(r.Context); err != nil {
			return fmt.Errorf("%w: context %q: %v", ErrInvalidRule, r.Context, err)
		}
	} else if !strings.HasPrefix(r.Context, "/") {
		return fmt.Errorf("%w: context %q: must start with '/' or '^'", ErrInvalidRule, r.Context)
	}
	if strings.TrimSpace(r.Target) == "" {
		return fmt.Errorf("%w: target: required field missing", ErrInvalidRule)
	}
	u, err := url.Parse(r.Target)
	if err != nil {
		return fmt.Errorf("%w: target %q: %v", ErrInvalidRule, r.Target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: target %q: scheme must be http or https", ErrInvalidRule, r.Target)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: target %q: missing host", ErrInvalidRule, r.Target)
	}
	for i, rw := range r.Rewrite {
		if rw.Pattern == "" {
			return fmt.Errorf("%w: rewrite[%d].pattern: required field missing", ErrInvalidRule, i)
		}
		if _, err := regexp.Compile(rw.Pattern); err != nil {
			return fmt.Errorf("%w: rewrite[%d].pattern %q: %v", ErrInvalidRule, i, rw.Pattern, err)
		}
	}
	return nil
}

// validateRules returns the valid rules in their original order along with
// an error for every rule that was dropped.
func validateRules(rules []ProxyRule) ([]ProxyRule, []error) {
	var errs []error
	valid := make([]ProxyRule, 0, len(rules))
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("proxy[%d]: %w", i, err))
			continue
		}
		if _, dup := seen[r.Context]; dup {
			errs = append(errs, fmt.Errorf("proxy[%d]: %w: duplicate context %q", i, ErrInvalidRule, r.Context))
			continue
		}
		seen[r.Context] = struct{}{}
		valid = append(valid, r)
	}
	return valid, errs
}
