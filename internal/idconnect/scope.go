package idconnect

import (
	"strings"

	"moff.io/idconnect/pkg/errors"
)

// Scope is a permission requested from the id provider.
type Scope string

const (
	ScopeOpenID  Scope = "openid"
	ScopeWallet  Scope = "wallet"
	ScopeEmail   Scope = "email"
	ScopeProfile Scope = "profile"
)

var knownScopes = map[Scope]bool{
	ScopeOpenID:  true,
	ScopeWallet:  true,
	ScopeEmail:   true,
	ScopeProfile: true,
}

// ParseScope accepts one of the known scope names, case-insensitively.
func ParseScope(s string) (Scope, error) {
	scope := Scope(strings.ToLower(strings.TrimSpace(s)))
	if !knownScopes[scope] {
		return "", errors.Errorf("unknown scope %q", s)
	}
	return scope, nil
}

// Scopes is an ordered set of scopes.
type Scopes []Scope

// ParseScopes parses names into a de-duplicated set keeping first-seen order.
func ParseScopes(names []string) (Scopes, error) {
	out := make(Scopes, 0, len(names))
	for _, n := range names {
		scope, err := ParseScope(n)
		if err != nil {
			return nil, err
		}
		out = out.add(scope)
	}
	return out, nil
}

func (s Scopes) add(scope Scope) Scopes {
	for _, have := range s {
		if have == scope {
			return s
		}
	}
	return append(s, scope)
}

// String renders the space-delimited scope parameter.
func (s Scopes) String() string {
	parts := make([]string, len(s))
	for i, scope := range s {
		parts[i] = string(scope)
	}
	return strings.Join(parts, " ")
}
