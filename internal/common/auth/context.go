// Package auth validates bearer tokens and carries the authenticated
// principal through request contexts.
package auth

import (
	"context"
	"errors"
)

type contextKey string

const principalKey contextKey = "principal"

// ErrNoPrincipal is returned when a context carries no principal.
var ErrNoPrincipal = errors.New("no principal in context")

// Principal identifies the caller. Role is the role asserted by the token;
// services re-read the user record before trusting it for decisions.
type Principal struct {
	UserID    string
	CompanyID string
	Role      string
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the principal from ctx.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}
