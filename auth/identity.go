package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/delivery"
)

// ErrUnauthenticated is returned when a credential is missing or rejected.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the resolved bearer of a credential.
type Identity struct {
	ID    string         `json:"id"`
	Roles []channel.Role `json:"roles"`
}

// HasRole reports whether the identity declares role.
func (i Identity) HasRole(role channel.Role) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Actor returns the identity as a mutation actor.
func (i Identity) Actor() delivery.Actor {
	return delivery.Actor{ID: i.ID, Dispatcher: i.HasRole(channel.RoleDispatcher)}
}

// Channels lists the channel of every role the identity declares.
func (i Identity) Channels() []channel.Name {
	var out []channel.Name
	for _, r := range i.Roles {
		if n, ok := channel.For(r, i.ID); ok {
			out = append(out, n)
		}
	}
	return out
}

// Verifier resolves a bearer credential.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// FromRequest extracts the bearer credential from the Authorization header
// or, for clients unable to set headers on a WebSocket handshake, from the
// token query parameter.
func FromRequest(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
			return "", false
		}
		return strings.TrimSpace(tok), true
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, true
	}
	return "", false
}

func parseRoles(in []string) []channel.Role {
	out := make([]channel.Role, 0, len(in))
	for _, r := range in {
		r = strings.ToLower(strings.TrimSpace(r))
		if r != "" {
			out = append(out, channel.Role(r))
		}
	}
	return out
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
