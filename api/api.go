// Package api holds the HTTP plumbing shared by the REST handlers: bearer
// authentication, JSON encoding and the mapping of domain errors to status
// codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kilianp07/lastmile/auth"
	"github.com/kilianp07/lastmile/core/channel"
	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/logger"
	"github.com/kilianp07/lastmile/core/monitoring"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

type logKey struct{}

// WithLogger returns a copy of ctx whose requests report failures to l.
// Server installs its logger on every request.
func WithLogger(ctx context.Context, l logger.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, l)
}

func requestLogger(r *http.Request) logger.Logger {
	if l, ok := r.Context().Value(logKey{}).(logger.Logger); ok && l != nil {
		return l
	}
	return logger.NopLogger{}
}

// Authenticate resolves the bearer credential of every request and stores
// the identity in the request context. Requests without a valid credential
// get 401.
func Authenticate(v auth.Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := auth.FromRequest(r)
		if !ok {
			WriteError(w, r, auth.ErrUnauthenticated)
			return
		}
		id, err := v.Verify(r.Context(), tok)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// Router is where handlers mount their routes. *http.ServeMux and Protected
// both satisfy it.
type Router interface {
	HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request))
}

// Protected mounts every route on Mux behind Authenticate, keeping the
// route pattern visible to the mux.
type Protected struct {
	Mux      *http.ServeMux
	Verifier auth.Verifier
}

func (p Protected) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	p.Mux.Handle(pattern, Authenticate(p.Verifier, http.HandlerFunc(handler)))
}

// Identity returns the caller resolved by Authenticate.
func Identity(r *http.Request) (auth.Identity, error) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return auth.Identity{}, auth.ErrUnauthenticated
	}
	return id, nil
}

// RequireRole returns the caller when it declares one of roles.
func RequireRole(r *http.Request, roles ...channel.Role) (auth.Identity, error) {
	id, err := Identity(r)
	if err != nil {
		return id, err
	}
	for _, role := range roles {
		if id.HasRole(role) {
			return id, nil
		}
	}
	return id, fmt.Errorf("%w: requires role %v", delivery.ErrUnauthorized, roles)
}

// DecodeJSON reads a JSON body into v. Decoding failures are validation
// errors.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: body: %v", delivery.ErrValidation, err)
	}
	return nil
}

// WriteJSON encodes v with the given status code.
func WriteJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		requestLogger(r).Errorf("encode response for %s %s: %v", r.Method, r.URL.Path, err)
	}
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// StatusCode maps err onto an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, delivery.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, delivery.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, delivery.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, delivery.ErrConflict),
		errors.Is(err, delivery.ErrInvalidTransition),
		errors.Is(err, delivery.ErrDriverUnavailable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteError answers with the status matching err. Server errors are
// reported and their details hidden from the caller.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		requestLogger(r).Errorw("request failed", err, map[string]any{"method": r.Method, "path": r.URL.Path})
		monitoring.CaptureException(err, map[string]string{"module": "api"})
		msg = "internal error"
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="lastmile"`)
	}
	WriteJSON(w, r, code, ErrorBody{Error: msg})
}
