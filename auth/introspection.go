package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// IntrospectionVerifier asks an external endpoint who owns a credential. The
// call itself is authenticated with this service's client-credentials token
// when a client is configured. Positive answers are cached.
type IntrospectionVerifier struct {
	endpoint string
	http     *http.Client
	creds    *ClientCred
	cache    *expirable.LRU[string, Identity]
}

// NewIntrospectionVerifier builds a verifier from conf.
func NewIntrospectionVerifier(conf IntrospectionConf) (*IntrospectionVerifier, error) {
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(conf.Endpoint); err != nil {
		return nil, fmt.Errorf("auth: introspection endpoint: %w", err)
	}
	v := &IntrospectionVerifier{
		endpoint: conf.Endpoint,
		http:     &http.Client{Timeout: conf.Timeout},
		cache:    expirable.NewLRU[string, Identity](conf.CacheSize, nil, conf.CacheTTL),
	}
	if conf.Client.ClientID != "" && conf.Client.AuthURL != "" {
		v.creds = NewClientCred(conf.Client)
	}
	return v, nil
}

// introspection is the subset of an RFC 7662 response the verifier reads.
type introspection struct {
	Active bool     `json:"active"`
	Sub    string   `json:"sub"`
	Roles  []string `json:"roles"`
	Scope  string   `json:"scope"`
}

func (v *IntrospectionVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	if id, ok := v.cache.Get(token); ok {
		return id, nil
	}
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if v.creds != nil {
		if err := v.creds.SetAuthHeader(req); err != nil {
			return Identity{}, fmt.Errorf("introspection credentials: %w", err)
		}
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("introspection: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if v.creds != nil {
			// Our own token may have been revoked; the next call fetches a new one.
			_, _ = v.creds.ForceRefresh(ctx)
		}
		return Identity{}, fmt.Errorf("introspection rejected service credentials: %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		return Identity{}, fmt.Errorf("introspection: unexpected status %s", resp.Status)
	}
	var out introspection
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return Identity{}, fmt.Errorf("introspection: decode: %w", err)
	}
	if !out.Active || out.Sub == "" {
		return Identity{}, ErrUnauthenticated
	}
	roles := out.Roles
	if len(roles) == 0 && out.Scope != "" {
		roles = strings.Fields(out.Scope)
	}
	id := Identity{ID: out.Sub, Roles: parseRoles(roles)}
	v.cache.Add(token, id)
	return id, nil
}
