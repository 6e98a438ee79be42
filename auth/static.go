package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
)

// StaticVerifier accepts a fixed set of credentials.
type StaticVerifier struct {
	tokens []StaticToken
}

// NewStaticVerifier builds a verifier from conf.
func NewStaticVerifier(conf StaticConf) (*StaticVerifier, error) {
	seen := map[string]bool{}
	for i, t := range conf.Tokens {
		if t.Token == "" || t.ID == "" {
			return nil, fmt.Errorf("auth: static token %d needs token and id", i)
		}
		if seen[t.Token] {
			return nil, fmt.Errorf("auth: duplicate static token for %s", t.ID)
		}
		seen[t.Token] = true
	}
	return &StaticVerifier{tokens: append([]StaticToken(nil), conf.Tokens...)}, nil
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	for _, t := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1 {
			return Identity{ID: t.ID, Roles: parseRoles(t.Roles)}, nil
		}
	}
	return Identity{}, ErrUnauthenticated
}
