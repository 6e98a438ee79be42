package auth

import (
	"fmt"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// Conf holds the client credentials this service uses towards the identity
// provider.
type Conf struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURL      string   `json:"auth_url"`
	Scopes       []string `json:"scopes"`
}

func (c *Conf) toOauth2Config() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.AuthURL,
		Scopes:       c.Scopes,
	}
}

// IntrospectionConf configures the introspection verifier.
type IntrospectionConf struct {
	// Endpoint receives POST token=<credential> and answers with the
	// identity of the bearer.
	Endpoint string `json:"endpoint"`
	Client   Conf   `json:"client"`
	// CacheSize bounds the number of cached positive verifications.
	CacheSize int `json:"cache_size"`
	// CacheTTL is how long a positive verification is trusted.
	CacheTTL time.Duration `json:"cache_ttl"`
	Timeout  time.Duration `json:"timeout"`
}

// SetDefaults applies sane defaults.
func (c *IntrospectionConf) SetDefaults() {
	if c.CacheSize <= 0 {
		c.CacheSize = 4096
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// Validate checks mandatory fields.
func (c IntrospectionConf) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("auth: introspection endpoint is required")
	}
	return nil
}

// StaticToken maps one bearer credential to an identity.
type StaticToken struct {
	Token string   `json:"token"`
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// StaticConf configures the static verifier.
type StaticConf struct {
	Tokens []StaticToken `json:"tokens"`
}
