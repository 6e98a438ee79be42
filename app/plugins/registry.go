// Package plugins resolves the configurable backends of the service by
// module type.
package plugins

import (
	"github.com/kilianp07/lastmile/auth"
	"github.com/kilianp07/lastmile/core/delivery"
	"github.com/kilianp07/lastmile/core/factory"
)

var (
	// Stores builds delivery and driver record stores.
	Stores = factory.NewRegistry[delivery.Backend]()
	// Verifiers builds bearer credential verifiers.
	Verifiers = factory.NewRegistry[auth.Verifier]()
)

func RegisterStore(name string, f factory.Factory[delivery.Backend]) error {
	return Stores.Register(name, f)
}

func RegisterVerifier(name string, f factory.Factory[auth.Verifier]) error {
	return Verifiers.Register(name, f)
}

// NewStore creates the store selected by cfg.
func NewStore(cfg factory.ModuleConfig) (delivery.Backend, error) {
	return Stores.Create(cfg)
}

// NewVerifier creates the verifier selected by cfg.
func NewVerifier(cfg factory.ModuleConfig) (auth.Verifier, error) {
	return Verifiers.Create(cfg)
}
