// Package providers defines the contract external data sources
// implement and a registry the API layer dispatches fetches through.
package providers

import (
	"context"
	"fmt"

	"github.com/rjenkins/airmarket/internal/market"
)

// Provider fetches raw records from one external data source. Records
// are returned unmodified; normalization happens downstream.
type Provider interface {
	Source() market.Source
	Fetch(ctx context.Context) ([]market.RawRecord, error)
}

// Registry maps source tags to providers.
type Registry struct {
	providers map[market.Source]Provider
}

// NewRegistry creates a registry over the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[market.Source]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Source()] = p
	}
	return r
}

// Get returns the provider for a source.
func (r *Registry) Get(source market.Source) (Provider, error) {
	p, ok := r.providers[source]
	if !ok {
		return nil, fmt.Errorf("no provider registered for source %s", source)
	}
	return p, nil
}

// Sources lists the registered source tags.
func (r *Registry) Sources() []market.Source {
	out := make([]market.Source, 0, len(r.providers))
	for s := range r.providers {
		out = append(out, s)
	}
	return out
}
