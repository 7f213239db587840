package application

import (
	"slices"

	"github.com/ericfisherdev/feesync/internal/domain/model"
	"github.com/ericfisherdev/feesync/internal/domain/port/driven"
)

// ProviderRegistry holds the ProviderClient of every enabled provider. It is
// built once at startup and read concurrently by sync workers.
type ProviderRegistry struct {
	clients map[model.Provider]driven.ProviderClient
}

// NewProviderRegistry creates a registry holding the given clients, keyed by
// their Provider(). Nil clients are ignored.
func NewProviderRegistry(clients ...driven.ProviderClient) *ProviderRegistry {
	r := &ProviderRegistry{clients: make(map[model.Provider]driven.ProviderClient, len(clients))}
	for _, c := range clients {
		if c != nil {
			r.clients[c.Provider()] = c
		}
	}
	return r
}

// Get returns the client for provider, or false if the provider is not enabled.
func (r *ProviderRegistry) Get(provider model.Provider) (driven.ProviderClient, bool) {
	c, ok := r.clients[provider]
	return c, ok
}

// Providers returns the enabled providers in name order.
func (r *ProviderRegistry) Providers() []model.Provider {
	out := make([]model.Provider, 0, len(r.clients))
	for p := range r.clients {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
