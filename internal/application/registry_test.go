package application_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/feesync/internal/application"
	"github.com/ericfisherdev/feesync/internal/domain/model"
)

func TestProviderRegistry_GetReturnsRegisteredClient(t *testing.T) {
	mollie := &mockProviderClient{provider: model.ProviderMollie}
	registry := application.NewProviderRegistry(mollie, nil)

	got, ok := registry.Get(model.ProviderMollie)
	require.True(t, ok)
	assert.Same(t, mollie, got)

	_, ok = registry.Get(model.ProviderSumUp)
	assert.False(t, ok)
}

func TestProviderRegistry_ProvidersSorted(t *testing.T) {
	registry := application.NewProviderRegistry(
		&mockProviderClient{provider: model.ProviderSumUp},
		&mockProviderClient{provider: model.ProviderMollie},
	)
	assert.Equal(t, []model.Provider{model.ProviderMollie, model.ProviderSumUp}, registry.Providers())
}

func TestProviderRegistry_LastClientPerProviderWins(t *testing.T) {
	first := &mockProviderClient{provider: model.ProviderSumUp}
	second := &mockProviderClient{provider: model.ProviderSumUp}

	registry := application.NewProviderRegistry(first, second)

	got, ok := registry.Get(model.ProviderSumUp)
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, []model.Provider{model.ProviderSumUp}, registry.Providers())
}
