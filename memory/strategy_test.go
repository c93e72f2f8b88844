package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgate/core"
)

func TestStrategyConfig_Validate(t *testing.T) {
	valid := StrategyConfig{
		Strategy:   core.StrategySemantic,
		Namespaces: []string{"support/{actorId}/facts", "shared/product-docs"},
	}
	assert.NoError(t, valid.Validate())
}

func TestStrategyConfig_ValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		cfg  StrategyConfig
	}{
		{"unknown strategy", StrategyConfig{Strategy: "telepathic", Namespaces: []string{"a"}}},
		{"no namespaces", StrategyConfig{Strategy: core.StrategySummary}},
		{"blank namespace", StrategyConfig{Strategy: core.StrategySummary, Namespaces: []string{"  "}}},
		{"unknown placeholder", StrategyConfig{Strategy: core.StrategySemantic, Namespaces: []string{"support/{tenantId}/facts"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.cfg.Validate())
		})
	}
}

func TestResolveNamespace(t *testing.T) {
	ns, err := ResolveNamespace("support/{actorId}/session/{sessionId}", "user-1", "sess-9")
	require.NoError(t, err)
	assert.Equal(t, "support/user-1/session/sess-9", ns)
}

func TestResolveNamespace_NoPlaceholders(t *testing.T) {
	ns, err := ResolveNamespace("shared/product-docs", "user-1", "sess-9")
	require.NoError(t, err)
	assert.Equal(t, "shared/product-docs", ns)
}

func TestResolveNamespace_RepeatedPlaceholders(t *testing.T) {
	ns, err := ResolveNamespace("{actorId}/{actorId}", "u", "s")
	require.NoError(t, err)
	assert.Equal(t, "u/u", ns)
}

func TestResolveNamespace_ResidualPlaceholderFails(t *testing.T) {
	_, err := ResolveNamespace("support/{tenantId}/facts", "user-1", "sess-9")
	assert.Error(t, err)
}

func TestTurnsNamespaceTemplate_Resolves(t *testing.T) {
	ns, err := ResolveNamespace(TurnsNamespaceTemplate, "user-1", "sess-9")
	require.NoError(t, err)
	assert.Equal(t, "turns/user-1/sess-9", ns)
}
