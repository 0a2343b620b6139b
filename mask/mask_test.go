package mask

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMask_DeterministicAcrossCallSites(t *testing.T) {
	m, err := New([]byte("fixed-test-salt"))
	require.NoError(t, err)

	a := m.Mask("user:42")
	b := m.Mask("user:42")
	require.Equal(t, a, b)
	require.Contains(t, a, "sha256:")
	require.NotContains(t, a, "user:42")
}

func TestMask_DifferentSaltsDifferentOutput(t *testing.T) {
	m1, err := New([]byte("salt-one"))
	require.NoError(t, err)
	m2, err := New([]byte("salt-two"))
	require.NoError(t, err)

	require.NotEqual(t, m1.Mask("same-key"), m2.Mask("same-key"))
}

func TestFilterSensitiveConfig_RedactsNestedValues(t *testing.T) {
	in := map[string]any{
		"storage.type": "distributed",
		"redis": map[string]any{
			"password": "hunter2",
			"host":     "redis.internal",
		},
		"proxies": []any{
			map[string]any{"apiKey": "abc123", "name": "edge-1"},
		},
	}

	out := FilterSensitiveConfig(in).(map[string]any)
	require.Equal(t, "distributed", out["storage.type"])

	authOut := out["redis"].(map[string]any)
	require.Equal(t, redactedValue, authOut["password"])
	require.Equal(t, "redis.internal", authOut["host"])

	proxies := out["proxies"].([]any)
	proxy0 := proxies[0].(map[string]any)
	require.Equal(t, redactedValue, proxy0["apiKey"])
	require.Equal(t, "edge-1", proxy0["name"])
}
