package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFromBytesDefaults(t *testing.T) {
	c, err := LoadFromBytes([]byte(`Port: 9333`))
	require.NoError(t, err)
	require.Equal(t, 9333, c.Port)
	require.Equal(t, "0.0.0.0", c.Host)
	require.False(t, c.IsTestEndpointsEnabled())
	require.Equal(t, "0.0.0.0:9333", c.Addr())
}

func TestLoadFromBytesEnvExpansion(t *testing.T) {
	t.Setenv("CDPGATEWAY_TEST_ENDPOINTS", "true")
	c, err := LoadFromBytes([]byte("TestEndpoints: \"${CDPGATEWAY_TEST_ENDPOINTS}\"\n"))
	require.NoError(t, err)
	require.True(t, c.IsTestEndpointsEnabled())
}

func TestParseBoolVariants(t *testing.T) {
	require.True(t, parseBool("true", false))
	require.True(t, parseBool("1", false))
	require.True(t, parseBool("yes", false))
	require.False(t, parseBool("no", true))
	require.True(t, parseBool("", true))
}

func TestAddrFallsBackWhenUnset(t *testing.T) {
	var c Config
	require.Equal(t, "0.0.0.0:9333", c.Addr())
}
