package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultIgnoreValues_ContainsSentinels(t *testing.T) {
	vals := DefaultIgnoreValues()
	for _, v := range []string{"n/a", "na", "none", "null", "-", "nan"} {
		_, ok := vals[v]
		require.True(t, ok, "expected %q to be an ignored sentinel value", v)
	}
	_, ok := vals["red sneakers"]
	require.False(t, ok)
}

func TestDefaultColumnConfig_HasUsableDefaults(t *testing.T) {
	cfg := DefaultColumnConfig()
	require.Equal(t, []string{"keywords", "product_name"}, cfg.PriorityColumns)
	require.Equal(t, "text", cfg.TextColumn)
	require.Equal(t, []string{"objects", "text"}, cfg.FallbackColumns)
	require.Equal(t, "image_path", cfg.ImagePathColumn)
	require.NotNil(t, cfg.IgnoreValues)
}
