package admission_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/system-design-library/pkg/admission"
)

func TestLoadEnvConfigAppliesDefaults(t *testing.T) {
	cfg, err := admission.LoadEnvConfig()
	require.NoError(t, err)

	require.Equal(t, int32(100), cfg.Connections.MaxConnectionsPerIP)
	require.Equal(t, int32(64), cfg.Rates.MaxPolicies)
	require.Equal(t, int32(60), cfg.Rates.BucketTemplate.CapacityTokens)
}
