package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("NODE_ENV", "")
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "")
	t.Setenv("BB_FUNCTIONS_PHASE", "")
	t.Setenv("BB_FUNCTIONS_MANIFESTS_DIR", "")

	cfg := FromEnv()
	assert.Equal(t, EnvLocal, cfg.Environment)
	assert.Equal(t, DefaultRuntimeAPI, cfg.RuntimeAPI)
	assert.Equal(t, PhaseRuntime, cfg.Phase)
	assert.NotEmpty(t, cfg.ManifestsDir)
	assert.False(t, cfg.Production())
	assert.Equal(t, "http://"+DefaultRuntimeAPI, cfg.BaseURL())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("NODE_ENV", "production")
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "10.0.0.5:9001")
	t.Setenv("BB_FUNCTIONS_PHASE", "introspect")
	t.Setenv("BB_FUNCTIONS_MANIFESTS_DIR", "/tmp/manifests")

	cfg := FromEnv()
	assert.Equal(t, EnvProduction, cfg.Environment)
	assert.Equal(t, "10.0.0.5:9001", cfg.RuntimeAPI)
	assert.Equal(t, PhaseIntrospect, cfg.Phase)
	assert.Equal(t, "/tmp/manifests", cfg.ManifestsDir)
	assert.True(t, cfg.Production())
}

func TestFromEnv_SnapshotIsImmutable(t *testing.T) {
	t.Setenv("AWS_LAMBDA_RUNTIME_API", "127.0.0.1:5000")
	cfg := FromEnv()

	t.Setenv("AWS_LAMBDA_RUNTIME_API", "127.0.0.1:6000")
	assert.Equal(t, "127.0.0.1:5000", cfg.RuntimeAPI)
}
