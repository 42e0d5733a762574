package runtime

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserbase/functions/internal/domain"
)

func nopHandler(context.Context, *domain.InvocationContext, map[string]any) (any, error) {
	return nil, nil
}

func TestApp_IntrospectWritesManifests(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "manifests")
	app := NewApp(Config{Phase: PhaseIntrospect, ManifestsDir: dir}, nil)

	require.NoError(t, app.Register("first", nopHandler, domain.FunctionConfig{
		SessionConfig: map[string]any{"region": "us-west-2"},
	}))
	require.NoError(t, app.Register("second", nopHandler, domain.FunctionConfig{}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	data, err := os.ReadFile(filepath.Join(dir, "first.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"us-west-2"`)

	// Introspect Start is a no-op: manifests were already written.
	assert.NoError(t, app.Start(context.Background()))
}

func TestApp_FirstRegistrationClearsStaleManifests(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "manifests")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	stale := filepath.Join(dir, "removed-function.json")
	require.NoError(t, os.WriteFile(stale, []byte(`{"name":"removed-function","config":{}}`), 0o644))

	app := NewApp(Config{Phase: PhaseIntrospect, ManifestsDir: dir}, nil)
	require.NoError(t, app.Register("current", nopHandler, domain.FunctionConfig{}))

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))

	// Re-registering does not clear the directory again.
	require.NoError(t, app.Register("current", nopHandler, domain.FunctionConfig{}))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestApp_RuntimePhaseDoesNotWriteManifests(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "manifests")
	app := NewApp(Config{Phase: PhaseRuntime, ManifestsDir: dir}, nil)

	require.NoError(t, app.Register("fn", nopHandler, domain.FunctionConfig{}))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 1, app.Registry().Len())
}

func TestApp_ReRegistrationReplacesHandler(t *testing.T) {
	app := NewApp(Config{Phase: PhaseRuntime}, nil)

	require.NoError(t, app.Register("fn", func(context.Context, *domain.InvocationContext, map[string]any) (any, error) {
		return "old", nil
	}, domain.FunctionConfig{}))
	require.NoError(t, app.Register("fn", func(context.Context, *domain.InvocationContext, map[string]any) (any, error) {
		return "new", nil
	}, domain.FunctionConfig{}))

	result, err := app.Registry().Execute(context.Background(), "fn", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "new", result)
	assert.Equal(t, 1, app.Registry().Len())
}
