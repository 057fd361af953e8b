package fixer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

func TestAppendRequirementIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requirements.txt")
	require.NoError(t, os.WriteFile(path, []byte("PyYAML==6.0.1"), 0o644))

	action := models.FixAction{Kind: models.ActionAppendRequirement, Target: path, NewValue: "pyyaml"}
	require.NoError(t, appendRequirement(context.Background(), action))

	action.NewValue = "redis"
	require.NoError(t, appendRequirement(context.Background(), action))
	require.NoError(t, appendRequirement(context.Background(), action))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PyYAML==6.0.1\nredis\n", string(data))
}

func TestWriteMigrationRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrations", "001.sql")
	action := models.FixAction{Kind: models.ActionWriteMigration, Target: path, NewValue: "SELECT 1;"}

	require.NoError(t, writeMigration(context.Background(), action))
	assert.Error(t, writeMigration(context.Background(), action))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;\n", string(data))
}

func TestSetConfigParsesTypedValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	run := func(key, value string) {
		t.Helper()
		require.NoError(t, setConfig(context.Background(), models.FixAction{Target: path, Key: key, NewValue: value}))
	}
	run("http.retry.backoff_seconds", "[1,2,4]")
	run("cors.allowed_origins", `["http://localhost:3000","http://localhost:5173"]`)
	run("ai.model", `"llama-3.3-70b-versatile"`)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "- http://localhost:5173")
	assert.Contains(t, content, "model: llama-3.3-70b-versatile")
	assert.Contains(t, content, "- 4")

	assert.Error(t, setConfig(context.Background(), models.FixAction{Target: path, NewValue: "1"}))
}

func TestPatchSourceRequiresMatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.py")
	require.NoError(t, os.WriteFile(path, []byte("print('ok')\n"), 0o644))

	err := patchSource(context.Background(), models.FixAction{Target: path, Matcher: `item\['price'\]`, NewValue: "item.get('price')"})
	assert.Error(t, err)
}
