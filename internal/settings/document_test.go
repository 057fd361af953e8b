package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# application settings
ai:
  model: llama3-70b-8192 # primary model
  request_delay_seconds: 0.8
  batch_size: 5
cors:
  allowed_origins:
    - http://localhost:3000
`

func TestLookupValues(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)

	delay, ok := doc.Float("ai.request_delay_seconds")
	require.True(t, ok)
	assert.InDelta(t, 0.8, delay, 1e-9)

	model, ok := doc.String("ai.model")
	require.True(t, ok)
	assert.Equal(t, "llama3-70b-8192", model)

	origins, ok := doc.Strings("cors.allowed_origins")
	require.True(t, ok)
	assert.Equal(t, []string{"http://localhost:3000"}, origins)

	_, ok = doc.Float("ai.missing")
	assert.False(t, ok)
	_, ok = doc.Float("ai.model.deeper")
	assert.False(t, ok)
}

func TestSetReplacesAndCreates(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)

	prev, err := doc.Set("ai.model", "llama-3.3-70b-versatile")
	require.NoError(t, err)
	assert.Equal(t, "llama3-70b-8192", prev)

	prev, err = doc.Set("http.retry.max_attempts", 3)
	require.NoError(t, err)
	assert.Empty(t, prev)

	_, err = doc.Set("http.retry.backoff_seconds", []int{1, 2, 4})
	require.NoError(t, err)

	out, err := doc.Bytes()
	require.NoError(t, err)

	reparsed, err := Parse(out)
	require.NoError(t, err)
	model, _ := reparsed.String("ai.model")
	assert.Equal(t, "llama-3.3-70b-versatile", model)
	attempts, _ := reparsed.Float("http.retry.max_attempts")
	assert.Equal(t, 3.0, attempts)
	backoff, _ := reparsed.Strings("http.retry.backoff_seconds")
	assert.Equal(t, []string{"1", "2", "4"}, backoff)
	assert.Contains(t, string(out), "# application settings")
}

func TestSetThroughScalarFails(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)
	_, err = doc.Set("ai.model.name", "x")
	assert.ErrorIs(t, err, ErrNotMapping)
}

func TestFileReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	reader := FileReader{Path: path}

	_, ok := reader.Float("ai.request_delay_seconds")
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	delay, ok := reader.Float("ai.request_delay_seconds")
	require.True(t, ok)
	assert.InDelta(t, 0.8, delay, 1e-9)
}
