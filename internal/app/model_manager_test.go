package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmett/companion/internal/models"
)

func storeWith(t *testing.T, names ...string) *models.Store {
	t.Helper()
	store := &models.Store{Dir: t.TempDir()}
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(store.Dir, n), 0o755))
	}
	return store
}

func TestModelManagerListModels(t *testing.T) {
	var out bytes.Buffer
	m := NewModelManager(storeWith(t, models.DefaultModelName), &out, strings.NewReader(""))
	require.NoError(t, m.ListModels())

	text := out.String()
	assert.Contains(t, text, "Speech recognition models")
	assert.Contains(t, text, "Local voices")
	assert.Contains(t, text, "en_US-ryan-medium")
	assert.Contains(t, text, "✓ Downloaded")
}

func TestModelManagerListDownloaded(t *testing.T) {
	var out bytes.Buffer
	m := NewModelManager(storeWith(t), &out, strings.NewReader(""))
	require.NoError(t, m.ListDownloaded())
	assert.Contains(t, out.String(), "No models downloaded yet.")

	out.Reset()
	m = NewModelManager(storeWith(t, models.DefaultModelName, "en_US-lessac-medium"), &out, strings.NewReader(""))
	require.NoError(t, m.ListDownloaded())
	assert.Contains(t, out.String(), models.DefaultModelName+" (stt) [DEFAULT]")
	assert.Contains(t, out.String(), "en_US-lessac-medium (voice)")
}

func TestModelManagerSetDefault(t *testing.T) {
	var out bytes.Buffer
	store := storeWith(t)
	m := NewModelManager(store, &out, strings.NewReader(""))

	require.NoError(t, m.SetDefault("vosk-model-en-us-0.22"))
	assert.Equal(t, "vosk-model-en-us-0.22", store.Default())
	assert.Equal(t, "vosk-model-en-us-0.22", m.SelectModel(""))
	assert.Equal(t, "other", m.SelectModel("other"))
	assert.Contains(t, out.String(), "Note:")

	assert.Error(t, m.SetDefault("en_US-lessac-medium"), "voices cannot be the recognizer default")
}

func TestModelManagerEnsure(t *testing.T) {
	var out bytes.Buffer
	store := storeWith(t, models.DefaultModelName)
	m := NewModelManager(store, &out, strings.NewReader("n\n"))

	path, err := m.Ensure(context.Background(), models.DefaultModelName, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Dir, models.DefaultModelName), path)

	_, err = m.Ensure(context.Background(), "vosk-model-en-us-0.22", false)
	assert.ErrorContains(t, err, "declined")
}

func TestModelManagerDownloadKnown(t *testing.T) {
	var out bytes.Buffer
	m := NewModelManager(storeWith(t, models.DefaultModelName), &out, strings.NewReader(""))

	require.NoError(t, m.Download(context.Background(), models.DefaultModelName))
	assert.Contains(t, out.String(), "already downloaded")

	assert.Error(t, m.Download(context.Background(), "no-such-model"))
}
