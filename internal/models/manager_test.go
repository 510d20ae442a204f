package models

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// redirect sends every request to the test server, keeping the path
type redirect struct{ target *url.URL }

func (r redirect) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = r.target.Scheme
	req.URL.Host = r.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestStore(t *testing.T, handler http.Handler) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	target, err := url.Parse(srv.URL)
	require.NoError(t, err)

	return &Store{Dir: t.TempDir(), Client: &http.Client{Transport: redirect{target: target}}}
}

func TestDownloadSpeechModel(t *testing.T) {
	archive := zipArchive(t, map[string]string{
		"vosk-model-small-en-us-0.15/am/final.mdl": "model",
		"vosk-model-small-en-us-0.15/conf/mfcc":    "conf",
	})
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vosk/models/vosk-model-small-en-us-0.15.zip", r.URL.Path)
		w.Write(archive)
	}))

	var last int64
	err := store.Download(context.Background(), DefaultModelName, func(done, total int64) { last = done })
	require.NoError(t, err)
	assert.Equal(t, int64(len(archive)), last)

	path, err := store.Path(DefaultModelName)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(path, "am", "final.mdl"))
	require.NoError(t, err)
	assert.Equal(t, "model", string(data))

	_, err = os.Stat(filepath.Join(store.Dir, DefaultModelName+".zip"))
	assert.True(t, os.IsNotExist(err), "archive is removed after extraction")

	names, err := store.Downloaded(KindSpeechModel)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultModelName}, names)
}

func TestDownloadVoice(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(filepath.Base(r.URL.Path)))
	}))

	require.NoError(t, store.Download(context.Background(), "en_US-ryan-medium", nil))

	onnx, err := store.VoicePath("en_US-ryan-medium")
	require.NoError(t, err)
	data, err := os.ReadFile(onnx)
	require.NoError(t, err)
	assert.Equal(t, "en_US-ryan-medium.onnx", string(data))
	assert.FileExists(t, onnx+".json")

	voices, err := store.Downloaded(KindVoice)
	require.NoError(t, err)
	assert.Equal(t, []string{"en_US-ryan-medium"}, voices)
}

func TestDownloadFailure(t *testing.T) {
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))

	err := store.Download(context.Background(), "en_US-lessac-medium", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	ok, err := store.IsDownloaded("en_US-lessac-medium")
	require.NoError(t, err)
	assert.False(t, ok, "a failed voice download leaves nothing behind")

	assert.Error(t, store.Download(context.Background(), "no-such-model", nil))
}

func TestEnsure(t *testing.T) {
	calls := 0
	archive := zipArchive(t, map[string]string{DefaultModelName + "/README": "x"})
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(archive)
	}))

	_, err := store.Ensure(context.Background(), DefaultModelName, false, nil)
	require.Error(t, err)
	assert.Zero(t, calls)

	path, err := store.Ensure(context.Background(), DefaultModelName, true, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Dir, DefaultModelName), path)

	_, err = store.Ensure(context.Background(), DefaultModelName, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDefaultModel(t *testing.T) {
	store := &Store{Dir: t.TempDir()}
	assert.Equal(t, DefaultModelName, store.Default())

	require.NoError(t, store.SetDefault("vosk-model-en-us-0.22-lgraph"))
	assert.Equal(t, "vosk-model-en-us-0.22-lgraph", store.Default())

	assert.Error(t, store.SetDefault("en_US-ryan-medium"), "voices are not recognizer models")
	assert.Error(t, store.SetDefault("unknown"))
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(zipPath, zipArchive(t, map[string]string{"../escape.txt": "boom"}), 0o644))

	dest := filepath.Join(dir, "out")
	err := extractZip(zipPath, dest)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "illegal file path"))
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}

func TestByKind(t *testing.T) {
	for _, m := range ByKind(KindVoice) {
		assert.NotEmpty(t, m.Gender)
		assert.Len(t, m.URLs, 2)
	}
	assert.Len(t, ByKind(KindSpeechModel), 3)
}
