// Package models manages the on-disk recognizer models and local voices.
package models

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Kind separates recognizer models from synthesis voices
type Kind string

const (
	KindSpeechModel Kind = "stt"
	KindVoice       Kind = "voice"
)

// Model is a downloadable recognizer model or local voice
type Model struct {
	Name        string
	Kind        Kind
	Language    string
	Gender      string // voices only
	Size        string
	URLs        []string // one zip for models, onnx + json for voices
	Description string
}

const piperVoices = "https://huggingface.co/rhasspy/piper-voices/resolve/main/en/en_US/"

// Catalog lists every known model and voice
var Catalog = []Model{
	{
		Name:        "vosk-model-small-en-us-0.15",
		Kind:        KindSpeechModel,
		Language:    "en-US",
		Size:        "40M",
		URLs:        []string{"https://alphacephei.com/vosk/models/vosk-model-small-en-us-0.15.zip"},
		Description: "Lightweight English model, fast but less accurate",
	},
	{
		Name:        "vosk-model-en-us-0.22-lgraph",
		Kind:        KindSpeechModel,
		Language:    "en-US",
		Size:        "128M",
		URLs:        []string{"https://alphacephei.com/vosk/models/vosk-model-en-us-0.22-lgraph.zip"},
		Description: "Medium English model, balanced speed and accuracy",
	},
	{
		Name:        "vosk-model-en-us-0.22",
		Kind:        KindSpeechModel,
		Language:    "en-US",
		Size:        "1.8G",
		URLs:        []string{"https://alphacephei.com/vosk/models/vosk-model-en-us-0.22.zip"},
		Description: "Large English model, slower but more accurate",
	},
	{
		Name:     "en_US-lessac-medium",
		Kind:     KindVoice,
		Language: "en-US",
		Gender:   "female",
		Size:     "63M",
		URLs: []string{
			piperVoices + "lessac/medium/en_US-lessac-medium.onnx",
			piperVoices + "lessac/medium/en_US-lessac-medium.onnx.json",
		},
		Description: "Piper voice, warm female",
	},
	{
		Name:     "en_US-ryan-medium",
		Kind:     KindVoice,
		Language: "en-US",
		Gender:   "male",
		Size:     "63M",
		URLs: []string{
			piperVoices + "ryan/medium/en_US-ryan-medium.onnx",
			piperVoices + "ryan/medium/en_US-ryan-medium.onnx.json",
		},
		Description: "Piper voice, calm male",
	},
}

// DefaultModelName is the recognizer model used when none is configured
const DefaultModelName = "vosk-model-small-en-us-0.15"

const defaultMarker = ".default_model"

// Find looks a model up by name
func Find(name string) *Model {
	for i := range Catalog {
		if Catalog[i].Name == name {
			return &Catalog[i]
		}
	}
	return nil
}

// ByKind returns the catalog entries of one kind
func ByKind(kind Kind) []Model {
	var out []Model
	for _, m := range Catalog {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Store is a directory of downloaded models
type Store struct {
	Dir    string
	Client *http.Client
}

// NewStore returns a store rooted at dir, or ./models when dir is empty
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = filepath.Join(cwd, "models")
	}
	return &Store{Dir: dir, Client: http.DefaultClient}, nil
}

// Path returns the directory of a downloaded model
func (s *Store) Path(name string) (string, error) {
	ok, err := s.IsDownloaded(name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("model not found: %s", name)
	}
	return filepath.Join(s.Dir, name), nil
}

// VoicePath returns the onnx file of a downloaded voice
func (s *Store) VoicePath(name string) (string, error) {
	dir, err := s.Path(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name+".onnx"), nil
}

// IsDownloaded checks if a model directory exists
func (s *Store) IsDownloaded(name string) (bool, error) {
	info, err := os.Stat(filepath.Join(s.Dir, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// Downloaded lists the downloaded catalog entries of one kind
func (s *Store) Downloaded(kind Kind) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read models directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if m := Find(e.Name()); m != nil && m.Kind == kind {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Default returns the configured default recognizer model
func (s *Store) Default() string {
	data, err := os.ReadFile(filepath.Join(s.Dir, defaultMarker))
	if err != nil {
		return DefaultModelName
	}
	if name := strings.TrimSpace(string(data)); name != "" {
		return name
	}
	return DefaultModelName
}

// SetDefault records the default recognizer model
func (s *Store) SetDefault(name string) error {
	m := Find(name)
	if m == nil || m.Kind != KindSpeechModel {
		return fmt.Errorf("unknown model: %s", name)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, defaultMarker), []byte(name), 0o644); err != nil {
		return fmt.Errorf("failed to save default model: %w", err)
	}
	return nil
}

// Ensure returns the path of a model, downloading it first when allowed
func (s *Store) Ensure(ctx context.Context, name string, autoDownload bool, progress func(downloaded, total int64)) (string, error) {
	ok, err := s.IsDownloaded(name)
	if err != nil {
		return "", err
	}
	if !ok {
		if !autoDownload {
			return "", fmt.Errorf("model not found: %s (download it first)", name)
		}
		if err := s.Download(ctx, name, progress); err != nil {
			return "", err
		}
	}
	return filepath.Join(s.Dir, name), nil
}

// Download fetches a catalog entry into the store
func (s *Store) Download(ctx context.Context, name string, progress func(downloaded, total int64)) error {
	m := Find(name)
	if m == nil {
		return fmt.Errorf("unknown model: %s", name)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if m.Kind == KindVoice {
		return s.downloadVoice(ctx, m, progress)
	}

	zipPath := filepath.Join(s.Dir, name+".zip")
	defer os.Remove(zipPath)

	if err := s.fetch(ctx, m.URLs[0], zipPath, progress); err != nil {
		return err
	}
	if err := extractZip(zipPath, s.Dir); err != nil {
		return fmt.Errorf("failed to extract model: %w", err)
	}
	return nil
}

func (s *Store) downloadVoice(ctx context.Context, m *Model, progress func(downloaded, total int64)) error {
	tmp, err := os.MkdirTemp(s.Dir, m.Name+".partial-")
	if err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	for _, url := range m.URLs {
		dest := filepath.Join(tmp, filepath.Base(url))
		if err := s.fetch(ctx, url, dest, progress); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, filepath.Join(s.Dir, m.Name)); err != nil {
		return fmt.Errorf("failed to install voice: %w", err)
	}
	return nil
}

func (s *Store) fetch(ctx context.Context, url, dest string, progress func(downloaded, total int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s failed with status: %s", url, resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer out.Close()

	pw := &progressWriter{total: resp.ContentLength, report: progress}
	if _, err := io.Copy(out, io.TeeReader(resp.Body, pw)); err != nil {
		return fmt.Errorf("download error: %w", err)
	}
	return out.Close()
}

type progressWriter struct {
	done   int64
	total  int64
	report func(downloaded, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.done += int64(len(b))
	if p.report != nil {
		p.report(p.done, p.total)
	}
	return len(b), nil
}

func extractZip(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	for _, f := range r.File {
		fpath := filepath.Join(destDir, f.Name)
		if !strings.HasPrefix(fpath, root) {
			return fmt.Errorf("illegal file path: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
			return err
		}
		if err := extractFile(f, fpath); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
