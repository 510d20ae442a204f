package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emmett/companion/internal/models"
)

// ModelManager lists, downloads and selects recognizer models and voices
// for the command line
type ModelManager struct {
	store *models.Store
	out   io.Writer
	in    *bufio.Reader
}

// NewModelManager creates a manager printing to out and reading answers
// from in
func NewModelManager(store *models.Store, out io.Writer, in io.Reader) *ModelManager {
	return &ModelManager{store: store, out: out, in: bufio.NewReader(in)}
}

// ListModels prints the catalog with download status
func (m *ModelManager) ListModels() error {
	for _, kind := range []models.Kind{models.KindSpeechModel, models.KindVoice} {
		title := "Speech recognition models"
		if kind == models.KindVoice {
			title = "Local voices"
		}
		fmt.Fprintf(m.out, "%s:\n\n", title)

		for i, model := range models.ByKind(kind) {
			fmt.Fprintf(m.out, "%d. %s\n", i+1, model.Name)
			fmt.Fprintf(m.out, "   Language: %s\n", model.Language)
			if model.Gender != "" {
				fmt.Fprintf(m.out, "   Voice:    %s\n", model.Gender)
			}
			fmt.Fprintf(m.out, "   Size:     %s\n", model.Size)
			fmt.Fprintf(m.out, "   Info:     %s\n", model.Description)

			status := "Not downloaded"
			if ok, _ := m.store.IsDownloaded(model.Name); ok {
				status = "✓ Downloaded"
			}
			fmt.Fprintf(m.out, "   Status:   %s\n\n", status)
		}
	}

	fmt.Fprintln(m.out, "To download a model, use:")
	fmt.Fprintln(m.out, "  companion --download-model <model-name>")
	return nil
}

// ListDownloaded prints the models present in the store
func (m *ModelManager) ListDownloaded() error {
	def := m.store.Default()
	total := 0
	for _, kind := range []models.Kind{models.KindSpeechModel, models.KindVoice} {
		names, err := m.store.Downloaded(kind)
		if err != nil {
			return fmt.Errorf("error listing models: %w", err)
		}
		for _, name := range names {
			total++
			marker := ""
			if name == def {
				marker = " [DEFAULT]"
			}
			fmt.Fprintf(m.out, "%d. %s (%s)%s\n", total, name, kind, marker)
			if path, err := m.store.Path(name); err == nil {
				fmt.Fprintf(m.out, "   Path: %s\n", path)
			}
		}
	}

	if total == 0 {
		fmt.Fprintln(m.out, "No models downloaded yet.")
		fmt.Fprintln(m.out)
		fmt.Fprintln(m.out, "Use 'companion --list-models' to see available models")
	}
	return nil
}

// Download fetches one catalog entry
func (m *ModelManager) Download(ctx context.Context, name string) error {
	model := models.Find(name)
	if model == nil {
		fmt.Fprintln(m.out, "Use 'companion --list-models' to see available models")
		return fmt.Errorf("unknown model: %s", name)
	}

	downloaded, err := m.store.IsDownloaded(name)
	if err != nil {
		return fmt.Errorf("error checking model: %w", err)
	}
	if downloaded {
		path, _ := m.store.Path(name)
		fmt.Fprintf(m.out, "Model '%s' is already downloaded.\nLocation: %s\n", name, path)
		return nil
	}

	fmt.Fprintf(m.out, "Downloading model: %s (%s)\n", model.Name, model.Size)
	if err := m.store.Download(ctx, name, m.progress); err != nil {
		return fmt.Errorf("error downloading model: %w", err)
	}
	fmt.Fprintf(m.out, "\n✓ Model '%s' downloaded successfully!\n", name)
	return nil
}

// SetDefault records the default recognizer model
func (m *ModelManager) SetDefault(name string) error {
	if err := m.store.SetDefault(name); err != nil {
		return fmt.Errorf("error setting default model: %w", err)
	}
	fmt.Fprintf(m.out, "✓ Default model set to: %s\n", name)

	if ok, _ := m.store.IsDownloaded(name); !ok {
		fmt.Fprintf(m.out, "Note: run 'companion --download-model %s' to download it.\n", name)
	}
	return nil
}

// Ensure returns the path of a model. When it is missing and autoDownload
// is off the user is asked before downloading.
func (m *ModelManager) Ensure(ctx context.Context, name string, autoDownload bool) (string, error) {
	if ok, err := m.store.IsDownloaded(name); err != nil {
		return "", fmt.Errorf("failed to check for model: %w", err)
	} else if ok {
		return m.store.Path(name)
	}

	if !autoDownload {
		fmt.Fprintf(m.out, "Model '%s' not found.\nDownload it now? (y/n): ", name)
		answer, err := m.in.ReadString('\n')
		if err != nil && answer == "" {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			return "", fmt.Errorf("model download declined")
		}
	} else {
		fmt.Fprintf(m.out, "Model '%s' not found. Downloading automatically...\n", name)
	}

	path, err := m.store.Ensure(ctx, name, true, m.progress)
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	fmt.Fprintln(m.out)
	return path, nil
}

// SelectModel returns name, or the store default when name is empty
func (m *ModelManager) SelectModel(name string) string {
	if name != "" {
		return name
	}
	return m.store.Default()
}

func (m *ModelManager) progress(downloaded, total int64) {
	if total <= 0 {
		fmt.Fprintf(m.out, "\rProgress: %d bytes", downloaded)
		return
	}
	percent := float64(downloaded) / float64(total) * 100
	fmt.Fprintf(m.out, "\rProgress: %.1f%% (%d/%d bytes)", percent, downloaded, total)
}

// Store returns the underlying model store
func (m *ModelManager) Store() *models.Store {
	return m.store
}
