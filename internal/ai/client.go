// Package ai talks to the hosted language and speech models.
package ai

import (
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ClientConfig holds connection settings shared by chat and speech
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	Timeout    time.Duration
}

// NewClient builds an API client. Request deadlines come from the caller's
// context; Timeout only bounds a single HTTP attempt.
func NewClient(cfg ClientConfig, extra ...option.RequestOption) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	opts = append(opts, extra...)

	client := openai.NewClient(opts...)
	return &client, nil
}
