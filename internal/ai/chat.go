package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/rs/zerolog"

	"github.com/emmett/companion/internal/turn"
)

// DefaultSystemPrompt is used when the profile carries no prompt of its own
const DefaultSystemPrompt = "You are a warm, patient companion having a spoken conversation. " +
	"Answer in one to three short sentences of plain speech without lists or markup."

// ChatConfig holds chat completion settings
type ChatConfig struct {
	Model        string
	SystemPrompt string

	// MaxHistory is how many earlier exchanges per session are sent along
	MaxHistory int

	MaxTokens   int
	Temperature float64
}

// DefaultChatConfig returns the chat defaults
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		Model:        openai.ChatModelGPT4oMini,
		SystemPrompt: DefaultSystemPrompt,
		MaxHistory:   8,
		MaxTokens:    200,
		Temperature:  0.7,
	}
}

type exchange struct {
	user  string
	reply string
}

// Chat implements turn.ChatClient with chat completions and a short
// per-session memory
type Chat struct {
	client *openai.Client
	config ChatConfig
	logger zerolog.Logger

	mu      sync.Mutex
	history map[string][]exchange
}

// NewChat creates a chat client
func NewChat(client *openai.Client, config ChatConfig, logger zerolog.Logger) *Chat {
	if config.Model == "" {
		config.Model = DefaultChatConfig().Model
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	return &Chat{
		client:  client,
		config:  config,
		logger:  logger.With().Str("component", "chat").Logger(),
		history: make(map[string][]exchange),
	}
}

// Reply sends the utterance and returns the companion's answer
func (c *Chat) Reply(ctx context.Context, req turn.ChatRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    c.config.Model,
		Messages: c.messages(req),
	}
	if c.config.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.config.MaxTokens))
	}
	if c.config.Temperature > 0 {
		params.Temperature = openai.Float(c.config.Temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: chat: %w", turn.ErrAICallFailed, err)
	}

	text := ""
	if len(resp.Choices) > 0 {
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
	}
	if text == "" {
		return "", fmt.Errorf("%w: %w", turn.ErrAICallFailed, errors.New("chat returned an empty reply"))
	}

	c.remember(req.SessionID, req.Utterance, text)
	c.logger.Debug().Str("session", req.SessionID).Int64("tokens", resp.Usage.TotalTokens).Msg("chat reply")
	return text, nil
}

// Forget drops the memory of a session
func (c *Chat) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, sessionID)
}

func (c *Chat) messages(req turn.ChatRequest) []openai.ChatCompletionMessageParamUnion {
	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt(c.config.SystemPrompt, req.Profile)),
	}

	c.mu.Lock()
	for _, ex := range c.history[req.SessionID] {
		msgs = append(msgs, openai.UserMessage(ex.user), openai.AssistantMessage(ex.reply))
	}
	c.mu.Unlock()

	return append(msgs, openai.UserMessage(req.Utterance))
}

func (c *Chat) remember(sessionID, user, reply string) {
	if c.config.MaxHistory <= 0 || sessionID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	h := append(c.history[sessionID], exchange{user: user, reply: reply})
	if len(h) > c.config.MaxHistory {
		h = h[len(h)-c.config.MaxHistory:]
	}
	c.history[sessionID] = h
}

func systemPrompt(base string, p turn.Profile) string {
	var b strings.Builder
	if p.Prompt != "" {
		b.WriteString(p.Prompt)
	} else {
		b.WriteString(base)
	}
	if p.Name != "" {
		fmt.Fprintf(&b, "\nYou are talking with %s.", p.Name)
	}

	keys := make([]string, 0, len(p.Attributes))
	for k := range p.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, p.Attributes[k])
	}
	return b.String()
}
