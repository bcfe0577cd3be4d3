// Package assistant asks an OpenAI-compatible model questions about an
// anonymized document. Only the anonymized text ever leaves the process.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/vurakit/lexveil/internal/processor"
)

const systemPrompt = `Você é um assistente jurídico. O documento abaixo foi anonimizado:
nomes, CPFs, CNPJs, telefones e e-mails foram substituídos por marcadores
ou máscaras. Nunca tente reconstruir os dados originais. Responda em português.`

var (
	ErrNoAPIKey    = errors.New("assistant api key not configured")
	ErrEmptyAnswer = errors.New("assistant returned no answer")
)

// Config holds the model endpoint settings
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client wraps an OpenAI-compatible chat client
type Client struct {
	api   *openai.Client
	model string
}

// New creates a Client. BaseURL may point at any OpenAI-compatible server.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Client{api: openai.NewClientWithConfig(oc), model: model}, nil
}

// Ask sends res.AnonymizedText with question and returns the model's answer.
func (c *Client) Ask(ctx context.Context, res *processor.Result, question string) (string, error) {
	if res == nil {
		return "", errors.New("no processing result")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", errors.New("question is required")
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Documento:\n\n" + res.AnonymizedText},
			{Role: openai.ChatMessageRoleUser, Content: question},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyAnswer
	}
	return resp.Choices[0].Message.Content, nil
}
