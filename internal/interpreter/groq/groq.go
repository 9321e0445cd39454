// Package groq implements the Interpreter interface over an OpenAI-compatible
// API, by default Groq's.
//
// It uses the Audio Transcription API (whisper-large-v3) for speech-to-text
// and the Chat Completions API (llama-3.1-8b-instant) for intent resolution.
// Pointing BaseURL at api.openai.com selects OpenAI instead.
package groq

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/rkmjld2/mahajan-remote2/internal/config"
)

// Client talks to the oracle API.
type Client struct {
	name               string
	api                openai.Client
	completionModel    string
	transcriptionModel string
	temperature        float64
	maxTokens          int64
}

// New creates a new client from config. httpClient may be nil.
func New(cfg config.OracleConfig, httpClient *http.Client) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Client{
		name:               cfg.OracleName(),
		api:                openai.NewClient(opts...),
		completionModel:    cfg.CompletionModel,
		transcriptionModel: cfg.TranscriptionModel,
		temperature:        cfg.Temperature,
		maxTokens:          cfg.MaxTokens,
	}
}

// Name returns the oracle's display name.
func (c *Client) Name() string { return c.name }

// Transcribe sends a WAV file to the transcription endpoint.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	resp, err := c.api.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:        openai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:       openai.AudioModel(c.transcriptionModel),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	slog.Debug("transcription complete", "text_length", len(text))
	return text, nil
}

// Complete sends prompt as a single user message and returns the reply text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(c.completionModel),
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty message content")
	}

	slog.Debug("completion ready", "data", content)
	return content, nil
}

// Close is a no-op; the client holds no resources beyond its HTTP client.
func (c *Client) Close() error { return nil }
