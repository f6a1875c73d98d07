// Package relay turns one chat message into one completion call and a
// display string.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/s33g/aquaadvisor/internal/config"
	"github.com/s33g/aquaadvisor/internal/llm"
)

// SystemPrompt is prepended to every user message
const SystemPrompt = "You are AquaAdvisor, a water quality expert. Provide practical advice about pH levels (6.5-8.5 ideal), TDS values, and water purification methods. Keep responses under 100 words."

// Sampling parameters sent with every request
const (
	MaxTokens   = 150
	Temperature = 0.7
)

// MsgAPIKeyMissing is returned instead of calling upstream without a credential
const MsgAPIKeyMissing = "Error: API key not configured. Please set GROQ_API_KEY environment variable."

// ChatClient sends completion requests upstream
type ChatClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Relay forwards chat messages to the completion API
type Relay struct {
	client        ChatClient
	model         string
	keyConfigured bool
	logger        zerolog.Logger
}

// New creates a relay. The credential state is captured here and never
// re-read.
func New(cfg config.UpstreamConfig, client ChatClient, logger zerolog.Logger) *Relay {
	return &Relay{
		client:        client,
		model:         cfg.Model,
		keyConfigured: cfg.APIKeyConfigured(),
		logger:        logger.With().Str("component", "relay").Logger(),
	}
}

// APIKeyConfigured reports whether a completion API credential was supplied
func (r *Relay) APIKeyConfigured() bool {
	return r.keyConfigured
}

// Model returns the upstream model identifier
func (r *Relay) Model() string {
	return r.model
}

// BuildRequest returns the upstream payload for message
func (r *Relay) BuildRequest(message string) llm.ChatRequest {
	return llm.ChatRequest{
		Model: r.model,
		Messages: []llm.Message{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: message},
		},
		MaxTokens:   MaxTokens,
		Temperature: Temperature,
	}
}

// Complete calls upstream once and returns the completion text. Errors are
// always *llm.Error.
func (r *Relay) Complete(ctx context.Context, message string) (text string, err error) {
	if !r.keyConfigured {
		return "", &llm.Error{Kind: llm.KindConfigMissing, Err: errors.New("GROQ_API_KEY is not set")}
	}

	defer func() {
		if p := recover(); p != nil {
			err = &llm.Error{Kind: llm.KindUnexpected, Err: fmt.Errorf("%v", p)}
		}
	}()

	resp, err := r.client.Chat(ctx, r.BuildRequest(message))
	if err != nil {
		var llmErr *llm.Error
		if !errors.As(err, &llmErr) {
			llmErr = &llm.Error{Kind: llm.KindUnexpected, Err: err}
		}
		return "", llmErr
	}

	r.logger.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Str("finish_reason", resp.Choices[0].FinishReason).
		Msg("Completion received")

	return resp.Choices[0].Message.Content, nil
}

// GetCompletion is Complete with every failure rendered as a display string
func (r *Relay) GetCompletion(ctx context.Context, message string) string {
	text, err := r.Complete(ctx, message)
	if err != nil {
		var llmErr *llm.Error
		if errors.As(err, &llmErr) && llmErr.Kind != llm.KindConfigMissing {
			r.logger.Warn().
				Err(llmErr.Err).
				Str("kind", llmErr.Kind.String()).
				Int("status", llmErr.StatusCode).
				Msg("Completion failed")
		}
		return Display(err)
	}
	return text
}

// Display maps a completion error to the text shown to the caller
func Display(err error) string {
	var llmErr *llm.Error
	if !errors.As(err, &llmErr) {
		return fmt.Sprintf("Unexpected error: %v. Please try again later.", err)
	}

	switch llmErr.Kind {
	case llm.KindConfigMissing:
		return MsgAPIKeyMissing
	case llm.KindBadStatus:
		return fmt.Sprintf("API Error: HTTP %d. Please try again later.", llmErr.StatusCode)
	case llm.KindTimeout:
		return "Request timeout. Please try again."
	case llm.KindTransport:
		return fmt.Sprintf("Network error: %s. Please check your connection.", llmErr.Description())
	case llm.KindMalformedBody:
		return "Invalid response format from API."
	case llm.KindMissingField:
		return fmt.Sprintf("API response error: %s. Please try again.", llmErr.Description())
	default:
		return fmt.Sprintf("Unexpected error: %s. Please try again later.", llmErr.Description())
	}
}
