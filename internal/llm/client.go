package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/s33g/aquaadvisor/internal/config"
)

// Client handles communication with an OpenAI-compatible completion API
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     zerolog.Logger
}

// NewClient creates a new completion client. Every call is bounded by
// cfg.Timeout, including reading the response body.
func NewClient(cfg config.UpstreamConfig, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		logger:  logger.With().Str("component", "llm").Logger(),
	}
}

// Chat sends a chat completion request. A nil error guarantees that
// Choices[0].Message.Content was present in the response; every failure is
// an *Error.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	url := c.baseURL + "/chat/completions"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(fmt.Errorf("failed to read response: %w", err))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, &Error{Kind: KindMalformedBody, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if err := checkCompletion(respBody); err != nil {
		return nil, err
	}

	return &chatResp, nil
}

// statusError builds a KindBadStatus error, logging whatever message the
// upstream attached to it.
func (c *Client) statusError(resp *http.Response) error {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	detail := string(respBody)
	var errResp ErrorResponse
	if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
		detail = errResp.Error.Message
	}

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Str("detail", detail).
		Msg("Upstream returned non-200 status")

	return &Error{
		Kind:       KindBadStatus,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("API error (%d): %s", resp.StatusCode, detail),
	}
}

// checkCompletion verifies the choices[0].message.content path exists
func checkCompletion(body []byte) error {
	var probe completionProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		return &Error{Kind: KindMalformedBody, Err: err}
	}

	switch {
	case probe.Choices == nil:
		return missingField("choices")
	case len(*probe.Choices) == 0:
		return &Error{Kind: KindMissingField, Err: errors.New("no completion choices returned")}
	case (*probe.Choices)[0].Message == nil:
		return missingField("message")
	case (*probe.Choices)[0].Message.Content == nil:
		return missingField("content")
	}
	return nil
}

func missingField(name string) error {
	return &Error{Kind: KindMissingField, Err: fmt.Errorf("missing field '%s'", name)}
}

// classifyTransport splits client-side failures into timeouts and everything else
func classifyTransport(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindTransport, Err: err}
}
