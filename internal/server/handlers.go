package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/s33g/aquaadvisor/internal/relay"
)

const (
	agentName      = "AquaAdvisor"
	serviceVersion = "1.0"

	defaultSessionID = "default"
	errorSessionID   = "error"

	msgNoData       = "No data provided"
	msgEmptyMessage = "Please provide a message"
)

// ChatRequest is the body of POST /chat
type ChatRequest struct {
	Message   string  `json:"message"`
	SessionID *string `json:"session_id,omitempty"`
}

// ChatResponse is the envelope returned for every /chat outcome
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status           string `json:"status"`
	Agent            string `json:"agent"`
	Timestamp        string `json:"timestamp"`
	APIKeyConfigured bool   `json:"api_key_configured"`
	Model            string `json:"model"`
}

// ServiceInfo is the body of GET /
type ServiceInfo struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// HandleRoot returns static service metadata
func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ServiceInfo{
		Message: "🌊 AquaAdvisor AI Agent is running!",
		Version: serviceVersion,
		Endpoints: map[string]string{
			"chat":   "/chat (POST)",
			"health": "/health (GET)",
			"docs":   "Visit /chat for water quality assistance",
		},
	})
}

// HandleHealth reports liveness and configuration without touching the network
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "healthy",
		Agent:            agentName,
		Timestamp:        s.now().UTC().Format(time.RFC3339),
		APIKeyConfigured: s.relay.APIKeyConfigured(),
		Model:            s.relay.Model(),
	})
}

// HandleChat relays one message to the completion API
func (s *Server) HandleChat(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		logger.Debug().Err(err).Msg("Failed to read request body")
		writeEnvelope(w, http.StatusBadRequest, msgNoData, errorSessionID)
		return
	}

	var req *ChatRequest
	if len(bytes.TrimSpace(body)) == 0 {
		writeEnvelope(w, http.StatusBadRequest, msgNoData, errorSessionID)
		return
	}
	if err := json.Unmarshal(body, &req); err != nil || req == nil {
		logger.Debug().Err(err).Msg("Invalid JSON body")
		writeEnvelope(w, http.StatusBadRequest, msgNoData, errorSessionID)
		return
	}

	sessionID := defaultSessionID
	if req.SessionID != nil {
		sessionID = *req.SessionID
	}

	if strings.TrimSpace(req.Message) == "" {
		writeEnvelope(w, http.StatusBadRequest, msgEmptyMessage, sessionID)
		return
	}

	if !s.allow(w, r, sessionID, req.Message) {
		return
	}

	response := s.relay.GetCompletion(r.Context(), req.Message)
	writeEnvelope(w, http.StatusOK, response, sessionID)
}

// allow enforces the per-client budgets. Limiter failures let the request through.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, sessionID, message string) bool {
	limits := s.currentLimits()
	if s.limiter == nil || !limits.Enabled {
		return true
	}

	ctx := r.Context()
	logger := zerolog.Ctx(ctx)
	clientID := clientIP(r)

	rateResult, err := s.limiter.CheckRateLimit(ctx, clientID, limits.Default)
	if err != nil {
		logger.Warn().Err(err).Str("client", clientID).Msg("Rate limit check failed - allowing request")
		return true
	}
	if !rateResult.Allowed {
		logger.Info().Str("client", clientID).Str("limit", rateResult.LimitType).Msg("Rate limited")
		w.Header().Set("Retry-After", strconv.Itoa(rateResult.SecondsToReset))
		writeEnvelope(w, http.StatusTooManyRequests,
			fmt.Sprintf("Rate limit exceeded. Please try again in %d seconds.", rateResult.SecondsToReset), sessionID)
		return false
	}

	if !limits.Tokens.TokenBudgetEnabled() {
		return true
	}

	budget := s.tokens.CountPrompt(relay.SystemPrompt, message) + relay.MaxTokens
	tokenResult, err := s.limiter.CheckTokenLimit(ctx, clientID, limits.Tokens, budget)
	if err != nil {
		logger.Warn().Err(err).Str("client", clientID).Msg("Token limit check failed - allowing request")
		return true
	}
	if !tokenResult.Allowed {
		// The request never reaches upstream, so it should not count against the request limits
		if err := s.limiter.RefundRequest(ctx, clientID); err != nil {
			logger.Warn().Err(err).Str("client", clientID).Msg("Failed to refund request counters")
		}
		logger.Info().
			Str("client", clientID).
			Int("tokens_used", tokenResult.TokensUsed).
			Int("requested", budget).
			Msg("Token budget exhausted")
		w.Header().Set("Retry-After", strconv.Itoa(tokenResult.SecondsToReset))
		writeEnvelope(w, http.StatusTooManyRequests,
			fmt.Sprintf("Token limit exceeded. Please try again in %d seconds.", tokenResult.SecondsToReset), sessionID)
		return false
	}

	return true
}

func writeEnvelope(w http.ResponseWriter, status int, response, sessionID string) {
	writeJSON(w, status, ChatResponse{Response: response, SessionID: sessionID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
