package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/mrmushfiq/llm0-gateway/internal/gateway/admission"
	"github.com/mrmushfiq/llm0-gateway/internal/gateway/credits"
	"github.com/mrmushfiq/llm0-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-gateway/internal/gateway/streaming"
	"github.com/mrmushfiq/llm0-gateway/internal/gateway/usage"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/gateerr"
	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

// PricingStore looks up per-model pricing for cost computation.
type PricingStore interface {
	GetModelPricing(ctx context.Context, provider, model string) (*models.ModelPricing, error)
}

// InferenceHandler owns the request lifecycle for the four inference
// endpoints: security and auth run in middleware; the handler performs
// normalization, admission, the credit pre-check, dispatch, streaming,
// usage recording, and the post-usage debit, in that order.
type InferenceHandler struct {
	registry  *providers.Registry
	admission *admission.Controller
	ledger    *credits.Ledger
	recorder  *usage.Recorder
	pricing   PricingStore
	timeout   time.Duration
}

// NewInferenceHandler wires the inference pipeline.
func NewInferenceHandler(
	registry *providers.Registry,
	admissionCtl *admission.Controller,
	ledger *credits.Ledger,
	recorder *usage.Recorder,
	pricing PricingStore,
	timeout time.Duration,
) *InferenceHandler {
	return &InferenceHandler{
		registry:  registry,
		admission: admissionCtl,
		ledger:    ledger,
		recorder:  recorder,
		pricing:   pricing,
		timeout:   timeout,
	}
}

// inferenceRequest is the shared request envelope for all four endpoints.
type inferenceRequest struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Chat
	Messages []openai.ChatCompletionMessage `json:"messages,omitempty"`

	// Completion / image generation
	Prompt string `json:"prompt,omitempty"`

	// Embedding
	Text string `json:"text,omitempty"`

	// Image generation
	Size string `json:"size,omitempty"`
	N    int    `json:"n,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
}

type usagePayload struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

type inferenceResponse struct {
	RequestID    string       `json:"request_id"`
	SessionID    string       `json:"session_id"`
	CreatedAt    time.Time    `json:"created_at"`
	DurationMs   int64        `json:"duration_ms"`
	Provider     string       `json:"provider"`
	Model        string       `json:"model"`
	Success      bool         `json:"success"`
	Data         interface{}  `json:"data"`
	FinishReason string       `json:"finish_reason,omitempty"`
	Usage        usagePayload `json:"usage"`
}

// HandleChat handles POST /v1/chat/completions
func (h *InferenceHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, models.EndpointChat)
}

// HandleCompletion handles POST /v1/completions
func (h *InferenceHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, models.EndpointCompletion)
}

// HandleEmbedding handles POST /v1/embeddings
func (h *InferenceHandler) HandleEmbedding(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, models.EndpointEmbedding)
}

// HandleImage handles POST /v1/images/generations
func (h *InferenceHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, models.EndpointImage)
}

func (h *InferenceHandler) serve(w http.ResponseWriter, r *http.Request, endpoint models.Endpoint) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, gateerr.Unauthorized("not authenticated"))
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, gateerr.InvalidRequest("failed to read request body"))
		return
	}

	var req inferenceRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		writeError(w, gateerr.InvalidRequest("invalid request body"))
		return
	}
	if err := validateRequest(endpoint, &req); err != nil {
		writeError(w, err)
		return
	}

	// Normalization must fail before any rate-limit or credit consumption.
	provider, providerName, model, err := h.registry.Resolve(endpoint, req.Provider, req.Model)
	if err != nil {
		writeError(w, err)
		return
	}

	envelope := models.RequestEnvelope{
		RequestID: "req_" + uuid.NewString(),
		SessionID: req.SessionID,
		UserID:    user.ID,
		Endpoint:  endpoint,
		Provider:  providerName,
		Model:     model,
		Stream:    req.Stream,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
		Origin:    r.Header.Get("Origin"),
		CreatedAt: time.Now().UTC(),
	}
	if envelope.SessionID == "" {
		envelope.SessionID = "sess_" + uuid.NewString()
	}

	ireq := buildInvokeRequest(endpoint, model, &req)
	estimated := int64(providers.EstimateRequestTokens(ireq))

	decision := h.admission.CheckAndConsume(r.Context(), user.ID, user.Tier, estimated)
	if decision.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Unix()+decision.ResetAfterSeconds))
	}
	if !decision.Allowed {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", decision.ResetAfterSeconds))
		writeError(w, gateerr.RateLimited(fmt.Sprintf("rate limit exceeded, retry in %ds", decision.ResetAfterSeconds)))
		return
	}

	if err := h.ledger.CheckBalance(r.Context(), user.ID); err != nil {
		writeError(w, err)
		return
	}

	if req.Stream {
		h.serveStream(w, r, provider, ireq, envelope, rawBody)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp, err := provider.Invoke(ctx, ireq)
	durationMs := time.Since(envelope.CreatedAt).Milliseconds()

	if err != nil {
		// Failed calls are still recorded, zero-token, for audit.
		h.finishRequest(&envelope, rawBody, nil, usagePayload{}, int(durationMs), err)
		writeError(w, gateerr.ProviderError(err.Error()))
		return
	}

	cost := h.cost(context.Background(), &envelope, resp.PromptTokens, resp.CompletionTokens, req.N)
	up := usagePayload{
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
		CostUSD:          cost,
	}

	h.finishRequest(&envelope, rawBody, resp.Data, up, int(durationMs), nil)

	writeJSON(w, http.StatusOK, inferenceResponse{
		RequestID:    envelope.RequestID,
		SessionID:    envelope.SessionID,
		CreatedAt:    envelope.CreatedAt,
		DurationMs:   durationMs,
		Provider:     envelope.Provider,
		Model:        envelope.Model,
		Success:      true,
		Data:         resp.Data,
		FinishReason: resp.FinishReason,
		Usage:        up,
	})
}

// serveStream runs the streaming multiplexer and records partial usage for
// whatever was actually emitted.
func (h *InferenceHandler) serveStream(w http.ResponseWriter, r *http.Request, provider providers.Provider, ireq providers.InvokeRequest, envelope models.RequestEnvelope, rawBody []byte) {
	stream, err := provider.InvokeStream(r.Context(), ireq)
	if err != nil {
		durationMs := int(time.Since(envelope.CreatedAt).Milliseconds())
		h.finishRequest(&envelope, rawBody, nil, usagePayload{}, durationMs, err)
		writeError(w, gateerr.ProviderError(err.Error()))
		return
	}

	mux, err := streaming.NewMux(w)
	if err != nil {
		stream.Close()
		writeError(w, gateerr.Internal(err.Error()))
		return
	}

	result := mux.Run(r.Context(), stream)
	durationMs := int(time.Since(envelope.CreatedAt).Milliseconds())

	cost := h.cost(context.Background(), &envelope, result.PromptTokens, result.CompletionTokens, 0)
	up := usagePayload{
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		TotalTokens:      result.TotalTokens,
		CostUSD:          cost,
	}

	var streamErr error
	if result.State == streaming.StateFailed {
		streamErr = result.Err
	}
	h.finishRequest(&envelope, rawBody, nil, up, durationMs, streamErr)

	logrus.WithFields(logrus.Fields{
		"request_id": envelope.RequestID,
		"state":      result.State,
		"chunks":     result.Chunks,
	}).Debug("stream finished")
}

// finishRequest records the usage fact and conversation record, then issues
// the post-usage debit. Recording failures are logged, never surfaced, and
// the debit is skipped when the fact write failed so a debit never precedes
// its usage fact.
func (h *InferenceHandler) finishRequest(envelope *models.RequestEnvelope, rawBody []byte, data interface{}, up usagePayload, durationMs int, callErr error) {
	// Bookkeeping must survive a client disconnect.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fact := &models.UsageFact{
		RequestID:        envelope.RequestID,
		UserID:           envelope.UserID,
		Provider:         envelope.Provider,
		Model:            envelope.Model,
		Endpoint:         envelope.Endpoint,
		PromptTokens:     up.PromptTokens,
		CompletionTokens: up.CompletionTokens,
		TotalTokens:      up.TotalTokens,
		CostUSD:          up.CostUSD,
		LatencyMs:        durationMs,
		SessionID:        envelope.SessionID,
		ClientIP:         envelope.ClientIP,
		Success:          callErr == nil,
		CreatedAt:        envelope.CreatedAt,
	}
	if callErr != nil {
		msg := callErr.Error()
		fact.ErrorMessage = &msg
	}

	rec := &models.ConversationRecord{
		RequestID: envelope.RequestID,
		UserID:    envelope.UserID,
		SessionID: envelope.SessionID,
		Endpoint:  envelope.Endpoint,
		Request:   json.RawMessage(rawBody),
		CreatedAt: envelope.CreatedAt,
	}
	if data != nil {
		if payload, err := json.Marshal(data); err == nil {
			rec.Response = payload
		}
	}

	if err := h.recorder.Record(ctx, fact, rec); err != nil {
		logrus.WithFields(logrus.Fields{
			"request_id": envelope.RequestID,
			"error":      err,
		}).Error("usage fact write failed, skipping debit")
		return
	}

	if err := h.ledger.Debit(ctx, envelope.UserID, up.CostUSD, envelope.RequestID); err != nil {
		// The response already produced is still delivered; subsequent
		// requests fail the balance pre-check.
		logrus.WithFields(logrus.Fields{
			"request_id": envelope.RequestID,
			"user_id":    envelope.UserID,
			"error":      err,
		}).Warn("credit debit failed")
	}
}

// cost computes the usage cost from the pricing table. Missing pricing is
// treated as zero cost and logged.
func (h *InferenceHandler) cost(ctx context.Context, envelope *models.RequestEnvelope, promptTokens, completionTokens, images int) float64 {
	pricing, err := h.pricing.GetModelPricing(ctx, envelope.Provider, envelope.Model)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"provider": envelope.Provider,
			"model":    envelope.Model,
		}).Debug("no pricing configured, recording zero cost")
		return 0
	}

	if envelope.Endpoint == models.EndpointImage {
		if images <= 0 {
			images = 1
		}
		return float64(images) * pricing.PerImage
	}

	inputCost := float64(promptTokens) / 1000.0 * pricing.InputPer1kTokens
	outputCost := float64(completionTokens) / 1000.0 * pricing.OutputPer1kTokens
	return inputCost + outputCost
}

func validateRequest(endpoint models.Endpoint, req *inferenceRequest) error {
	switch endpoint {
	case models.EndpointChat:
		if len(req.Messages) == 0 {
			return gateerr.InvalidRequest("messages is required")
		}
	case models.EndpointCompletion:
		if req.Prompt == "" {
			return gateerr.InvalidRequest("prompt is required")
		}
	case models.EndpointEmbedding:
		if req.Text == "" {
			return gateerr.InvalidRequest("text is required")
		}
	case models.EndpointImage:
		if req.Prompt == "" {
			return gateerr.InvalidRequest("prompt is required")
		}
	}
	return nil
}

func buildInvokeRequest(endpoint models.Endpoint, model string, req *inferenceRequest) providers.InvokeRequest {
	return providers.InvokeRequest{
		Endpoint:    endpoint,
		Model:       model,
		Messages:    req.Messages,
		Prompt:      req.Prompt,
		Text:        req.Text,
		Size:        req.Size,
		N:           req.N,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	}
}
