package models

import (
	"encoding/json"
	"time"
)

// Tier is the rate/credit policy class assigned to a user.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
	TierAdmin      Tier = "admin"
)

// Endpoint identifies the inference operation kind.
type Endpoint string

const (
	EndpointChat       Endpoint = "chat"
	EndpointCompletion Endpoint = "completion"
	EndpointEmbedding  Endpoint = "embedding"
	EndpointImage      Endpoint = "image"
)

// User represents a gateway identity with its tier and credit balance.
type User struct {
	ID            string
	Email         string
	Tier          Tier
	IsActive      bool
	CreditBalance float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsAdmin reports whether the user is exempt from admission control and
// analytics scoping.
func (u *User) IsAdmin() bool {
	return u.Tier == TierAdmin
}

// APIKey represents a gateway API key bound to a user.
type APIKey struct {
	ID         string
	UserID     string
	KeyHash    string
	KeyPrefix  string
	Name       string
	IsActive   bool
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// ModelPricing represents pricing for an LLM model
type ModelPricing struct {
	ID                string
	Provider          string
	Model             string
	InputPer1kTokens  float64
	OutputPer1kTokens float64
	PerImage          float64
}

// RequestEnvelope carries the normalized, immutable facts of one inbound
// request through the pipeline.
type RequestEnvelope struct {
	RequestID string
	SessionID string
	UserID    string
	Endpoint  Endpoint
	Provider  string
	Model     string
	Stream    bool
	ClientIP  string
	UserAgent string
	Origin    string
	CreatedAt time.Time
}

// UsageFact is the billing-relevant record of one completed call.
// Written once per request id, never mutated.
type UsageFact struct {
	RequestID        string    `json:"request_id"`
	UserID           string    `json:"user_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Endpoint         Endpoint  `json:"endpoint"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	LatencyMs        int       `json:"latency_ms"`
	SessionID        string    `json:"session_id"`
	ClientIP         string    `json:"client_ip"`
	Success          bool      `json:"success"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// ConversationRecord is the full request/response content stored for
// analytics and session replay, separate from billing data.
type ConversationRecord struct {
	RequestID string          `json:"request_id"`
	UserID    string          `json:"user_id"`
	SessionID string          `json:"session_id"`
	Endpoint  Endpoint        `json:"endpoint"`
	Request   json.RawMessage `json:"request"`
	Response  json.RawMessage `json:"response,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// UsageQuery describes a usage/analytics retrieval.
type UsageQuery struct {
	UserID    string // empty means all users (admin only)
	Start     time.Time
	End       time.Time
	GroupBy   string // "", "date", "model", "provider", "endpoint", "session", "client_ip"
	Provider  string
	Model     string
	SessionID string
	Endpoint  string
}

// UsageGroup is one aggregated analytics row.
type UsageGroup struct {
	Key              string  `json:"key"`
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
}
