package providers

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

// InvokeRequest is the normalized request passed to every provider adapter.
// Only the fields relevant to the endpoint kind are set.
type InvokeRequest struct {
	Endpoint models.Endpoint
	Model    string

	// Chat
	Messages []openai.ChatCompletionMessage

	// Completion
	Prompt string

	// Embedding
	Text string

	// Image generation
	Size string
	N    int

	// Shared tuning parameters
	Temperature *float32
	MaxTokens   *int
	TopP        *float32
}

// Response is the normalized non-streaming provider result.
type Response struct {
	Data             interface{}
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Raw              interface{}
}

// StreamReader is an interface for streaming responses
type StreamReader interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Provider is the uniform dispatch contract all backends implement. The
// gateway never branches on provider identity except to select one of these.
type Provider interface {
	Invoke(ctx context.Context, req InvokeRequest) (*Response, error)
	InvokeStream(ctx context.Context, req InvokeRequest) (StreamReader, error)
	Name() string
}

// EstimateTokens gives a coarse pre-dispatch token estimate for admission
// control. Billing always uses the provider-reported counts.
func EstimateTokens(text string) int {
	return EstimateTokensFromLength(len(text))
}

// EstimateTokensFromLength estimates tokens from a byte length, for callers
// that track emitted sizes rather than the text itself.
func EstimateTokensFromLength(length int) int {
	if length == 0 {
		return 0
	}
	n := length / 4
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateRequestTokens estimates the prompt tokens of a normalized request.
func EstimateRequestTokens(req InvokeRequest) int {
	switch req.Endpoint {
	case models.EndpointChat:
		total := 0
		for _, msg := range req.Messages {
			total += EstimateTokens(msg.Content)
		}
		return total
	case models.EndpointCompletion:
		return EstimateTokens(req.Prompt)
	case models.EndpointEmbedding:
		return EstimateTokens(req.Text)
	default:
		// Image generation is priced per image, not per token.
		return 0
	}
}
