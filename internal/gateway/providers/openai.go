package providers

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/mrmushfiq/llm0-gateway/internal/shared/models"
)

// OpenAIProvider handles OpenAI API requests
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
	}
}

// Invoke dispatches a non-streaming request to the OpenAI API.
func (p *OpenAIProvider) Invoke(ctx context.Context, req InvokeRequest) (*Response, error) {
	switch req.Endpoint {
	case models.EndpointChat:
		return p.chatCompletion(ctx, req)
	case models.EndpointCompletion:
		return p.completion(ctx, req)
	case models.EndpointEmbedding:
		return p.embedding(ctx, req)
	case models.EndpointImage:
		return p.imageGeneration(ctx, req)
	default:
		return nil, fmt.Errorf("openai: unsupported endpoint %s", req.Endpoint)
	}
}

func (p *OpenAIProvider) chatCompletion(ctx context.Context, req InvokeRequest) (*Response, error) {
	openaiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: req.Messages,
	}

	if req.Temperature != nil {
		openaiReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		openaiReq.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		openaiReq.TopP = *req.TopP
	}

	resp, err := p.client.CreateChatCompletion(ctx, openaiReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	finishReason := ""
	if len(resp.Choices) > 0 {
		finishReason = string(resp.Choices[0].FinishReason)
	}

	return &Response{
		Data:             resp.Choices,
		FinishReason:     finishReason,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		Raw:              resp,
	}, nil
}

func (p *OpenAIProvider) completion(ctx context.Context, req InvokeRequest) (*Response, error) {
	openaiReq := openai.CompletionRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
	}

	if req.Temperature != nil {
		openaiReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		openaiReq.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		openaiReq.TopP = *req.TopP
	}

	resp, err := p.client.CreateCompletion(ctx, openaiReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	finishReason := ""
	if len(resp.Choices) > 0 {
		finishReason = resp.Choices[0].FinishReason
	}

	return &Response{
		Data:             resp.Choices,
		FinishReason:     finishReason,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		Raw:              resp,
	}, nil
}

func (p *OpenAIProvider) embedding(ctx context.Context, req InvokeRequest) (*Response, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{req.Text},
		Model: openai.EmbeddingModel(req.Model),
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	return &Response{
		Data:         resp.Data,
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
		Raw:          resp,
	}, nil
}

func (p *OpenAIProvider) imageGeneration(ctx context.Context, req InvokeRequest) (*Response, error) {
	openaiReq := openai.ImageRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		N:      req.N,
		Size:   req.Size,
	}
	if openaiReq.N == 0 {
		openaiReq.N = 1
	}
	if openaiReq.Size == "" {
		openaiReq.Size = openai.CreateImageSize1024x1024
	}

	resp, err := p.client.CreateImage(ctx, openaiReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}

	return &Response{
		Data: resp.Data,
		Raw:  resp,
	}, nil
}

// InvokeStream creates a streaming chat completion request
func (p *OpenAIProvider) InvokeStream(ctx context.Context, req InvokeRequest) (StreamReader, error) {
	if req.Endpoint != models.EndpointChat {
		return nil, fmt.Errorf("openai: streaming not supported for endpoint %s", req.Endpoint)
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
	}

	if req.Temperature != nil {
		openaiReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		openaiReq.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		openaiReq.TopP = *req.TopP
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, openaiReq)
	if err != nil {
		return nil, fmt.Errorf("OpenAI streaming API error: %w", err)
	}

	return &OpenAIStreamReader{stream: stream}, nil
}

// OpenAIStreamReader wraps OpenAI's stream
type OpenAIStreamReader struct {
	stream *openai.ChatCompletionStream
}

// Recv reads the next chunk
func (r *OpenAIStreamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	return r.stream.Recv()
}

// Close closes the stream
func (r *OpenAIStreamReader) Close() error {
	r.stream.Close()
	return nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}
