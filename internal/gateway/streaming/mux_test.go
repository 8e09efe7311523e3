package streaming

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedStream struct {
	chunks []openai.ChatCompletionStreamResponse
	err    error
	pos    int
	closed bool
}

func (s *scriptedStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return openai.ChatCompletionStreamResponse{}, s.err
		}
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

func contentChunk(content string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{
			{Delta: openai.ChatCompletionStreamChoiceDelta{Content: content}},
		},
	}
}

func TestRunDrainsStream(t *testing.T) {
	stream := &scriptedStream{
		chunks: []openai.ChatCompletionStreamResponse{
			contentChunk("Hello"),
			contentChunk(" world"),
			{
				Choices: []openai.ChatCompletionStreamChoice{
					{FinishReason: openai.FinishReasonStop},
				},
				Usage: &openai.Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
			},
		},
	}

	rec := httptest.NewRecorder()
	mux, err := NewMux(rec)
	require.NoError(t, err)

	result := mux.Run(context.Background(), stream)

	assert.Equal(t, StateDrained, result.State)
	assert.Equal(t, 3, result.Chunks)
	assert.Equal(t, "stop", result.FinishReason)
	assert.Equal(t, 12, result.PromptTokens)
	assert.Equal(t, 3, result.CompletionTokens)
	assert.Equal(t, 15, result.TotalTokens)
	assert.True(t, stream.closed)

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, `"content":"Hello"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	// Every frame is an SSE data line.
	for _, line := range strings.Split(strings.TrimSpace(body), "\n\n") {
		assert.True(t, strings.HasPrefix(line, SSEDataPrefix), "frame %q", line)
	}
}

func TestRunPreservesChunkOrder(t *testing.T) {
	stream := &scriptedStream{
		chunks: []openai.ChatCompletionStreamResponse{
			contentChunk("one"),
			contentChunk("two"),
			contentChunk("three"),
		},
	}

	rec := httptest.NewRecorder()
	mux, err := NewMux(rec)
	require.NoError(t, err)

	mux.Run(context.Background(), stream)

	body := rec.Body.String()
	assert.Less(t, strings.Index(body, "one"), strings.Index(body, "two"))
	assert.Less(t, strings.Index(body, "two"), strings.Index(body, "three"))
}

func TestRunMidStreamFailure(t *testing.T) {
	stream := &scriptedStream{
		chunks: []openai.ChatCompletionStreamResponse{contentChunk("partial")},
		err:    errors.New("upstream reset"),
	}

	rec := httptest.NewRecorder()
	mux, err := NewMux(rec)
	require.NoError(t, err)

	result := mux.Run(context.Background(), stream)

	assert.Equal(t, StateFailed, result.State)
	assert.EqualError(t, result.Err, "upstream reset")
	assert.Equal(t, 1, result.Chunks)
	assert.True(t, stream.closed)

	// Partial output stays delivered: error frame then terminal sentinel.
	body := rec.Body.String()
	assert.Contains(t, body, "partial")
	assert.Contains(t, body, `{"error":"upstream reset"}`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestRunClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := &scriptedStream{
		chunks: []openai.ChatCompletionStreamResponse{contentChunk("never sent")},
	}

	rec := httptest.NewRecorder()
	mux, err := NewMux(rec)
	require.NoError(t, err)

	result := mux.Run(ctx, stream)

	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, 0, result.Chunks)
	assert.True(t, stream.closed)
	assert.NotContains(t, rec.Body.String(), "[DONE]")
}

func TestRunEstimatesTokensWhenNotReported(t *testing.T) {
	stream := &scriptedStream{
		chunks: []openai.ChatCompletionStreamResponse{
			contentChunk("exactly sixteen."), // 16 bytes
			contentChunk("exactly sixteen."),
		},
	}

	rec := httptest.NewRecorder()
	mux, err := NewMux(rec)
	require.NoError(t, err)

	result := mux.Run(context.Background(), stream)

	assert.Equal(t, StateDrained, result.State)
	assert.Equal(t, 8, result.CompletionTokens)
	assert.Equal(t, 8, result.TotalTokens)
	assert.Equal(t, 0, result.PromptTokens)
}
