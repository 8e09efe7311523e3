// Package streaming converts a provider's incremental output into the
// outbound SSE event stream. Each chunk is forwarded the moment it is
// received, ordering preserved, with no buffering beyond one chunk.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mrmushfiq/llm0-gateway/internal/gateway/providers"
)

const (
	// SSEDataPrefix is the prefix for SSE data lines.
	SSEDataPrefix = "data: "

	// SSEDone is the terminal sentinel frame for a stream.
	SSEDone = "[DONE]"
)

// State is the multiplexer lifecycle state.
type State string

const (
	StateOpen      State = "open"
	StateEmitting  State = "emitting"
	StateDrained   State = "drained"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Result summarizes one completed (or aborted) stream. Token counts reflect
// what was actually emitted: a disconnect after k chunks yields usage for
// those k chunks, not the full expected response.
type Result struct {
	State            State
	Chunks           int
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FinishReason     string
	Err              error
}

// Mux forwards provider stream chunks to one downstream SSE consumer.
type Mux struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewMux prepares an SSE multiplexer over the response writer.
func NewMux(w http.ResponseWriter) (*Mux, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by response writer")
	}
	return &Mux{w: w, flusher: flusher}, nil
}

// Run consumes the provider stream until it drains, fails, or the client
// disconnects. Cancellation propagates to the upstream call through ctx and
// the reader is always closed. A mid-stream provider error is delivered
// in-band as an error frame followed by the terminal sentinel, so partially
// streamed output is never discarded.
func (m *Mux) Run(ctx context.Context, stream providers.StreamReader) Result {
	defer stream.Close()

	m.w.Header().Set("Content-Type", "text/event-stream")
	m.w.Header().Set("Cache-Control", "no-cache")
	m.w.Header().Set("Connection", "keep-alive")
	m.w.Header().Set("X-Accel-Buffering", "no")

	result := Result{State: StateOpen}
	var emittedContent int

	for {
		select {
		case <-ctx.Done():
			result.State = StateCancelled
			result.Err = ctx.Err()
			m.finalize(&result, emittedContent)
			return result
		default:
		}

		chunk, err := stream.Recv()
		if err == io.EOF {
			result.State = StateDrained
			m.writeFrame([]byte(SSEDone))
			m.finalize(&result, emittedContent)
			return result
		}
		if err != nil {
			if ctx.Err() != nil {
				// Client disconnect surfaces as an upstream read error once
				// the context cancels the provider call.
				result.State = StateCancelled
				result.Err = ctx.Err()
				m.finalize(&result, emittedContent)
				return result
			}
			result.State = StateFailed
			result.Err = err
			m.writeErrorFrame(err)
			m.writeFrame([]byte(SSEDone))
			m.finalize(&result, emittedContent)
			return result
		}

		result.State = StateEmitting
		result.Chunks++

		for _, choice := range chunk.Choices {
			emittedContent += len(choice.Delta.Content)
			if choice.FinishReason != "" {
				result.FinishReason = string(choice.FinishReason)
			}
		}
		if chunk.Usage != nil {
			result.PromptTokens = chunk.Usage.PromptTokens
			result.CompletionTokens = chunk.Usage.CompletionTokens
			result.TotalTokens = chunk.Usage.TotalTokens
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		m.writeFrame(data)
	}
}

// finalize fills in estimated token counts when the provider reported none.
func (m *Mux) finalize(result *Result, emittedContent int) {
	if result.TotalTokens == 0 && emittedContent > 0 {
		result.CompletionTokens = providers.EstimateTokensFromLength(emittedContent)
		result.TotalTokens = result.CompletionTokens
	}
}

func (m *Mux) writeFrame(data []byte) {
	fmt.Fprintf(m.w, "%s%s\n\n", SSEDataPrefix, data)
	m.flusher.Flush()
}

func (m *Mux) writeErrorFrame(err error) {
	frame, _ := json.Marshal(map[string]string{"error": err.Error()})
	m.writeFrame(frame)
}
