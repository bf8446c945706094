// Package explainer produces streamed natural-language explanations of code.
package explainer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bhandras/codetutor/server/internal/session/runtime"
	"github.com/bhandras/codetutor/shared/logger"
)

const (
	// DefaultBaseURL is the Groq OpenAI-compatible endpoint.
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "llama-3.1-8b-instant"
	// DefaultTemperature keeps explanations focused.
	DefaultTemperature = 0.1
	// defaultHeaderTimeout bounds the wait for the response headers.
	defaultHeaderTimeout = 30 * time.Second

	sseDataPrefix = "data:"
	sseDone       = "[DONE]"
	// maxEventBytes bounds a single server-sent event line.
	maxEventBytes = 1 << 20
)

// APIError is a non-2xx response from the LLM endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm request failed: %d %s: %s",
		e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// LLMConfig describes an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	// HeaderTimeout bounds the wait for response headers. The body streams
	// for as long as the run's context allows.
	HeaderTimeout time.Duration
	// Client overrides the HTTP client.
	Client *http.Client
}

// LLM streams explanations from a chat completions API.
type LLM struct {
	apiKey      string
	endpoint    string
	model       string
	temperature float64
	client      *http.Client
}

// NewLLM creates an LLM explainer.
func NewLLM(cfg LLMConfig) (*LLM, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("llm api key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.HeaderTimeout
		if timeout <= 0 {
			timeout = defaultHeaderTimeout
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = timeout
		client = &http.Client{Transport: transport}
	}

	return &LLM{
		apiKey:      cfg.APIKey,
		endpoint:    baseURL + "/chat/completions",
		model:       model,
		temperature: temperature,
		client:      client,
	}, nil
}

// Model returns the configured model name.
func (l *LLM) Model() string { return l.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Explain implements runtime.Explainer.
func (l *LLM) Explain(ctx context.Context, req runtime.ExplainRequest, emit func(string) error) error {
	body, err := json.Marshal(chatRequest{
		Model: l.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(req)},
		},
		Temperature: l.temperature,
		Stream:      true,
	})
	if err != nil {
		return fmt.Errorf("llm request encode failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("llm request build failed: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+l.apiKey)

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	logger.Debugf("[explainer] run %s: streaming from %s", req.RunID, l.model)
	return readStream(resp.Body, emit)
}

// readStream forwards the content deltas of a server-sent event stream.
func readStream(r io.Reader, emit func(string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxEventBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if data == sseDone {
			return nil
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("llm stream decode failed: %w", err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("llm stream error: %s", chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := emit(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("llm stream read failed: %w", err)
	}
	return nil
}
