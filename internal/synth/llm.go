package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// GenerateOptions configures an LLM generation request.
type GenerateOptions struct {
	Model        string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
}

// LLM defines the interface for the external chat-completion service
// (spec.md §6: "system, user, temperature, maxTokens, timeout").
type LLM interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// HTTPClient calls an external chat-completion service exposing
// POST {baseURL}/generate.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient builds an HTTPClient.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, client: http.DefaultClient}
}

type generateRequest struct {
	Model        string  `json:"model"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float32 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// Generate sends a prompt to the LLM service and returns the full response.
func (c *HTTPClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model: opts.Model, Prompt: prompt, SystemPrompt: opts.SystemPrompt,
		Temperature: opts.Temperature, MaxTokens: opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("LLM service error (status %d): %s", resp.StatusCode, string(errBody))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return decoded.Text, nil
}

var _ LLM = (*HTTPClient)(nil)
