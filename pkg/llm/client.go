// Package llm provides a minimal OpenAI-compatible chat completion client
// used by analysis step handlers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultModel = "gpt-4o-mini"

// Client talks to any OpenAI-compatible chat completion endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewClient(baseURL, apiKey, model string) *Client {
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}
}

// Complete sends the messages and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion returned status %d: %s", response.StatusCode, body)
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}

	if completion.Error != nil {
		return "", fmt.Errorf("chat completion error: %s", completion.Error.Message)
	}

	if len(completion.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}

	return completion.Choices[0].Message.Content, nil
}
