package escalator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keylin/harvester/pkg/protocol"
)

// AgentExtractor is tier 3: an autonomous browser-driving agent that can get
// past interactions the other tiers cannot. Whatever it returns is final.
type AgentExtractor struct {
	client     *http.Client
	serviceURL string
}

type agentRequest struct {
	URL  string `json:"url"`
	Task string `json:"task"`
}

type agentResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func NewAgentExtractor(serviceURL string, timeout time.Duration) *AgentExtractor {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &AgentExtractor{
		client:     &http.Client{Timeout: timeout},
		serviceURL: strings.TrimSuffix(serviceURL, "/"),
	}
}

func (e *AgentExtractor) Tier() protocol.Tier { return protocol.TierAgent }

func (e *AgentExtractor) Extract(ctx context.Context, url string) (string, error) {
	payload, err := json.Marshal(agentRequest{
		URL:  url,
		Task: "extract the full readable text of the main content",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal agent request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serviceURL+"/extract", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build agent request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")

	response, err := e.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("agent service unreachable: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read agent response: %w", err)
	}

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent service returned status %d: %s", response.StatusCode, body)
	}

	var result agentResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode agent response: %w", err)
	}

	if result.Error != "" {
		return "", fmt.Errorf("agent failed: %s", result.Error)
	}

	return result.Text, nil
}
