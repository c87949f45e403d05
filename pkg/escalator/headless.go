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

	"github.com/PuerkitoBio/goquery"

	"github.com/keylin/harvester/pkg/protocol"
)

// HeadlessExtractor is tier 2: the page is rendered by an external headless
// browser service and the returned HTML goes through the same structural
// extraction as tier 1.
type HeadlessExtractor struct {
	client     *http.Client
	serviceURL string
}

type renderRequest struct {
	URL            string `json:"url"`
	WaitForNetwork bool   `json:"wait_for_network"`
}

type renderResponse struct {
	HTML  string `json:"html"`
	Error string `json:"error,omitempty"`
}

func NewHeadlessExtractor(serviceURL string, timeout time.Duration) *HeadlessExtractor {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &HeadlessExtractor{
		client:     &http.Client{Timeout: timeout},
		serviceURL: strings.TrimSuffix(serviceURL, "/"),
	}
}

func (e *HeadlessExtractor) Tier() protocol.Tier { return protocol.TierHeadless }

func (e *HeadlessExtractor) Extract(ctx context.Context, url string) (string, error) {
	payload, err := json.Marshal(renderRequest{URL: url, WaitForNetwork: true})
	if err != nil {
		return "", fmt.Errorf("failed to marshal render request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serviceURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build render request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")

	response, err := e.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("render service unreachable: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read render response: %w", err)
	}

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("render service returned status %d: %s", response.StatusCode, body)
	}

	var rendered renderResponse
	if err := json.Unmarshal(body, &rendered); err != nil {
		return "", fmt.Errorf("failed to decode render response: %w", err)
	}

	if rendered.Error != "" {
		return "", fmt.Errorf("render service failed: %s", rendered.Error)
	}

	document, err := goquery.NewDocumentFromReader(strings.NewReader(rendered.HTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse rendered html: %w", err)
	}

	return ExtractText(document), nil
}
