package escalator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/keylin/harvester/pkg/protocol"
)

const directUserAgent = "Mozilla/5.0 (compatible; harvester/1.0)"

// DirectExtractor is tier 1: a plain HTTP fetch with structural text
// extraction. Cheap, and sufficient for server-rendered pages.
type DirectExtractor struct {
	client *http.Client
}

func NewDirectExtractor(timeout time.Duration) *DirectExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &DirectExtractor{
		client: &http.Client{Timeout: timeout},
	}
}

func (e *DirectExtractor) Tier() protocol.Tier { return protocol.TierDirect }

func (e *DirectExtractor) Extract(ctx context.Context, url string) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	request.Header.Set("User-Agent", directUserAgent)

	response, err := e.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d fetching %s", response.StatusCode, url)
	}

	document, err := goquery.NewDocumentFromReader(response.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", url, err)
	}

	return ExtractText(document), nil
}

// ExtractText pulls readable text from a parsed document, preferring the
// article/main region when one exists.
func ExtractText(document *goquery.Document) string {
	document.Find("script, style, noscript, nav, header, footer, aside").Remove()

	root := document.Find("article")
	if root.Length() == 0 {
		root = document.Find("main")
	}

	if root.Length() == 0 {
		root = document.Find("body")
	}

	var builder strings.Builder

	root.Find("h1, h2, h3, p, li, blockquote, pre").Each(func(_ int, selection *goquery.Selection) {
		text := strings.TrimSpace(selection.Text())
		if text == "" {
			return
		}

		builder.WriteString(text)
		builder.WriteString("\n\n")
	})

	text := strings.TrimSpace(builder.String())
	if text == "" {
		text = strings.TrimSpace(root.Text())
	}

	return text
}
