// Package feed provides an HTML listing collector: it fetches a source's
// listing page and discovers item links via CSS selectors.
package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/keylin/harvester/pkg/models"
	"github.com/keylin/harvester/pkg/protocol"
)

const collectorUserAgent = "Mozilla/5.0 (compatible; harvester/1.0)"

func NewFactory() *Factory {
	return &Factory{}
}

type Factory struct{}

func (*Factory) ID() string {
	return "feed"
}

func (f *Factory) Name() string {
	return "HTML Feed"
}

func (f *Factory) Description() string {
	return "Discovers content items from an HTML listing page using CSS selectors."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"item_selector": map[string]any{
				"type":        "string",
				"description": "CSS selector matching one listing entry.",
			},
			"link_selector": map[string]any{
				"type":        "string",
				"description": "Selector for the entry's link, relative to the entry. Defaults to the entry itself.",
			},
			"title_selector": map[string]any{
				"type":        "string",
				"description": "Selector for the entry's title, relative to the entry. Defaults to the link text.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"description": "Maximum entries per collection attempt.",
			},
		},
		"required": []string{"item_selector"},
	}
}

func (f *Factory) Create(config map[string]any, logger *slog.Logger) (protocol.Collector, error) {
	itemSelector, _ := config["item_selector"].(string)
	if itemSelector == "" {
		return nil, fmt.Errorf("feed collector requires item_selector")
	}

	linkSelector, _ := config["link_selector"].(string)
	titleSelector, _ := config["title_selector"].(string)

	limit := 50
	if raw, ok := config["limit"].(float64); ok && raw > 0 {
		limit = int(raw)
	}

	return &Collector{
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        logger.With("module", "feed_collector"),
		itemSelector:  itemSelector,
		linkSelector:  linkSelector,
		titleSelector: titleSelector,
		limit:         limit,
	}, nil
}

type Collector struct {
	client        *http.Client
	logger        *slog.Logger
	itemSelector  string
	linkSelector  string
	titleSelector string
	limit         int
}

func (c *Collector) Collect(ctx context.Context, source *models.Source) ([]protocol.Discovered, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	request.Header.Set("User-Agent", collectorUserAgent)

	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch listing %s: %w", source.URL, err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing %s returned status %d", source.URL, response.StatusCode)
	}

	document, err := goquery.NewDocumentFromReader(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing %s: %w", source.URL, err)
	}

	base, err := url.Parse(source.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url %s: %w", source.URL, err)
	}

	var discovered []protocol.Discovered

	document.Find(c.itemSelector).EachWithBreak(func(_ int, entry *goquery.Selection) bool {
		if len(discovered) >= c.limit {
			return false
		}

		item, ok := c.extractEntry(entry, base)
		if !ok {
			return true
		}

		discovered = append(discovered, item)

		return true
	})

	c.logger.DebugContext(ctx, "Feed collection finished",
		"source_id", source.ID, "discovered", len(discovered))

	return discovered, nil
}

func (c *Collector) extractEntry(entry *goquery.Selection, base *url.URL) (protocol.Discovered, bool) {
	link := entry
	if c.linkSelector != "" {
		link = entry.Find(c.linkSelector).First()
	}

	if goquery.NodeName(link) != "a" {
		link = link.Find("a").First()
	}

	href, exists := link.Attr("href")
	if !exists || href == "" {
		return protocol.Discovered{}, false
	}

	resolved, err := base.Parse(href)
	if err != nil {
		return protocol.Discovered{}, false
	}

	title := strings.TrimSpace(link.Text())
	if c.titleSelector != "" {
		if found := strings.TrimSpace(entry.Find(c.titleSelector).First().Text()); found != "" {
			title = found
		}
	}

	absolute := resolved.String()

	return protocol.Discovered{
		// The canonical URL is the stable identity of a listing entry.
		ExternalID: externalID(absolute),
		URL:        absolute,
		Title:      title,
		Payload: map[string]any{
			"href":  href,
			"title": title,
		},
	}, true
}

func externalID(absoluteURL string) string {
	digest := sha256.Sum256([]byte(absoluteURL))

	return hex.EncodeToString(digest[:16])
}
