// Package enrich provides the content-extraction step handler backed by the
// tiered escalator.
package enrich

import (
	"time"

	"github.com/keylin/harvester/pkg/escalator"
	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/protocol"
)

func NewFactory(escalator *escalator.Escalator, persistence persistence.Persistence) *Factory {
	return &Factory{escalator: escalator, persistence: persistence}
}

type Factory struct {
	escalator   *escalator.Escalator
	persistence persistence.Persistence
}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	return NewHandler(f.escalator, f.persistence, config)
}

func (f *Factory) ID() string {
	return "enrich"
}

func (f *Factory) Name() string {
	return "Enrich Content"
}

func (f *Factory) Description() string {
	return "Extracts the full readable text for the content item's URL, escalating through extraction tiers until one yields valid content."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"min_tier": map[string]any{
				"type":        "string",
				"enum":        []string{"auto", "direct", "headless", "agent"},
				"description": "Cheapest tier to try. Known JS-heavy sites can skip the direct fetch entirely.",
			},
		},
	}
}

func (f *Factory) Kind() protocol.StepKind {
	return protocol.StepKindEnrichment
}

func (f *Factory) RetryPolicy() protocol.RetryPolicy {
	return protocol.RetryPolicy{MaxRetries: 3, Delay: 30 * time.Second, Backoff: true}
}

func (f *Factory) DefaultCritical() bool {
	return true
}
