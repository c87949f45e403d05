// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"log/slog"
	"time"

	"github.com/keylin/harvester/pkg/collectors/feed"
	"github.com/keylin/harvester/pkg/escalator"
	"github.com/keylin/harvester/pkg/handlers/analyze"
	"github.com/keylin/harvester/pkg/handlers/enrich"
	"github.com/keylin/harvester/pkg/handlers/logstep"
	"github.com/keylin/harvester/pkg/handlers/transform"
	"github.com/keylin/harvester/pkg/llm"
	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/protocol"
	"github.com/keylin/harvester/pkg/registry"
)

const extractorTimeout = 30 * time.Second

// RegistryConfig carries the external service endpoints the step handlers
// depend on. Empty endpoints disable the corresponding capability.
type RegistryConfig struct {
	// HeadlessURL and AgentURL point at the browser-rendering and agent
	// extraction services. Without them extraction stops at the direct tier.
	HeadlessURL string
	AgentURL    string

	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string
}

// NewRegistry wires the native step handlers and collectors.
func NewRegistry(logger *slog.Logger, p persistence.Persistence, cfg RegistryConfig) *registry.Registry {
	reg := registry.NewRegistry(logger)

	extractors := []protocol.Extractor{escalator.NewDirectExtractor(extractorTimeout)}
	if cfg.HeadlessURL != "" {
		extractors = append(extractors, escalator.NewHeadlessExtractor(cfg.HeadlessURL, extractorTimeout))
	}

	if cfg.AgentURL != "" {
		extractors = append(extractors, escalator.NewAgentExtractor(cfg.AgentURL, 2*extractorTimeout))
	}

	esc := escalator.NewEscalator(logger, extractors...)

	reg.RegisterHandler(enrich.NewFactory(esc, p))
	reg.RegisterHandler(analyze.NewFactory(llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel), p))
	reg.RegisterHandler(transform.NewFactory())
	reg.RegisterHandler(logstep.NewFactory())

	reg.RegisterCollector(feed.NewFactory())

	return reg
}
