// Package analyze provides the LLM-backed analysis step handler.
package analyze

import (
	"time"

	"github.com/keylin/harvester/pkg/llm"
	"github.com/keylin/harvester/pkg/persistence"
	"github.com/keylin/harvester/pkg/protocol"
)

func NewFactory(client *llm.Client, persistence persistence.Persistence) *Factory {
	return &Factory{client: client, persistence: persistence}
}

type Factory struct {
	client      *llm.Client
	persistence persistence.Persistence
}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	return NewHandler(f.client, f.persistence, config), nil
}

func (f *Factory) ID() string {
	return "analyze"
}

func (f *Factory) Name() string {
	return "Analyze Content"
}

func (f *Factory) Description() string {
	return "Summarizes the extracted text and derives topics through a chat completion model, storing the result on the content item."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt": map[string]any{
				"type":        "string",
				"description": "Override for the analysis instruction given to the model.",
			},
			"max_input_chars": map[string]any{
				"type":        "integer",
				"minimum":     1,
				"description": "Truncate the input text to this many characters before sending.",
			},
		},
	}
}

func (f *Factory) Kind() protocol.StepKind {
	return protocol.StepKindAnalysis
}

func (f *Factory) RetryPolicy() protocol.RetryPolicy {
	return protocol.RetryPolicy{MaxRetries: 2, Delay: time.Minute}
}

func (f *Factory) DefaultCritical() bool {
	return false
}
