// Package transform provides a templated field-mapping step handler.
package transform

import (
	"time"

	"github.com/keylin/harvester/pkg/protocol"
)

func NewFactory() *Factory {
	return &Factory{}
}

type Factory struct{}

func (f *Factory) Create(config map[string]any) (protocol.StepHandler, error) {
	return NewHandler(config)
}

func (f *Factory) ID() string {
	return "transform"
}

func (f *Factory) Name() string {
	return "Transform"
}

func (f *Factory) Description() string {
	return "Maps content fields and upstream step outputs into a new output payload using template expressions."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"fields": map[string]any{
				"type":        "object",
				"description": "Output key to template expression. Templates see .content and .upstream.",
				"examples": []map[string]any{
					{"headline": "{{ upper .content.title }}"},
					{"word_count": "{{ len .upstream.enrich.text }}"},
				},
			},
		},
		"required": []string{"fields"},
	}
}

func (f *Factory) Kind() protocol.StepKind {
	return protocol.StepKindGeneric
}

func (f *Factory) RetryPolicy() protocol.RetryPolicy {
	return protocol.RetryPolicy{MaxRetries: 1, Delay: 10 * time.Second}
}

func (f *Factory) DefaultCritical() bool {
	return false
}
