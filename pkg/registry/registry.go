// Package registry maps step-type and collector-type identifiers to their
// factories. Registration happens once at startup; lookups are read-only.
package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/keylin/harvester/pkg/protocol"
)

type Registry struct {
	logger             *slog.Logger
	handlerFactories   map[string]protocol.StepHandlerFactory
	collectorFactories map[string]protocol.CollectorFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:             logger,
		handlerFactories:   make(map[string]protocol.StepHandlerFactory),
		collectorFactories: make(map[string]protocol.CollectorFactory),
	}
}

func (r *Registry) RegisterHandler(factory protocol.StepHandlerFactory) {
	r.handlerFactories[factory.ID()] = factory
}

func (r *Registry) RegisterCollector(factory protocol.CollectorFactory) {
	r.collectorFactories[factory.ID()] = factory
}

// HandlerFactory resolves a step type to its factory metadata.
func (r *Registry) HandlerFactory(stepType string) (protocol.StepHandlerFactory, error) {
	factory, ok := r.handlerFactories[stepType]
	if !ok {
		return nil, fmt.Errorf("step type %q not registered", stepType)
	}

	return factory, nil
}

// CreateHandler validates the step config against the factory's schema and
// builds the handler.
func (r *Registry) CreateHandler(stepType string, config map[string]any) (protocol.StepHandler, error) {
	factory, err := r.HandlerFactory(stepType)
	if err != nil {
		return nil, err
	}

	if err := validateConfig(factory.Schema(), config); err != nil {
		return nil, fmt.Errorf("invalid config for step type %q: %w", stepType, err)
	}

	return factory.Create(config)
}

func (r *Registry) CreateCollector(collectorType string, config map[string]any, logger *slog.Logger) (protocol.Collector, error) {
	factory, ok := r.collectorFactories[collectorType]
	if !ok {
		return nil, fmt.Errorf("collector type %q not registered", collectorType)
	}

	return factory.Create(config, logger)
}

// StepTypes lists registered step-type identifiers, for API discovery.
func (r *Registry) StepTypes() []string {
	types := make([]string, 0, len(r.handlerFactories))
	for stepType := range r.handlerFactories {
		types = append(types, stepType)
	}

	return types
}

func validateConfig(schema, config map[string]any) error {
	if schema == nil {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			details = append(details, resultErr.String())
		}

		return fmt.Errorf("config does not match schema: %s", strings.Join(details, "; "))
	}

	return nil
}
