package mocks

import (
	"context"
	"log/slog"

	"github.com/keylin/harvester/pkg/protocol"
)

// HandleFunc adapts a function to protocol.StepHandler.
type HandleFunc func(ctx context.Context, stepCtx protocol.StepContext, logger *slog.Logger) (map[string]any, error)

func (f HandleFunc) Handle(ctx context.Context, stepCtx protocol.StepContext, logger *slog.Logger) (map[string]any, error) {
	return f(ctx, stepCtx, logger)
}

// StepHandlerFactory is a configurable protocol.StepHandlerFactory double.
type StepHandlerFactory struct {
	TypeID       string
	StepKind     protocol.StepKind
	Critical     bool
	Retry        *protocol.RetryPolicy
	ConfigSchema map[string]any

	// Handler runs for every step of this type. CallCount tracks invocations
	// across handler instances.
	Handler   HandleFunc
	CallCount int
}

func (f *StepHandlerFactory) Create(map[string]any) (protocol.StepHandler, error) {
	return HandleFunc(func(ctx context.Context, stepCtx protocol.StepContext, logger *slog.Logger) (map[string]any, error) {
		f.CallCount++

		if f.Handler == nil {
			return map[string]any{}, nil
		}

		return f.Handler(ctx, stepCtx, logger)
	}), nil
}

func (f *StepHandlerFactory) ID() string { return f.TypeID }

func (f *StepHandlerFactory) Name() string { return "Mock " + f.TypeID }

func (f *StepHandlerFactory) Description() string { return "test double for " + f.TypeID }

func (f *StepHandlerFactory) Schema() map[string]any { return f.ConfigSchema }

func (f *StepHandlerFactory) Kind() protocol.StepKind {
	if f.StepKind == "" {
		return protocol.StepKindGeneric
	}

	return f.StepKind
}

func (f *StepHandlerFactory) RetryPolicy() protocol.RetryPolicy {
	if f.Retry != nil {
		return *f.Retry
	}

	return protocol.DefaultRetryPolicy()
}

func (f *StepHandlerFactory) DefaultCritical() bool { return f.Critical }
