package orchestrator

import (
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/trace"
)

// RequiredConfig contains the agents a run needs. All fields are required.
type RequiredConfig struct {
	Decomposer    Decomposer
	TextAnswerer  TextAnswerer
	ImageAnswerer ImageAnswerer
	Summarizer    Summarizer
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

type orchestratorOptions struct {
	logger   hclog.Logger
	debugLog *DebugLogger
	emitter  *EventEmitter
	tracer   trace.Tracer
}

// WithLogger sets the structured logger.
func WithLogger(l hclog.Logger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithDebugLogger sets the step-by-step file log.
func WithDebugLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.debugLog = l }
}

// WithEmitter sets the emitter that receives run events.
func WithEmitter(e *EventEmitter) Option {
	return func(o *orchestratorOptions) { o.emitter = e }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *orchestratorOptions) { o.tracer = t }
}
