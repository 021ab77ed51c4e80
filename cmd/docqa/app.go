package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/ShayCichocki/docqa/internal/agent"
	"github.com/ShayCichocki/docqa/internal/config"
	"github.com/ShayCichocki/docqa/internal/credentials"
	"github.com/ShayCichocki/docqa/internal/llm"
	"github.com/ShayCichocki/docqa/internal/orchestrator"
	"github.com/ShayCichocki/docqa/internal/prompts"
)

// app holds what every command shares: config, credentials, the model
// registry, the prompt store and one token tracker.
type app struct {
	cfg      *config.Config
	logger   hclog.Logger
	creds    *credentials.Store
	registry *llm.Registry
	prompts  *prompts.Store
	tracker  *llm.TokenTracker
	callers  map[string]llm.Caller
}

func newApp(cfg *config.Config, logger hclog.Logger) (*app, error) {
	if err := credentials.LoadEnvFiles(cfg.Credentials.EnvFile); err != nil {
		return nil, err
	}
	creds, err := credentials.LoadOptional(cfg.Credentials.Path)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	registry, err := llm.LoadRegistry(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("load model registry: %w", err)
	}
	store, err := prompts.Load(cfg.Prompts.Path)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		creds:    creds,
		registry: registry,
		prompts:  store,
		tracker:  llm.NewTokenTracker(),
		callers:  make(map[string]llm.Caller),
	}, nil
}

// caller builds the named model once and reuses it across roles.
func (a *app) caller(ctx context.Context, name string) (llm.Caller, error) {
	if c, ok := a.callers[name]; ok {
		return c, nil
	}
	c, err := a.registry.Build(ctx, name, llm.BuildOptions{
		Credentials: a.creds,
		Tracker:     a.tracker,
		UseBedrock:  a.cfg.Bedrock.Enabled,
		AWSRegion:   a.cfg.Bedrock.Region,
		AWSProfile:  a.cfg.Bedrock.Profile,
	})
	if err != nil {
		return nil, err
	}
	a.callers[name] = c
	return c, nil
}

// orchestrator wires the four role agents to their configured models.
func (a *app) orchestrator(ctx context.Context, opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	models := a.cfg.Models
	agentOpts := []agent.Option{agent.WithLogger(a.logger)}

	decomposeCaller, err := a.caller(ctx, models.Decompose)
	if err != nil {
		return nil, err
	}
	decomposer, err := agent.NewDecomposer(decomposeCaller, a.prompts, agentOpts...)
	if err != nil {
		return nil, err
	}

	textCaller, err := a.caller(ctx, models.Text)
	if err != nil {
		return nil, err
	}
	text, err := agent.NewTextAnswerer(textCaller, a.prompts, agentOpts...)
	if err != nil {
		return nil, err
	}

	imageCaller, err := a.caller(ctx, models.Image)
	if err != nil {
		return nil, err
	}
	if entry, err := a.registry.Lookup(models.Image); err == nil && !entry.Vision {
		a.logger.Warn("image model is not marked as vision capable", "model", models.Image)
	}
	image, err := agent.NewImageAnswerer(imageCaller, a.prompts, agentOpts...)
	if err != nil {
		return nil, err
	}

	summaryCaller, err := a.caller(ctx, models.Summary)
	if err != nil {
		return nil, err
	}
	summarizer, err := agent.NewSummarizer(summaryCaller, a.prompts, agentOpts...)
	if err != nil {
		return nil, err
	}

	opts = append([]orchestrator.Option{orchestrator.WithLogger(a.logger)}, opts...)
	return orchestrator.New(orchestrator.RequiredConfig{
		Decomposer:    decomposer,
		TextAnswerer:  text,
		ImageAnswerer: image,
		Summarizer:    summarizer,
	}, opts...)
}

// modelSummary names the model of each role, for logs and the run log.
func (a *app) modelSummary() string {
	m := a.cfg.Models
	return fmt.Sprintf("decompose=%s text=%s image=%s summary=%s", m.Decompose, m.Text, m.Image, m.Summary)
}
