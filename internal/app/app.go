// Package app wires the MemoryKit services together. Every service is
// constructed once per App and handed its collaborators explicitly.
package app

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/memorykit/internal/extract"
	"github.com/mesh-intelligence/memorykit/internal/fetcher"
	"github.com/mesh-intelligence/memorykit/internal/gateway"
	"github.com/mesh-intelligence/memorykit/internal/logging"
	"github.com/mesh-intelligence/memorykit/internal/retrieval"
	"github.com/mesh-intelligence/memorykit/internal/review"
	"github.com/mesh-intelligence/memorykit/internal/schema"
	"github.com/mesh-intelligence/memorykit/internal/settings"
	"github.com/mesh-intelligence/memorykit/internal/sqlite"
	"github.com/mesh-intelligence/memorykit/internal/timestamp"
	"github.com/mesh-intelligence/memorykit/pkg/types"
)

// FetcherConfig holds the batching defaults.
type FetcherConfig struct {
	MinTokens   int
	CarryoverK  int
	Concurrency int
}

// LLMConfig selects the generation endpoint.
type LLMConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

// Config is everything needed to open an App.
type Config struct {
	DataDir      string
	LogMode      string
	BuildProfile string
	Fetcher      FetcherConfig
	LLM          LLMConfig
	Transcript   string // chat transcript file served as the active chat
	Tokenizer    string // tiktoken encoding; TokenizerEstimate skips loading one
}

// TokenizerEstimate selects the rune-based estimate instead of tiktoken.
const TokenizerEstimate = "estimate"

// App holds the opened store and every service built on it.
type App struct {
	Config     Config
	Logger     *logging.Logger
	Flags      settings.Flags
	Store      *sqlite.Backend
	Settings   *settings.Manager
	Schema     *schema.Registry
	Timestamps *timestamp.Manager
	Bridge     *gateway.Bridge
	Fetcher    *fetcher.Fetcher
	Extractor  *extract.Extractor
	Review     *review.Service
	Retrieval  *retrieval.Service

	// Recovered is the number of diffs completed by the recovery pass on open.
	Recovered int
}

type options struct {
	logger *logging.Logger
	host   gateway.Host
	sender gateway.Sender
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

// WithLogger uses l instead of building a logger from the config.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHost serves host as the active chat instead of the transcript file.
func WithHost(h gateway.Host) Option {
	return func(o *options) { o.host = h }
}

// WithSender uses s for generation requests instead of the configured
// OpenAI-compatible endpoint.
func WithSender(s gateway.Sender) Option {
	return func(o *options) { o.sender = s }
}

// Open attaches the store, seeds the default schema, builds the services
// and completes any diff whose apply was interrupted.
func Open(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	flags := settings.NewFlags(cfg.BuildProfile)
	logger := o.logger
	if logger == nil {
		l, err := logging.New(cfg.LogMode, flags.Enabled(settings.FlagDebugLogging))
		if err != nil {
			return nil, fmt.Errorf("building logger: %w", err)
		}
		logger = l
	}

	store := sqlite.NewBackend(sqlite.WithLogger(logger))
	if err := store.Attach(types.Config{Backend: types.BackendSQLite, DataDir: cfg.DataDir}); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Flags: flags, Store: store}
	if err := a.build(ctx, o); err != nil {
		store.Detach()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	cfg := a.Config
	a.Settings = settings.New(a.Store, a.Logger)
	a.Schema = schema.New(a.Store, a.Settings, a.Logger)
	if _, err := a.Schema.SeedDefaultSchema(ctx); err != nil {
		return err
	}
	a.Timestamps = timestamp.NewManager(a.Settings)

	host := o.host
	if host == nil {
		h, err := a.fileHost(o.sender)
		if err != nil {
			return err
		}
		host = h
	}
	a.Bridge = gateway.NewBridge(a.Logger)
	if err := a.Bridge.Init(host); err != nil {
		return err
	}

	a.Fetcher = fetcher.New(a.Bridge,
		fetcher.WithConcurrency(cfg.Fetcher.Concurrency),
		fetcher.WithLogger(a.Logger),
		fetcher.WithTiming(a.Flags.Enabled(settings.FlagPerformanceMonitoring)))
	a.Extractor = extract.New(a.Bridge, a.Schema, a.Store, a.Settings,
		extract.WithLogger(a.Logger), extract.WithFlags(a.Flags))
	a.Review = review.New(a.Store, a.Timestamps, a.Schema,
		review.WithLogger(a.Logger), review.WithFlags(a.Flags), review.WithAnalysis(a.Settings))
	a.Retrieval = retrieval.New(a.Extractor, a.Store, a.Settings, a.Logger)

	n, err := a.Review.Recover(ctx)
	a.Recovered = n
	if err != nil {
		a.Logger.Warn("recovery on open left diffs incomplete", "error", err)
	}
	return nil
}

// fileHost builds the default host: the configured transcript, or an empty
// chat, with a tiktoken counter and the configured sender.
func (a *App) fileHost(sender gateway.Sender) (*gateway.FileHost, error) {
	var hostOpts []gateway.FileHostOption
	if a.Config.Tokenizer != TokenizerEstimate {
		counter, err := gateway.NewTiktokenCounter(a.Config.Tokenizer)
		if err != nil {
			a.Logger.Warn("tokenizer unavailable, estimating token counts", "error", err)
		} else {
			hostOpts = append(hostOpts, gateway.WithTokenCounter(counter))
		}
	}
	if sender == nil && a.Config.LLM.APIKey != "" {
		sender = gateway.NewOpenAISender(a.Config.LLM.APIKey, a.Config.LLM.BaseURL, a.Config.LLM.Model)
	}
	if sender != nil {
		hostOpts = append(hostOpts, gateway.WithSender(sender))
	}
	if a.Config.Transcript == "" {
		return gateway.NewFileHost(gateway.Chat{}, hostOpts...), nil
	}
	return gateway.LoadFileHost(a.Config.Transcript, hostOpts...)
}

// Batch fetches the next batch of the active chat using the configured
// defaults for any non-positive argument.
func (a *App) Batch(ctx context.Context, chatID string, minTokens, carryoverK int) (*fetcher.Batch, error) {
	if minTokens <= 0 {
		minTokens = a.Config.Fetcher.MinTokens
	}
	if minTokens <= 0 {
		minTokens = fetcher.DefaultMinTokens
	}
	if carryoverK < 0 {
		carryoverK = a.Config.Fetcher.CarryoverK
	}
	return a.Fetcher.GetBatchByTokens(ctx, chatID, minTokens, carryoverK)
}

// Close detaches the store and flushes the logger.
func (a *App) Close() error {
	err := a.Store.Detach()
	a.Logger.Sync()
	return err
}
