// Package prbridge relays GitHub pull request activity into Discord threads:
// one thread per pull request, deduplicated webhook intake, and per-key
// ordered dispatch.
package prbridge

import (
	"fmt"

	"github.com/goliatone/go-prbridge/core"
	"github.com/goliatone/go-prbridge/webhooks"
)

type Config = core.Config
type RepositoryConfig = core.RepositoryConfig
type DedupConfig = core.DedupConfig
type DispatchConfig = core.DispatchConfig
type RetentionConfig = core.RetentionConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type RepoKey = core.RepoKey
type PullRequestRecord = core.PullRequestRecord
type RepositoryBinding = core.RepositoryBinding
type NormalizedEvent = core.NormalizedEvent
type InboundRequest = core.InboundRequest
type InboundResult = core.InboundResult
type RecordFilter = core.RecordFilter

type Gateway = core.Gateway
type RecordStore = core.RecordStore
type Dispatcher = core.Dispatcher
type Normalizer = core.Normalizer

var (
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithErrorMapper     = core.WithErrorMapper
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
	WithNormalizer      = core.WithNormalizer
	WithGateway         = core.WithGateway
	WithRecordStore     = core.WithRecordStore
	WithDispatcher      = core.WithDispatcher
	WithThreadRegistry  = core.WithThreadRegistry
	WithJobEnqueuer     = core.WithJobEnqueuer
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}

type ProcessorOption func(*webhooks.Processor)

// WithDeliveryLedger swaps the in-memory dedup ledger for a durable one.
func WithDeliveryLedger(ledger webhooks.DeliveryLedger) ProcessorOption {
	return func(p *webhooks.Processor) {
		if ledger != nil {
			p.Ledger = ledger
		}
	}
}

// WithBurstController enables burst suppression for push storms.
func WithBurstController(burst webhooks.BurstController) ProcessorOption {
	return func(p *webhooks.Processor) {
		p.Burst = burst
	}
}

// NewWebhookProcessor assembles the GitHub intake for a service: signature
// verification, delivery dedup, and hand-off into the relay core. The dedup
// ledger defaults to in-memory and should be replaced with the SQL ledger in
// multi-process deployments.
func NewWebhookProcessor(service *Service, opts ...ProcessorOption) (*webhooks.Processor, error) {
	if service == nil {
		return nil, fmt.Errorf("prbridge: service is required")
	}
	cfg := service.Config()
	template := webhooks.NewGitHubWebhookTemplate(cfg.WebhookSecret)

	processor := webhooks.NewProcessor(template.Verifier, webhooks.NewInMemoryDeliveryLedger(), service)
	processor.ExtractID = template.Extractor
	if cfg.Dedup.ClaimLease > 0 {
		processor.ClaimLease = cfg.Dedup.ClaimLease
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(processor)
	}
	return processor, nil
}
