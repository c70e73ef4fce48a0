package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Service is the event correlation core: it accepts normalized webhook
// deliveries, drives each pull request's thread through its lifecycle, and
// hands platform actions to the per-key dispatcher.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	normalizer      Normalizer
	gateway         Gateway
	recordStore     RecordStore
	registry        *ThreadRegistry
	dispatcher      Dispatcher
	jobEnqueuer     JobEnqueuer
	bindings        map[string]RepositoryBinding
	sequence        atomic.Int64
	now             func() time.Time
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	Normalizer      Normalizer
	Gateway         Gateway
	RecordStore     RecordStore
	Registry        *ThreadRegistry
	Dispatcher      Dispatcher
	JobEnqueuer     JobEnqueuer
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("prbridge", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("prbridge"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.gateway == nil {
		return nil, fmt.Errorf("core: platform gateway is required")
	}
	if builder.recordStore == nil {
		builder.recordStore = NewMemoryRecordStore()
	}
	if builder.registry == nil {
		registry, err := NewThreadRegistry(builder.recordStore)
		if err != nil {
			return nil, err
		}
		builder.registry = registry
	}
	if builder.dispatcher == nil {
		return nil, fmt.Errorf("core: dispatcher is required")
	}
	if builder.normalizer == nil {
		return nil, fmt.Errorf("core: event normalizer is required")
	}

	return &Service{
		config:          cfg,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		normalizer:      builder.normalizer,
		gateway:         builder.gateway,
		recordStore:     builder.recordStore,
		registry:        builder.registry,
		dispatcher:      builder.dispatcher,
		jobEnqueuer:     builder.jobEnqueuer,
		bindings:        cfg.Bindings(),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Setup resolves configuration through the provider and options stack before
// constructing the service.
func Setup(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	defaults := DefaultConfig()
	loaded := defaults
	if builder.configProvider != nil {
		resolved, err := builder.configProvider.Load(context.Background(), defaults)
		if err != nil {
			return nil, err
		}
		loaded = resolved
	}
	final := loaded
	if builder.optionsResolver != nil {
		resolved, err := builder.optionsResolver.Resolve(defaults, loaded, cfg)
		if err != nil {
			return nil, err
		}
		final = resolved
	}
	return NewService(final, opts...)
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		Normalizer:      s.normalizer,
		Gateway:         s.gateway,
		RecordStore:     s.recordStore,
		Registry:        s.registry,
		Dispatcher:      s.dispatcher,
		JobEnqueuer:     s.jobEnqueuer,
	}
}

// Handle is the webhook-processor entry point: it normalizes a verified
// delivery and routes the event through the lifecycle. Malformed payloads are
// acknowledged without processing so the sender stops redelivering them.
func (s *Service) Handle(ctx context.Context, req InboundRequest) (result InboundResult, err error) {
	if s == nil {
		return InboundResult{}, fmt.Errorf("core: service is nil")
	}
	startedAt := s.clock()
	fields := map[string]any{
		"event_type": strings.TrimSpace(req.EventType),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "inbound.handle", err, fields)
	}()

	event, normErr := s.normalizer.Normalize(req)
	if normErr != nil {
		if IsMalformedPayload(normErr) {
			s.logWarn(ctx, "dropping malformed delivery", map[string]any{
				"event_type": req.EventType,
				"error":      normErr.Error(),
			})
			return InboundResult{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Metadata:   map[string]any{"malformed": true},
			}, nil
		}
		return InboundResult{}, s.mapError(normErr)
	}

	event.Sequence = s.sequence.Add(1)
	event.ReceivedAt = s.clock()
	fields["event_kind"] = string(event.Kind)

	switch event.Kind {
	case EventIgnored:
		return InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata:   map[string]any{"ignored": true},
		}, nil
	case EventBranchPushed:
		return s.handleBranchPush(ctx, event)
	case EventPROpened, EventPRCommented, EventPRClosed, EventPRReopened:
		return s.handlePullRequestEvent(ctx, event)
	default:
		return InboundResult{}, s.mapError(fmt.Errorf("%w: %q", ErrUnknownNormalizedEventKind, event.Kind))
	}
}

func (s *Service) handlePullRequestEvent(ctx context.Context, event NormalizedEvent) (InboundResult, error) {
	if err := event.Validate(); err != nil {
		return InboundResult{}, s.mapError(err)
	}
	binding, ok := s.binding(event.Repo)
	if !ok {
		s.logWarn(ctx, "no binding for repository", map[string]any{"repo": event.Repo})
		return InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata:   map[string]any{"unbound": true, "repo": event.Repo},
		}, nil
	}

	key := event.Key()
	if err := s.dispatcher.Submit(ctx, key.String(), func(taskCtx context.Context) error {
		return s.applyPullRequestEvent(taskCtx, binding, event)
	}); err != nil {
		return InboundResult{}, s.mapError(err)
	}
	return InboundResult{
		Accepted:   true,
		StatusCode: http.StatusAccepted,
		Metadata: map[string]any{
			"key":      key.String(),
			"sequence": event.Sequence,
		},
	}, nil
}

func (s *Service) handleBranchPush(ctx context.Context, event NormalizedEvent) (InboundResult, error) {
	binding, ok := s.binding(event.Repo)
	if !ok {
		return InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata:   map[string]any{"unbound": true, "repo": event.Repo},
		}, nil
	}
	if !binding.WatchesBranch(event.Branch) {
		return InboundResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Metadata:   map[string]any{"ignored": true, "branch": event.Branch},
		}, nil
	}

	notice := branchNotice(event)
	if err := s.dispatcher.Fanout(ctx, func(taskCtx context.Context) error {
		return s.gateway.PostChannelMessage(taskCtx, binding.ActivityChannelID, notice)
	}); err != nil {
		return InboundResult{}, s.mapError(err)
	}
	return InboundResult{
		Accepted:   true,
		StatusCode: http.StatusAccepted,
		Metadata: map[string]any{
			"repo":   event.Repo,
			"branch": event.Branch,
		},
	}, nil
}

// ArchiveRecords archives closed records whose close predates the cutoff. It
// exists as a service operation so the go-job archive worker and the command
// bus share one code path.
func (s *Service) ArchiveRecords(ctx context.Context, closedBefore time.Time, limit int) (archived int, err error) {
	if s == nil || s.recordStore == nil {
		return 0, fmt.Errorf("core: service is not configured")
	}
	startedAt := s.clock()
	defer func() {
		s.observeOperation(ctx, startedAt, "records.archive", err, map[string]any{
			"archived": archived,
		})
	}()

	if closedBefore.IsZero() {
		closedBefore = s.clock().Add(-s.archiveGrace())
	}
	records, err := s.recordStore.ListArchivable(ctx, closedBefore, limit)
	if err != nil {
		return 0, s.mapError(err)
	}
	for _, record := range records {
		if err := s.recordStore.Archive(ctx, record.ID, s.clock()); err != nil {
			return archived, s.mapError(err)
		}
		archived++
	}
	return archived, nil
}

func (s *Service) MarkOrphaned(ctx context.Context, key RepoKey, reason string) (PullRequestRecord, error) {
	if s == nil || s.registry == nil {
		return PullRequestRecord{}, fmt.Errorf("core: service is not configured")
	}
	record, err := s.registry.MarkOrphaned(ctx, key, reason)
	if err != nil {
		return PullRequestRecord{}, s.mapError(err)
	}
	return record, nil
}

func (s *Service) GetPullRequestRecord(ctx context.Context, repo string, number int) (PullRequestRecord, error) {
	if s == nil || s.recordStore == nil {
		return PullRequestRecord{}, fmt.Errorf("core: service is not configured")
	}
	record, err := s.recordStore.Get(ctx, repo, number)
	if err != nil {
		return PullRequestRecord{}, s.mapError(err)
	}
	return record, nil
}

func (s *Service) ListPullRequestRecords(ctx context.Context, filter RecordFilter) ([]PullRequestRecord, error) {
	if s == nil || s.recordStore == nil {
		return nil, fmt.Errorf("core: service is not configured")
	}
	records, err := s.recordStore.List(ctx, filter)
	if err != nil {
		return nil, s.mapError(err)
	}
	return records, nil
}

// Shutdown drains in-flight per-key work; new submissions are rejected and
// the sender's redelivery covers anything not yet accepted.
func (s *Service) Shutdown(ctx context.Context) error {
	if s == nil || s.dispatcher == nil {
		return nil
	}
	return s.dispatcher.Shutdown(ctx)
}

func (s *Service) binding(repo string) (RepositoryBinding, bool) {
	binding, ok := s.bindings[strings.ToLower(strings.TrimSpace(repo))]
	return binding, ok
}

func (s *Service) archiveGrace() time.Duration {
	if s != nil && s.config.Retention.ArchiveGrace > 0 {
		return s.config.Retention.ArchiveGrace
	}
	return 7 * 24 * time.Hour
}

func (s *Service) clock() time.Time {
	if s != nil && s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return goerrors.New(err.Error(), goerrors.CategoryInternal).WithTextCode(RelayErrorInternal)
}
