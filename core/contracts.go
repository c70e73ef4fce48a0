package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// InboundRequest is one webhook delivery as handed over by the hosting HTTP
// surface: raw body plus transport metadata. The processor verifies the
// signature before the body is trusted.
type InboundRequest struct {
	ProviderID string
	EventType  string
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

// Gateway is the messaging-platform boundary. Implementations surface
// RateLimitError, NotFoundError, or a transient external error; the dispatch
// layer owns the retry policy.
type Gateway interface {
	CreateThread(ctx context.Context, channelID string, name string) (string, error)
	PostMessage(ctx context.Context, threadID string, body string) error
	CloseThread(ctx context.Context, threadID string) error
	PostChannelMessage(ctx context.Context, channelID string, body string) error
}

// RecordStore persists pull request records. Insert returns ErrRecordExists
// when the (repo, number) key is already claimed so callers can collapse
// concurrent creates.
type RecordStore interface {
	Get(ctx context.Context, repo string, number int) (PullRequestRecord, error)
	Insert(ctx context.Context, record PullRequestRecord) (PullRequestRecord, error)
	Update(ctx context.Context, record PullRequestRecord) (PullRequestRecord, error)
	List(ctx context.Context, filter RecordFilter) ([]PullRequestRecord, error)
	ListArchivable(ctx context.Context, closedBefore time.Time, limit int) ([]PullRequestRecord, error)
	Archive(ctx context.Context, id string, at time.Time) error
}

type RecordFilter struct {
	Repo    string
	State   RecordState
	Page    int
	PerPage int
}

// Dispatcher serializes work per pull request key while unrelated keys run
// concurrently. Submit blocks when the key's lane is at capacity and fails
// with ErrDispatcherClosed after shutdown has begun.
type Dispatcher interface {
	Submit(ctx context.Context, key string, task func(context.Context) error) error
	Fanout(ctx context.Context, task func(context.Context) error) error
	Shutdown(ctx context.Context) error
}

type TransportRequest struct {
	Method   string
	URL      string
	Headers  map[string]string
	Query    map[string]string
	Body     []byte
	Metadata map[string]any
	Timeout  time.Duration
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type RateLimitKey struct {
	ProviderID string
	ChannelID  string
	BucketKey  string
}

type ProviderResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ProviderResponseMeta) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Normalizer reduces a verified inbound delivery into a canonical event.
// It is a pure transform; malformed payloads are reported, never retried.
type Normalizer interface {
	Normalize(req InboundRequest) (NormalizedEvent, error)
}
