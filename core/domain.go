package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidRepoKey                = errors.New("core: invalid pull request key")
	ErrInvalidRecordStateTransition  = errors.New("core: invalid record state transition")
	ErrRecordNotFound                = errors.New("core: pull request record not found")
	ErrRecordExists                  = errors.New("core: pull request record already exists")
	ErrThreadAlreadyAssigned         = errors.New("core: thread id already assigned")
	ErrBindingNotFound               = errors.New("core: repository binding not found")
	ErrDispatcherClosed              = errors.New("core: dispatcher is shut down")
	ErrRecordOrphaned                = errors.New("core: record is orphaned")
	ErrInvalidRepositoryBinding      = errors.New("core: invalid repository binding")
	ErrUnknownNormalizedEventKind    = errors.New("core: unknown normalized event kind")
	ErrMissingNormalizedEventPayload = errors.New("core: normalized event payload is incomplete")
)

// RepoKey identifies one pull request across every delivery that mentions it.
type RepoKey struct {
	Repo   string
	Number int
}

func NewRepoKey(repo string, number int) RepoKey {
	return RepoKey{Repo: strings.TrimSpace(repo), Number: number}
}

func (k RepoKey) Validate() error {
	if strings.TrimSpace(k.Repo) == "" {
		return fmt.Errorf("%w: repository is required", ErrInvalidRepoKey)
	}
	if k.Number <= 0 {
		return fmt.Errorf("%w: pull request number must be positive", ErrInvalidRepoKey)
	}
	return nil
}

func (k RepoKey) String() string {
	return fmt.Sprintf("%s#%d", strings.TrimSpace(k.Repo), k.Number)
}

type RecordState string

const (
	RecordStateOpen     RecordState = "open"
	RecordStateClosed   RecordState = "closed"
	RecordStateOrphaned RecordState = "orphaned"
)

// PullRequestRecord is the durable correlation between a pull request and the
// Discord thread that mirrors it. ThreadID is assigned exactly once; the state
// only ever moves forward (closed and orphaned are terminal for actions).
type PullRequestRecord struct {
	ID         string
	Repo       string
	Number     int
	Title      string
	ThreadID   string
	State      RecordState
	Merged     bool
	LastError  string
	AppliedSeq int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ClosedAt   *time.Time
	ArchivedAt *time.Time
}

func (r *PullRequestRecord) Key() RepoKey {
	if r == nil {
		return RepoKey{}
	}
	return NewRepoKey(r.Repo, r.Number)
}

func (r *PullRequestRecord) AssignThread(threadID string, now time.Time) error {
	if r == nil {
		return nil
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return fmt.Errorf("core: thread id is required")
	}
	if r.ThreadID != "" && r.ThreadID != threadID {
		return fmt.Errorf("%w: %s already bound to thread %s", ErrThreadAlreadyAssigned, r.Key(), r.ThreadID)
	}
	r.ThreadID = threadID
	r.UpdatedAt = now
	return nil
}

func (r *PullRequestRecord) TransitionTo(state RecordState, reason string, now time.Time) error {
	if r == nil {
		return nil
	}
	if r.State == state {
		r.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			r.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !recordTransitionAllowed(r.State, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidRecordStateTransition, r.State, state)
	}
	r.State = state
	r.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		r.LastError = strings.TrimSpace(reason)
	}
	if state == RecordStateClosed {
		closedAt := now
		r.ClosedAt = &closedAt
	}
	return nil
}

func recordTransitionAllowed(current, next RecordState) bool {
	allowed := map[RecordState]map[RecordState]struct{}{
		RecordStateOpen: {
			RecordStateClosed:   {},
			RecordStateOrphaned: {},
		},
		RecordStateClosed: {
			RecordStateOrphaned: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

// RepositoryBinding maps a monitored repository to its Discord destinations.
// Bindings are loaded once from configuration and never mutated at runtime.
type RepositoryBinding struct {
	Repo              string
	PRChannelID       string
	ActivityChannelID string
	WatchedBranches   []string
}

func (b RepositoryBinding) Validate() error {
	if strings.TrimSpace(b.Repo) == "" {
		return fmt.Errorf("%w: repository full name is required", ErrInvalidRepositoryBinding)
	}
	if strings.TrimSpace(b.PRChannelID) == "" {
		return fmt.Errorf("%w: pr channel id is required for %q", ErrInvalidRepositoryBinding, b.Repo)
	}
	if strings.TrimSpace(b.ActivityChannelID) == "" {
		return fmt.Errorf("%w: activity channel id is required for %q", ErrInvalidRepositoryBinding, b.Repo)
	}
	return nil
}

func (b RepositoryBinding) WatchesBranch(branch string) bool {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return false
	}
	for _, watched := range b.WatchedBranches {
		if strings.EqualFold(strings.TrimSpace(watched), branch) {
			return true
		}
	}
	return false
}

type EventKind string

const (
	EventPROpened     EventKind = "pr_opened"
	EventPRCommented  EventKind = "pr_commented"
	EventPRClosed     EventKind = "pr_closed"
	EventPRReopened   EventKind = "pr_reopened"
	EventBranchPushed EventKind = "branch_pushed"
	EventIgnored      EventKind = "ignored"
)

// NormalizedEvent is the canonical form every webhook payload is reduced to
// before it touches the lifecycle state machine. It carries the transport
// delivery id for audit and an ingestion sequence assigned by the service.
type NormalizedEvent struct {
	Kind       EventKind
	DeliveryID string
	Repo       string
	Number     int
	Title      string
	URL        string
	Author     string
	Body       string
	Merged     bool
	Branch     string
	Pusher     string
	Summary    string
	Sequence   int64
	ReceivedAt time.Time
}

func (e NormalizedEvent) Key() RepoKey {
	return NewRepoKey(e.Repo, e.Number)
}

func (e NormalizedEvent) Validate() error {
	switch e.Kind {
	case EventPROpened, EventPRCommented, EventPRClosed, EventPRReopened:
		return e.Key().Validate()
	case EventBranchPushed:
		if strings.TrimSpace(e.Repo) == "" || strings.TrimSpace(e.Branch) == "" {
			return fmt.Errorf("%w: branch push requires repo and branch", ErrMissingNormalizedEventPayload)
		}
		return nil
	case EventIgnored:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNormalizedEventKind, e.Kind)
	}
}
