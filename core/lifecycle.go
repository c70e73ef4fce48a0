package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// applyPullRequestEvent runs inside the key's dispatch lane, so events for one
// pull request execute strictly in submission order. Platform failures are
// classified here: not-found orphans the record, rate limits and transient
// errors bubble up for the lane executor to retry.
func (s *Service) applyPullRequestEvent(ctx context.Context, binding RepositoryBinding, event NormalizedEvent) (err error) {
	startedAt := s.clock()
	fields := map[string]any{
		"key":        event.Key().String(),
		"event_kind": string(event.Kind),
		"sequence":   event.Sequence,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "lifecycle.apply", err, fields)
	}()

	switch event.Kind {
	case EventPROpened:
		err = s.applyOpened(ctx, binding, event)
	case EventPRCommented:
		err = s.applyComment(ctx, binding, event)
	case EventPRClosed:
		err = s.applyClosed(ctx, event)
	case EventPRReopened:
		// Reopens stay in the closed thread; a fresh thread would split the
		// conversation history.
		s.logInfo(ctx, "ignoring pull request reopen", fields)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNormalizedEventKind, event.Kind)
	}
	if err != nil {
		return s.classifyPlatformError(ctx, event.Key(), err)
	}
	if seqErr := s.registry.RecordSequence(ctx, event.Key(), event.Sequence); seqErr != nil && !errors.Is(seqErr, ErrRecordNotFound) {
		s.logWarn(ctx, "failed to stamp applied sequence", map[string]any{
			"key":   event.Key().String(),
			"error": seqErr.Error(),
		})
	}
	return nil
}

func (s *Service) applyOpened(ctx context.Context, binding RepositoryBinding, event NormalizedEvent) error {
	key := event.Key()
	record, created, err := s.registry.CreateIfAbsent(ctx, key, event.Title, func(factoryCtx context.Context) (string, error) {
		return s.gateway.CreateThread(factoryCtx, binding.PRChannelID, threadName(event))
	})
	if err != nil {
		return err
	}
	if !created {
		if record.State == RecordStateOpen && record.AppliedSeq == 0 {
			// The thread exists but no event ever completed against it: a
			// prior attempt failed after creation, so the opening post is
			// still owed.
			return s.gateway.PostMessage(ctx, record.ThreadID, openingMessage(event))
		}
		s.logInfo(ctx, "open delivery for existing record", map[string]any{
			"key":       key.String(),
			"thread_id": record.ThreadID,
		})
		return nil
	}
	return s.gateway.PostMessage(ctx, record.ThreadID, openingMessage(event))
}

// applyComment backfills a missing record before posting: when the comment
// delivery outruns the open delivery, the thread is created from the comment's
// payload and the late open converges on it.
func (s *Service) applyComment(ctx context.Context, binding RepositoryBinding, event NormalizedEvent) error {
	key := event.Key()
	record, _, err := s.registry.CreateIfAbsent(ctx, key, event.Title, func(factoryCtx context.Context) (string, error) {
		return s.gateway.CreateThread(factoryCtx, binding.PRChannelID, threadName(event))
	})
	if err != nil {
		return err
	}
	if record.State == RecordStateOrphaned {
		s.logWarn(ctx, "dropping comment for orphaned record", map[string]any{"key": key.String()})
		return nil
	}
	return s.gateway.PostMessage(ctx, record.ThreadID, commentMessage(event))
}

func (s *Service) applyClosed(ctx context.Context, event NormalizedEvent) error {
	key := event.Key()
	record, found, err := s.registry.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		// Close for a pull request we never saw open. Nothing to archive.
		s.logWarn(ctx, "close delivery without record", map[string]any{"key": key.String()})
		return nil
	}
	if record.State != RecordStateOpen {
		s.logInfo(ctx, "close already applied", map[string]any{
			"key":   key.String(),
			"state": string(record.State),
		})
		return nil
	}

	// The platform actions run before the terminal commit: a failure here
	// leaves the record open, so the lane retry replays the whole close
	// instead of finding it already committed and losing the actions.
	if err := s.gateway.PostMessage(ctx, record.ThreadID, closingMessage(event)); err != nil {
		return err
	}
	if err := s.gateway.CloseThread(ctx, record.ThreadID); err != nil {
		return err
	}
	_, _, err = s.registry.MarkClosed(ctx, key, event.Merged)
	return err
}

// classifyPlatformError converts a deleted-thread failure into an orphaned
// record so the lane stops retrying a target that no longer exists. All other
// errors pass through for retry handling.
func (s *Service) classifyPlatformError(ctx context.Context, key RepoKey, err error) error {
	if err == nil {
		return nil
	}
	if IsPlatformNotFound(err) {
		if _, orphanErr := s.registry.MarkOrphaned(ctx, key, err.Error()); orphanErr != nil && !errors.Is(orphanErr, ErrRecordNotFound) {
			s.logError(ctx, "failed to orphan record", map[string]any{
				"key":   key.String(),
				"error": orphanErr.Error(),
			})
		}
		s.logWarn(ctx, "platform target vanished, record orphaned", map[string]any{
			"key":   key.String(),
			"error": err.Error(),
		})
		return nil
	}
	return err
}

func threadName(event NormalizedEvent) string {
	return fmt.Sprintf("PR #%d: %s", event.Number, strings.TrimSpace(event.Title))
}

func openingMessage(event NormalizedEvent) string {
	return fmt.Sprintf("New PR opened: %s", strings.TrimSpace(event.URL))
}

func commentMessage(event NormalizedEvent) string {
	return fmt.Sprintf("New comment by %s: %s", strings.TrimSpace(event.Author), event.Body)
}

func closingMessage(event NormalizedEvent) string {
	if event.Merged {
		return "This PR has been merged."
	}
	return "This PR has been closed."
}

func branchNotice(event NormalizedEvent) string {
	return fmt.Sprintf(
		"Environment update: %s branch of %s has been updated.",
		strings.TrimSpace(event.Branch),
		strings.TrimSpace(event.Repo),
	)
}
