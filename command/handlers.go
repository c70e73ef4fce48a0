package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-prbridge/core"
)

// InboundProcessor is the verified webhook intake, normally the webhooks
// processor wrapping the relay service.
type InboundProcessor interface {
	Process(ctx context.Context, req core.InboundRequest) (core.InboundResult, error)
}

type DeliverySweeper interface {
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}

type RecordMaintainer interface {
	ArchiveRecords(ctx context.Context, closedBefore time.Time, limit int) (int, error)
	MarkOrphaned(ctx context.Context, key core.RepoKey, reason string) (core.PullRequestRecord, error)
}

type ProcessInboundCommand struct {
	processor InboundProcessor
}

func NewProcessInboundCommand(processor InboundProcessor) *ProcessInboundCommand {
	return &ProcessInboundCommand{processor: processor}
}

func (c *ProcessInboundCommand) Execute(ctx context.Context, msg ProcessInboundMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: inbound processor is required")
	}
	out, err := c.processor.Process(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SweepDeliveriesCommand struct {
	sweeper DeliverySweeper
	Now     func() time.Time
}

func NewSweepDeliveriesCommand(sweeper DeliverySweeper) *SweepDeliveriesCommand {
	return &SweepDeliveriesCommand{
		sweeper: sweeper,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (c *SweepDeliveriesCommand) Execute(ctx context.Context, msg SweepDeliveriesMessage) error {
	if c == nil || c.sweeper == nil {
		return commandDependencyError("command: delivery sweeper is required")
	}
	removed, err := c.sweeper.Sweep(ctx, c.now().Add(-msg.Retention))
	if err != nil {
		return err
	}
	storeResult(ctx, removed)
	return nil
}

func (c *SweepDeliveriesCommand) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

type ArchiveRecordsCommand struct {
	maintainer RecordMaintainer
	Now        func() time.Time
}

func NewArchiveRecordsCommand(maintainer RecordMaintainer) *ArchiveRecordsCommand {
	return &ArchiveRecordsCommand{
		maintainer: maintainer,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (c *ArchiveRecordsCommand) Execute(ctx context.Context, msg ArchiveRecordsMessage) error {
	if c == nil || c.maintainer == nil {
		return commandDependencyError("command: record maintainer is required")
	}
	archived, err := c.maintainer.ArchiveRecords(ctx, c.now().Add(-msg.Grace), msg.Limit)
	if err != nil {
		return err
	}
	storeResult(ctx, archived)
	return nil
}

func (c *ArchiveRecordsCommand) now() time.Time {
	if c != nil && c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

type MarkOrphanedCommand struct {
	maintainer RecordMaintainer
}

func NewMarkOrphanedCommand(maintainer RecordMaintainer) *MarkOrphanedCommand {
	return &MarkOrphanedCommand{maintainer: maintainer}
}

func (c *MarkOrphanedCommand) Execute(ctx context.Context, msg MarkOrphanedMessage) error {
	if c == nil || c.maintainer == nil {
		return commandDependencyError("command: record maintainer is required")
	}
	record, err := c.maintainer.MarkOrphaned(ctx, msg.Key, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, record)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
