package prbridge

import (
	"fmt"

	prcommand "github.com/goliatone/go-prbridge/command"
	prquery "github.com/goliatone/go-prbridge/query"
)

// CommandQueryService is the surface the facade needs from the relay: the
// maintenance mutations plus the registry read paths.
type CommandQueryService interface {
	prcommand.RecordMaintainer
	prquery.RecordReader
}

type Commands struct {
	ProcessInbound  *prcommand.ProcessInboundCommand
	SweepDeliveries *prcommand.SweepDeliveriesCommand
	ArchiveRecords  *prcommand.ArchiveRecordsCommand
	MarkOrphaned    *prcommand.MarkOrphanedCommand
}

type Queries struct {
	GetPullRequestRecord   *prquery.GetPullRequestRecordQuery
	ListPullRequestRecords *prquery.ListPullRequestRecordsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	processor prcommand.InboundProcessor
	sweeper   prcommand.DeliverySweeper
}

// WithInboundProcessor routes the inbound command through the webhook
// processor instead of the bare service.
func WithInboundProcessor(processor prcommand.InboundProcessor) FacadeOption {
	return func(options *facadeOptions) {
		options.processor = processor
	}
}

func WithDeliverySweeper(sweeper prcommand.DeliverySweeper) FacadeOption {
	return func(options *facadeOptions) {
		options.sweeper = sweeper
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("prbridge: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	processor := cfg.processor
	if processor == nil {
		if candidate, ok := service.(prcommand.InboundProcessor); ok {
			processor = candidate
		}
	}
	sweeper := cfg.sweeper
	if sweeper == nil {
		if candidate, ok := service.(prcommand.DeliverySweeper); ok {
			sweeper = candidate
		}
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		SweepDeliveries: prcommand.NewSweepDeliveriesCommand(sweeper),
		ArchiveRecords:  prcommand.NewArchiveRecordsCommand(service),
		MarkOrphaned:    prcommand.NewMarkOrphanedCommand(service),
	}
	if processor != nil {
		facade.commands.ProcessInbound = prcommand.NewProcessInboundCommand(processor)
	}
	facade.queries = Queries{
		GetPullRequestRecord:   prquery.NewGetPullRequestRecordQuery(service),
		ListPullRequestRecords: prquery.NewListPullRequestRecordsQuery(service),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
