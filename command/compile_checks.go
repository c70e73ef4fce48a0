package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ProcessInboundMessage]  = (*ProcessInboundCommand)(nil)
	_ gocmd.Commander[SweepDeliveriesMessage] = (*SweepDeliveriesCommand)(nil)
	_ gocmd.Commander[ArchiveRecordsMessage]  = (*ArchiveRecordsCommand)(nil)
	_ gocmd.Commander[MarkOrphanedMessage]    = (*MarkOrphanedCommand)(nil)
)
