// Package command wraps the relay's mutating operations in go-command
// messages so hosts can route them through their dispatcher.
package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-prbridge/core"
)

const (
	TypeProcessInbound  = "prbridge.command.inbound.process"
	TypeSweepDeliveries = "prbridge.command.deliveries.sweep"
	TypeArchiveRecords  = "prbridge.command.records.archive"
	TypeMarkOrphaned    = "prbridge.command.records.orphan"
)

type ProcessInboundMessage struct {
	Request core.InboundRequest
}

func (ProcessInboundMessage) Type() string { return TypeProcessInbound }

func (m ProcessInboundMessage) Validate() error {
	if strings.TrimSpace(m.Request.ProviderID) == "" {
		return fmt.Errorf("command: provider id is required")
	}
	if len(m.Request.Body) == 0 {
		return fmt.Errorf("command: request body is required")
	}
	return nil
}

type SweepDeliveriesMessage struct {
	Retention time.Duration
}

func (SweepDeliveriesMessage) Type() string { return TypeSweepDeliveries }

func (m SweepDeliveriesMessage) Validate() error {
	if m.Retention <= 0 {
		return fmt.Errorf("command: sweep retention must be positive")
	}
	return nil
}

type ArchiveRecordsMessage struct {
	Grace time.Duration
	Limit int
}

func (ArchiveRecordsMessage) Type() string { return TypeArchiveRecords }

func (m ArchiveRecordsMessage) Validate() error {
	if m.Grace < 0 {
		return fmt.Errorf("command: archive grace must not be negative")
	}
	if m.Limit < 0 {
		return fmt.Errorf("command: archive limit must not be negative")
	}
	return nil
}

type MarkOrphanedMessage struct {
	Key    core.RepoKey
	Reason string
}

func (MarkOrphanedMessage) Type() string { return TypeMarkOrphaned }

func (m MarkOrphanedMessage) Validate() error {
	if err := m.Key.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}
