// Package query exposes the relay's read operations as go-command queries.
package query

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-prbridge/core"
)

const (
	TypeGetPullRequestRecord   = "prbridge.query.records.get"
	TypeListPullRequestRecords = "prbridge.query.records.list"
)

type GetPullRequestRecordMessage struct {
	Repo   string
	Number int
}

func (GetPullRequestRecordMessage) Type() string { return TypeGetPullRequestRecord }

func (m GetPullRequestRecordMessage) Validate() error {
	if strings.TrimSpace(m.Repo) == "" {
		return fmt.Errorf("query: repo is required")
	}
	if m.Number <= 0 {
		return fmt.Errorf("query: pull request number must be positive")
	}
	return nil
}

type ListPullRequestRecordsMessage struct {
	Filter core.RecordFilter
}

func (ListPullRequestRecordsMessage) Type() string { return TypeListPullRequestRecords }

func (m ListPullRequestRecordsMessage) Validate() error {
	if m.Filter.Page < 0 {
		return fmt.Errorf("query: page must be >= 0")
	}
	if m.Filter.PerPage < 0 {
		return fmt.Errorf("query: per_page must be >= 0")
	}
	return nil
}
