package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-prbridge/core"
)

var (
	_ gocmd.Querier[GetPullRequestRecordMessage, core.PullRequestRecord]     = (*GetPullRequestRecordQuery)(nil)
	_ gocmd.Querier[ListPullRequestRecordsMessage, []core.PullRequestRecord] = (*ListPullRequestRecordsQuery)(nil)
)
