package query

import (
	"context"

	"github.com/goliatone/go-prbridge/core"
)

type RecordReader interface {
	GetPullRequestRecord(ctx context.Context, repo string, number int) (core.PullRequestRecord, error)
	ListPullRequestRecords(ctx context.Context, filter core.RecordFilter) ([]core.PullRequestRecord, error)
}

type GetPullRequestRecordQuery struct {
	reader RecordReader
}

func NewGetPullRequestRecordQuery(reader RecordReader) *GetPullRequestRecordQuery {
	return &GetPullRequestRecordQuery{reader: reader}
}

func (q *GetPullRequestRecordQuery) Query(
	ctx context.Context,
	msg GetPullRequestRecordMessage,
) (core.PullRequestRecord, error) {
	if q == nil || q.reader == nil {
		return core.PullRequestRecord{}, queryDependencyError("query: record reader is required")
	}
	return q.reader.GetPullRequestRecord(ctx, msg.Repo, msg.Number)
}

type ListPullRequestRecordsQuery struct {
	reader RecordReader
}

func NewListPullRequestRecordsQuery(reader RecordReader) *ListPullRequestRecordsQuery {
	return &ListPullRequestRecordsQuery{reader: reader}
}

func (q *ListPullRequestRecordsQuery) Query(
	ctx context.Context,
	msg ListPullRequestRecordsMessage,
) ([]core.PullRequestRecord, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: record reader is required")
	}
	return q.reader.ListPullRequestRecords(ctx, msg.Filter)
}
