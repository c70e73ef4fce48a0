package query

import (
	"context"
	"testing"

	"github.com/goliatone/go-prbridge/core"
)

type stubReader struct {
	getFn  func(ctx context.Context, repo string, number int) (core.PullRequestRecord, error)
	listFn func(ctx context.Context, filter core.RecordFilter) ([]core.PullRequestRecord, error)
}

func (s stubReader) GetPullRequestRecord(ctx context.Context, repo string, number int) (core.PullRequestRecord, error) {
	return s.getFn(ctx, repo, number)
}

func (s stubReader) ListPullRequestRecords(ctx context.Context, filter core.RecordFilter) ([]core.PullRequestRecord, error) {
	return s.listFn(ctx, filter)
}

func TestGetPullRequestRecordQuery_Delegates(t *testing.T) {
	q := NewGetPullRequestRecordQuery(stubReader{
		getFn: func(_ context.Context, repo string, number int) (core.PullRequestRecord, error) {
			if repo != "octo/demo" || number != 7 {
				t.Fatalf("unexpected lookup %s#%d", repo, number)
			}
			return core.PullRequestRecord{Repo: repo, Number: number, ThreadID: "thread-7"}, nil
		},
	})

	record, err := q.Query(context.Background(), GetPullRequestRecordMessage{Repo: "octo/demo", Number: 7})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if record.ThreadID != "thread-7" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestListPullRequestRecordsQuery_Delegates(t *testing.T) {
	q := NewListPullRequestRecordsQuery(stubReader{
		listFn: func(_ context.Context, filter core.RecordFilter) ([]core.PullRequestRecord, error) {
			if filter.State != core.RecordStateOpen {
				t.Fatalf("unexpected filter %+v", filter)
			}
			return []core.PullRequestRecord{{Repo: "octo/demo", Number: 7}}, nil
		},
	})

	records, err := q.Query(context.Background(), ListPullRequestRecordsMessage{
		Filter: core.RecordFilter{State: core.RecordStateOpen},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
}

func TestQueriesRejectMissingDependencies(t *testing.T) {
	if _, err := (&GetPullRequestRecordQuery{}).Query(context.Background(), GetPullRequestRecordMessage{}); err == nil {
		t.Fatal("expected dependency error from get query")
	}
	if _, err := (&ListPullRequestRecordsQuery{}).Query(context.Background(), ListPullRequestRecordsMessage{}); err == nil {
		t.Fatal("expected dependency error from list query")
	}
}

func TestQueryMessageValidation(t *testing.T) {
	if err := (GetPullRequestRecordMessage{}).Validate(); err == nil {
		t.Fatal("expected empty get message to fail validation")
	}
	if err := (GetPullRequestRecordMessage{Repo: "octo/demo", Number: 0}).Validate(); err == nil {
		t.Fatal("expected zero number to fail validation")
	}
	if err := (ListPullRequestRecordsMessage{Filter: core.RecordFilter{Page: -1}}).Validate(); err == nil {
		t.Fatal("expected negative page to fail validation")
	}
}
