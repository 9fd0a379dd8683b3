package store

import (
	"context"
	"testing"
	"time"

	"tms-dashboard/internal/models"
)

func testAuditStore(t *testing.T) *AuditStore {
	t.Helper()
	s, err := NewAuditStore(testDB(t))
	if err != nil {
		t.Fatalf("new audit store: %v", err)
	}
	return s
}

func TestAuditRecordAndTrail(t *testing.T) {
	s := testAuditStore(t)
	ctx := context.Background()

	id, err := s.Record(ctx, RecordParams{
		UserID:      "u1",
		ActionType:  "Trans-Begin",
		CustomerIDs: []string{"c1", "c2"},
		IPAddress:   "10.0.0.1",
		Status:      models.AuditSuccess,
	})
	if err != nil || id == 0 {
		t.Fatalf("record: id=%d err=%v", id, err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := s.Record(ctx, RecordParams{
		UserID:       "u2",
		ActionType:   "PE-Enable",
		CustomerIDs:  []string{"c3"},
		Status:       models.AuditFailure,
		ErrorMessage: "request timeout after 35s",
	}); err != nil {
		t.Fatalf("record second: %v", err)
	}

	all, err := s.Trail(ctx, TrailFilter{})
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	if all[0].UserID != "u2" {
		t.Fatalf("not newest-first: %s", all[0].UserID)
	}
	if all[0].ErrorMessage == nil || *all[0].ErrorMessage != "request timeout after 35s" {
		t.Fatalf("error message lost: %v", all[0].ErrorMessage)
	}

	byUser, err := s.Trail(ctx, TrailFilter{UserID: "u1"})
	if err != nil || len(byUser) != 1 || byUser[0].ActionType != "Trans-Begin" {
		t.Fatalf("user filter: %+v err=%v", byUser, err)
	}
	if len(byUser[0].CustomerIDs) != 2 {
		t.Fatalf("customer ids not round-tripped: %v", byUser[0].CustomerIDs)
	}

	byCID, err := s.Trail(ctx, TrailFilter{CustomerID: "c3"})
	if err != nil || len(byCID) != 1 || byCID[0].UserID != "u2" {
		t.Fatalf("customer filter: %+v err=%v", byCID, err)
	}

	byAction, err := s.Trail(ctx, TrailFilter{ActionType: "PE-Enable"})
	if err != nil || len(byAction) != 1 {
		t.Fatalf("action filter: %+v err=%v", byAction, err)
	}
}

func TestAuditStats(t *testing.T) {
	s := testAuditStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Record(ctx, RecordParams{
			UserID: "u1", ActionType: "Trans-Begin", Status: models.AuditSuccess,
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if _, err := s.Record(ctx, RecordParams{
		UserID: "u2", ActionType: "PE-Enable", Status: models.AuditFailure,
	}); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalRecords != 4 || stats.UniqueUsers != 2 || stats.UniqueActions != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.SuccessfulActions != 3 || stats.FailedActions != 1 {
		t.Fatalf("unexpected success split: %+v", stats)
	}
	if stats.SuccessRatePct != 75 {
		t.Fatalf("expected 75%% success rate, got %v", stats.SuccessRatePct)
	}

	types, err := s.ActionTypes(ctx)
	if err != nil || len(types) != 2 || types[0] != "PE-Enable" {
		t.Fatalf("action types: %v err=%v", types, err)
	}
}
