package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"schedhub/internal/apperr"
	logx "schedhub/pkg/logx"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func ms(t time.Time) time.Time { return time.UnixMilli(t.UnixMilli()).UTC() }

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop())
	if err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestPlanRoundTrip(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	created := ms(time.Now())
	p := PlanRecord{Guid: "p1", Label: "daily", PlanJSON: []byte(`{"label":"daily"}`), CreatedAt: created}
	if err := st.PutPlan(ctx, p); err != nil {
		t.Fatalf("PutPlan: %v", err)
	}

	got, err := st.GetPlan(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.Label != "daily" || string(got.PlanJSON) != `{"label":"daily"}` || !got.CreatedAt.Equal(created) {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Upsert keeps the original creation time.
	p.Label = "daily v2"
	p.CreatedAt = created.Add(time.Hour)
	if err := st.PutPlan(ctx, p); err != nil {
		t.Fatalf("PutPlan update: %v", err)
	}
	got, err = st.GetPlan(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if got.Label != "daily v2" || !got.CreatedAt.Equal(created) {
		t.Fatalf("update must keep created_at: %+v", got)
	}

	if _, err := st.GetPlan(ctx, "missing"); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	plans, err := st.ListPlans(ctx)
	if err != nil {
		t.Fatalf("ListPlans: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("expected 1 plan, got %d", len(plans))
	}
}

func putActivity(t *testing.T, st Store, guid, user, plan, task string, schedOn time.Time, expOn *time.Time) ActivityRecord {
	t.Helper()
	rec, err := st.UpsertActivity(context.Background(), ActivityRecord{
		Guid:         guid,
		User:         user,
		PlanGuid:     plan,
		TaskID:       task,
		Label:        task,
		ActivityJSON: []byte(`{}`),
		ScheduledOn:  schedOn,
		ExpiresOn:    expOn,
	})
	if err != nil {
		t.Fatalf("UpsertActivity: %v", err)
	}
	return rec
}

func TestUpsertActivityCollapsesOnOccurrenceKey(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	sched := ms(time.Now().Add(time.Hour))
	a := putActivity(t, st, "g1", "u1", "p1", "t1", sched, nil)
	if a.Seq == 0 {
		t.Fatalf("expected assigned seq")
	}

	// Same occurrence key: no new row, soft fields refreshed.
	exp := sched.Add(24 * time.Hour)
	b, err := st.UpsertActivity(ctx, ActivityRecord{
		Guid: "g1", User: "u1", PlanGuid: "p1", TaskID: "t1",
		Label: "renamed", ActivityJSON: []byte(`{"label":"renamed"}`),
		ScheduledOn: sched, ExpiresOn: &exp,
	})
	if err != nil {
		t.Fatalf("UpsertActivity: %v", err)
	}
	if b.Seq != a.Seq || b.Guid != a.Guid {
		t.Fatalf("expected same row, got seq %d vs %d", b.Seq, a.Seq)
	}
	if b.Label != "renamed" || b.ExpiresOn == nil || !b.ExpiresOn.Equal(exp) {
		t.Fatalf("soft fields not refreshed: %+v", b)
	}
}

func TestUpsertActivityPreservesLifecycle(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	sched := ms(time.Now().Add(time.Hour))
	putActivity(t, st, "g1", "u1", "p1", "t1", sched, nil)

	started := ms(time.Now())
	if err := st.SetActivityTimes(ctx, "g1", &started, nil); err != nil {
		t.Fatalf("SetActivityTimes: %v", err)
	}

	rec := putActivity(t, st, "g1", "u1", "p1", "t1", sched, nil)
	if rec.StartedOn == nil || !rec.StartedOn.Equal(started) {
		t.Fatalf("regeneration must keep started_on: %+v", rec)
	}

	finished := ms(time.Now())
	if err := st.SetActivityTimes(ctx, "g1", nil, &finished); err != nil {
		t.Fatalf("SetActivityTimes: %v", err)
	}

	// A finished row is not refreshed at all.
	exp := sched.Add(time.Hour)
	rec, err := st.UpsertActivity(ctx, ActivityRecord{
		Guid: "g1", User: "u1", PlanGuid: "p1", TaskID: "t1",
		Label: "renamed", ActivityJSON: []byte(`{}`),
		ScheduledOn: sched, ExpiresOn: &exp,
	})
	if err != nil {
		t.Fatalf("UpsertActivity: %v", err)
	}
	if rec.Label == "renamed" || rec.ExpiresOn != nil {
		t.Fatalf("finished row must not be refreshed: %+v", rec)
	}
	if rec.FinishedOn == nil || !rec.FinishedOn.Equal(finished) {
		t.Fatalf("finished_on lost: %+v", rec)
	}
}

func TestSetActivityTimesNotFound(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	now := ms(time.Now())
	if err := st.SetActivityTimes(context.Background(), "missing", &now, nil); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListActivitiesFilterAndResume(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := ms(time.Now())

	past := now.Add(-2 * time.Hour)
	lapsed := now.Add(-time.Hour)
	putActivity(t, st, "g1", "u1", "p1", "t1", now.Add(10*time.Minute), nil)
	putActivity(t, st, "g2", "u1", "p1", "t1", now.Add(20*time.Minute), nil)
	putActivity(t, st, "g3", "u1", "p1", "t2", now.Add(30*time.Minute), nil)
	putActivity(t, st, "g4", "u1", "p2", "t1", past, &lapsed) // expired
	putActivity(t, st, "g5", "u2", "p1", "t1", now, nil)      // other user

	finished := now
	if err := st.SetActivityTimes(ctx, "g3", nil, &finished); err != nil {
		t.Fatalf("SetActivityTimes: %v", err)
	}

	recs, err := st.ListActivities(ctx, "u1", ActivityFilter{ActiveOnly: true, Now: now})
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(recs) != 2 || recs[0].Guid != "g1" || recs[1].Guid != "g2" {
		t.Fatalf("unexpected active set: %+v", recs)
	}

	// Resume strictly after the first row.
	recs, err = st.ListActivities(ctx, "u1", ActivityFilter{
		ActiveOnly: true, Now: now,
		AfterKey: recs[0].ScheduledOn.UnixMilli(), AfterSeq: recs[0].Seq,
	})
	if err != nil {
		t.Fatalf("ListActivities resume: %v", err)
	}
	if len(recs) != 1 || recs[0].Guid != "g2" {
		t.Fatalf("unexpected resumed set: %+v", recs)
	}

	// Without ActiveOnly, finished and expired rows are visible.
	recs, err = st.ListActivities(ctx, "u1", ActivityFilter{})
	if err != nil {
		t.Fatalf("ListActivities all: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("expected 4 rows for u1, got %d", len(recs))
	}
}

func TestDeletePlanKeepsTerminalInstances(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := ms(time.Now())

	if err := st.PutPlan(ctx, PlanRecord{Guid: "p1", Label: "x", PlanJSON: []byte(`{}`), CreatedAt: now}); err != nil {
		t.Fatalf("PutPlan: %v", err)
	}
	lapsed := now.Add(-time.Hour)
	putActivity(t, st, "pending", "u1", "p1", "t1", now.Add(time.Hour), nil)
	putActivity(t, st, "done", "u1", "p1", "t2", now.Add(time.Hour), nil)
	putActivity(t, st, "lapsed", "u1", "p1", "t3", now.Add(-2*time.Hour), &lapsed)

	finished := now
	if err := st.SetActivityTimes(ctx, "done", nil, &finished); err != nil {
		t.Fatalf("SetActivityTimes: %v", err)
	}

	if err := st.DeletePlan(ctx, "p1", now); err != nil {
		t.Fatalf("DeletePlan: %v", err)
	}
	if _, err := st.GetPlan(ctx, "p1"); !apperr.IsNotFound(err) {
		t.Fatalf("plan should be gone, got %v", err)
	}
	if _, err := st.GetActivity(ctx, "pending"); !apperr.IsNotFound(err) {
		t.Fatalf("pending instance should be gone, got %v", err)
	}
	if _, err := st.GetActivity(ctx, "done"); err != nil {
		t.Fatalf("finished instance must survive: %v", err)
	}
	if _, err := st.GetActivity(ctx, "lapsed"); err != nil {
		t.Fatalf("expired instance must survive: %v", err)
	}

	if err := st.DeletePlan(ctx, "p1", now); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestBulkDeleteActivities(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := ms(time.Now())

	putActivity(t, st, "g1", "u1", "p1", "t1", now, nil)
	putActivity(t, st, "g2", "u1", "p2", "t1", now, nil)
	putActivity(t, st, "g3", "u2", "p1", "t1", now, nil)

	n, err := st.DeleteActivitiesForPlan(ctx, "p1")
	if err != nil {
		t.Fatalf("DeleteActivitiesForPlan: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}

	n, err = st.DeleteActivitiesForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("DeleteActivitiesForUser: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}
}

func TestDocRoundTripAndListing(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		err := st.PutDoc(ctx, DocRecord{Identifier: id, ParentID: "grp", Title: id, Documentation: "body " + id})
		if err != nil {
			t.Fatalf("PutDoc %s: %v", id, err)
		}
	}
	if err := st.PutDoc(ctx, DocRecord{Identifier: "other", ParentID: "elsewhere"}); err != nil {
		t.Fatalf("PutDoc: %v", err)
	}

	got, err := st.GetDoc(ctx, "d2")
	if err != nil {
		t.Fatalf("GetDoc: %v", err)
	}
	if got.Title != "d2" || got.ParentID != "grp" || got.ModifiedAt.IsZero() {
		t.Fatalf("unexpected doc: %+v", got)
	}

	// Upsert by identifier keeps the seq.
	if err := st.PutDoc(ctx, DocRecord{Identifier: "d2", ParentID: "grp", Title: "d2 v2"}); err != nil {
		t.Fatalf("PutDoc update: %v", err)
	}
	upd, err := st.GetDoc(ctx, "d2")
	if err != nil {
		t.Fatalf("GetDoc: %v", err)
	}
	if upd.Seq != got.Seq || upd.Title != "d2 v2" {
		t.Fatalf("upsert changed identity: %+v vs %+v", upd, got)
	}

	recs, err := st.ListDocs(ctx, "grp", 0, 2)
	if err != nil {
		t.Fatalf("ListDocs: %v", err)
	}
	if len(recs) != 2 || recs[0].Identifier != "d1" || recs[1].Identifier != "d2" {
		t.Fatalf("unexpected page: %+v", recs)
	}
	recs, err = st.ListDocs(ctx, "grp", recs[1].Seq, 10)
	if err != nil {
		t.Fatalf("ListDocs resume: %v", err)
	}
	if len(recs) != 1 || recs[0].Identifier != "d3" {
		t.Fatalf("unexpected resumed page: %+v", recs)
	}

	if err := st.DeleteDoc(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDoc: %v", err)
	}
	if err := st.DeleteDoc(ctx, "d1"); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	n, err := st.DeleteDocsForParent(ctx, "grp")
	if err != nil {
		t.Fatalf("DeleteDocsForParent: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	if _, err := st.GetDoc(ctx, "other"); err != nil {
		t.Fatalf("other parent must be untouched: %v", err)
	}
}

func TestStatsAndMaintenance(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	now := ms(time.Now())

	if err := st.PutPlan(ctx, PlanRecord{Guid: "p1", PlanJSON: []byte(`{}`), CreatedAt: now}); err != nil {
		t.Fatalf("PutPlan: %v", err)
	}
	putActivity(t, st, "g1", "u1", "p1", "t1", now, nil)
	if err := st.PutDoc(ctx, DocRecord{Identifier: "d1"}); err != nil {
		t.Fatalf("PutDoc: %v", err)
	}

	got, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got.Plans != 1 || got.Activities != 1 || got.Docs != 1 {
		t.Fatalf("unexpected stats: %+v", got)
	}

	if err := st.Maintenance(ctx); err != nil {
		t.Fatalf("Maintenance: %v", err)
	}
}
