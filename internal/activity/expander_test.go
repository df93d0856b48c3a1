package activity

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"schedhub/internal/apperr"
	"schedhub/internal/sched"
	"schedhub/internal/storage"
	logx "schedhub/pkg/logx"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func putPlan(t *testing.T, st storage.Store, guid string, s sched.Schedule, createdAt time.Time) {
	t.Helper()
	p := sched.SchedulePlan{
		Guid:      guid,
		Label:     guid,
		Strategy:  sched.Strategy{Kind: sched.StrategySimple, Schedule: s},
		CreatedAt: createdAt,
	}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal plan: %v", err)
	}
	err = st.PutPlan(context.Background(), storage.PlanRecord{
		Guid: guid, Label: guid, PlanJSON: b, CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("PutPlan: %v", err)
	}
}

func newTestExpander(st storage.Store, now time.Time) *Expander {
	e := NewExpander(st, Config{}, logx.Nop())
	e.now = func() time.Time { return now }
	return e
}

func onceAt(hour int, task string) sched.Schedule {
	return sched.Schedule{
		ScheduleType: sched.TypeOnce,
		Times:        []sched.TimeOfDay{{Hour: hour}},
		Activities:   []sched.Activity{{Label: task, Task: sched.TaskReference{Identifier: task}}},
	}
}

func dailyAt(hour int, task string, expires sched.Period) sched.Schedule {
	return sched.Schedule{
		ScheduleType: sched.TypeRecurring,
		Interval:     sched.Period{Days: 1},
		Expires:      expires,
		Times:        []sched.TimeOfDay{{Hour: hour}},
		Activities:   []sched.Activity{{Label: task, Task: sched.TaskReference{Identifier: task}}},
	}
}

func countByTask(items []ScheduledActivity) map[string]int {
	out := make(map[string]int)
	for _, a := range items {
		out[a.Activity.Task.Identifier]++
	}
	return out
}

var testNow = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

func TestGetOrCreateWindowCounts(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	e := newTestExpander(st, testNow)

	putPlan(t, st, "plan-once", onceAt(10, "aaa"), testNow)
	putPlan(t, st, "plan-daily", dailyAt(9, "bbb", sched.Period{Days: 1}), testNow)

	items, err := e.GetOrCreate(context.Background(), Request{User: "u1", WindowDays: 4})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	got := countByTask(items)
	if got["aaa"] != 1 || got["bbb"] != 4 {
		t.Fatalf("unexpected counts: %v", got)
	}
	for i := 1; i < len(items); i++ {
		if items[i].ScheduledOn.Before(items[i-1].ScheduledOn) {
			t.Fatalf("result not sorted by scheduledOn")
		}
	}
	for _, a := range items {
		if a.Status != StatusScheduled {
			t.Fatalf("fresh instance %s has status %s", a.Guid, a.Status)
		}
		if a.PlanGuid == "" || a.Guid == "" {
			t.Fatalf("instance missing identity: %+v", a)
		}
	}
}

func TestGetOrCreateDefaultWindow(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	e := newTestExpander(st, testNow)

	putPlan(t, st, "plan-daily", dailyAt(9, "bbb", sched.Period{Days: 1}), testNow)

	items, err := e.GetOrCreate(context.Background(), Request{User: "u1"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("default one-day window should yield 1 instance, got %d", len(items))
	}
}

func TestMinimumFloorExtendsRecurringOnly(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	e := newTestExpander(st, testNow)

	putPlan(t, st, "plan-once", onceAt(10, "aaa"), testNow)
	putPlan(t, st, "plan-daily", dailyAt(9, "bbb", sched.Period{Days: 1}), testNow)

	items, err := e.GetOrCreate(context.Background(), Request{User: "u1", WindowDays: 1, MinimumPerTask: 3})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	got := countByTask(items)
	if got["bbb"] != 3 {
		t.Fatalf("recurring task should be backfilled to the floor, got %d", got["bbb"])
	}
	if got["aaa"] != 1 {
		t.Fatalf("once task must not backfill, got %d", got["aaa"])
	}
}

func TestMinimumFloorCountsDistinctInstances(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	e := newTestExpander(st, testNow)

	// Two activities referencing the same task collapse onto one instance per
	// occurrence; the floor must count instances, not emissions.
	s := dailyAt(9, "bbb", sched.Period{Days: 1})
	s.Activities = append(s.Activities, s.Activities[0])
	putPlan(t, st, "plan-daily", s, testNow)

	items, err := e.GetOrCreate(context.Background(), Request{User: "u1", WindowDays: 1, MinimumPerTask: 3})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if got := countByTask(items)["bbb"]; got != 3 {
		t.Fatalf("floor must be met with distinct instances, got %d", got)
	}
	seen := map[string]bool{}
	for _, a := range items {
		if seen[a.Guid] {
			t.Fatalf("duplicate instance in result: %s", a.Guid)
		}
		seen[a.Guid] = true
	}
}

func TestSubDayIntervalPlanIsRejected(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	e := newTestExpander(st, testNow)

	// A plan that slipped past creation-time validation still fails evaluation.
	s := dailyAt(9, "bbb", sched.Period{})
	s.Interval = sched.Period{Clock: 6 * time.Hour}
	putPlan(t, st, "plan-subday", s, testNow)

	_, err := e.GetOrCreate(context.Background(), Request{User: "u1", WindowDays: 1, MinimumPerTask: 3})
	if !apperr.IsInvalidSchedule(err) {
		t.Fatalf("expected invalid schedule, got %v", err)
	}
}

func TestRegenerationIsIdempotent(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	e := newTestExpander(st, testNow)
	ctx := context.Background()

	putPlan(t, st, "plan-daily", dailyAt(9, "bbb", sched.Period{Days: 1}), testNow)

	first, err := e.GetOrCreate(ctx, Request{User: "u1", WindowDays: 3})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	second, err := e.GetOrCreate(ctx, Request{User: "u1", WindowDays: 3})
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("regeneration changed the set: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Guid != second[i].Guid {
			t.Fatalf("instance identity changed: %s vs %s", first[i].Guid, second[i].Guid)
		}
	}

	recs, err := st.ListActivities(ctx, "u1", storage.ActivityFilter{})
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(recs) != len(first) {
		t.Fatalf("expected %d stored rows, got %d", len(first), len(recs))
	}
}

func TestFinishedInstancesExcludedAndFloorRefilled(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	e := newTestExpander(st, testNow)
	ctx := context.Background()

	putPlan(t, st, "plan-daily", dailyAt(9, "bbb", sched.Period{Days: 1}), testNow)

	items, err := e.GetOrCreate(ctx, Request{User: "u1", WindowDays: 1, MinimumPerTask: 2})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(items))
	}

	done := testNow
	if err := st.SetActivityTimes(ctx, items[0].Guid, nil, &done); err != nil {
		t.Fatalf("SetActivityTimes: %v", err)
	}

	items, err = e.GetOrCreate(ctx, Request{User: "u1", WindowDays: 1, MinimumPerTask: 2})
	if err != nil {
		t.Fatalf("GetOrCreate after finish: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("floor not refilled after finish, got %d", len(items))
	}
	for _, a := range items {
		if a.Status == StatusFinished {
			t.Fatalf("finished instance leaked into the result: %+v", a)
		}
	}
}

func TestStartedInstanceKeepsIdentityAcrossRegeneration(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	e := newTestExpander(st, testNow)
	ctx := context.Background()

	putPlan(t, st, "plan-daily", dailyAt(9, "bbb", sched.Period{Days: 1}), testNow)

	items, err := e.GetOrCreate(ctx, Request{User: "u1", WindowDays: 2})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	started := testNow
	if err := st.SetActivityTimes(ctx, items[0].Guid, &started, nil); err != nil {
		t.Fatalf("SetActivityTimes: %v", err)
	}

	again, err := e.GetOrCreate(ctx, Request{User: "u1", WindowDays: 2})
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	var found *ScheduledActivity
	for i := range again {
		if again[i].Guid == items[0].Guid {
			found = &again[i]
		}
	}
	if found == nil {
		t.Fatalf("started instance disappeared")
	}
	if found.Status != StatusStarted || found.StartedOn == nil {
		t.Fatalf("started state lost: %+v", found)
	}
}

func TestLapsedOccurrencesAreNeverMaterialized(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	e := newTestExpander(st, testNow)
	ctx := context.Background()

	// Activated yesterday with a one-hour expiry: yesterday's occurrence has
	// already lapsed and must not be created at all.
	created := testNow.AddDate(0, 0, -1)
	putPlan(t, st, "plan-daily", dailyAt(9, "bbb", sched.Period{Clock: time.Hour}), created)

	items, err := e.GetOrCreate(ctx, Request{User: "u1", WindowDays: 1})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	for _, a := range items {
		if a.ScheduledOn.Before(testNow.Add(-time.Hour)) {
			t.Fatalf("lapsed occurrence materialized: %+v", a)
		}
	}
	recs, err := st.ListActivities(ctx, "u1", storage.ActivityFilter{})
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(recs) != len(items) {
		t.Fatalf("lapsed occurrences persisted: %d rows for %d items", len(recs), len(items))
	}
}

func TestDifferentUsersGetDistinctInstances(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	e := newTestExpander(st, testNow)
	ctx := context.Background()

	putPlan(t, st, "plan-once", onceAt(10, "aaa"), testNow)

	a, err := e.GetOrCreate(ctx, Request{User: "u1", WindowDays: 1})
	if err != nil {
		t.Fatalf("GetOrCreate u1: %v", err)
	}
	b, err := e.GetOrCreate(ctx, Request{User: "u2", WindowDays: 1})
	if err != nil {
		t.Fatalf("GetOrCreate u2: %v", err)
	}
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected one instance each, got %d and %d", len(a), len(b))
	}
	if a[0].Guid == b[0].Guid {
		t.Fatalf("users must not share instance identity")
	}
}

func TestInstanceGuidDeterministic(t *testing.T) {
	t.Parallel()

	on := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	g1 := InstanceGuid("u1", "p1", "t1", on)
	g2 := InstanceGuid("u1", "p1", "t1", on)
	if g1 != g2 {
		t.Fatalf("guid must be deterministic: %s vs %s", g1, g2)
	}
	if g1 == InstanceGuid("u1", "p1", "t2", on) {
		t.Fatalf("different tasks must derive different guids")
	}
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	now := testNow
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name                           string
		startedOn, finishedOn, expires *time.Time
		want                           Status
	}{
		{"fresh", nil, nil, nil, StatusScheduled},
		{"fresh future expiry", nil, nil, &future, StatusScheduled},
		{"started", &past, nil, nil, StatusStarted},
		{"finished", &past, &past, nil, StatusFinished},
		{"finished wins over expiry", &past, &past, &past, StatusFinished},
		{"expired", nil, nil, &past, StatusExpired},
		{"expired wins over started", &past, nil, &past, StatusExpired},
	}
	for _, tc := range cases {
		if got := DeriveStatus(now, tc.startedOn, tc.finishedOn, tc.expires); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}
