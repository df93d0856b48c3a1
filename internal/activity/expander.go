package activity

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"schedhub/internal/apperr"
	"schedhub/internal/sched"
	"schedhub/internal/storage"
	logx "schedhub/pkg/logx"
)

// Config bounds expansion. Zero values fall back to defaults.
type Config struct {
	DefaultWindowDays      int
	MaxWindowDays          int
	MaxBackfillPerSchedule int
	MaxTotalInstances      int
	MaxIterations          int // per-plan safety cap, guards recurring iteration
}

func (c Config) withDefaults() Config {
	if c.DefaultWindowDays <= 0 {
		c.DefaultWindowDays = 1
	}
	if c.MaxWindowDays <= 0 {
		c.MaxWindowDays = 31
	}
	if c.MaxBackfillPerSchedule <= 0 {
		c.MaxBackfillPerSchedule = 100
	}
	if c.MaxTotalInstances <= 0 {
		c.MaxTotalInstances = 1000
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10000
	}
	return c
}

// Expander turns the active schedule plans into persisted activity instances
// for one user and returns the forward-looking set.
type Expander struct {
	store storage.Store
	log   logx.Logger

	mu  sync.RWMutex
	cfg Config

	now func() time.Time // injectable clock
}

func NewExpander(store storage.Store, cfg Config, log logx.Logger) *Expander {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Expander{store: store, log: log, cfg: cfg.withDefaults(), now: time.Now}
}

// Apply swaps the expansion limits at runtime.
func (e *Expander) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

func (e *Expander) config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Request describes one activity fetch.
//
// WindowDays is the client's requestedCount: the generation window in days
// ahead of now. MinimumPerTask is the floor of outstanding (not finished, not
// expired) instances per task identifier, enforced for recurring schedules by
// extending generation past the window.
type Request struct {
	User           string
	Location       *time.Location
	WindowDays     int
	MinimumPerTask int
}

// GetOrCreate expands every plan, upserts the generated occurrences keyed by
// (user, plan, task, scheduledOn), merges with persisted active instances and
// returns the set sorted by scheduledOn.
//
// Regeneration is idempotent: an occurrence that already exists (possibly
// started) keeps its identity and lifecycle state. Finished and expired
// instances never appear in the result. A malformed plan aborts the whole
// request; an abandoned request leaves no partial duplicates because retry
// lands on the same occurrence keys.
func (e *Expander) GetOrCreate(ctx context.Context, req Request) ([]ScheduledActivity, error) {
	now := e.now().UTC()
	cfg := e.config()
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	days := req.WindowDays
	if days <= 0 {
		days = cfg.DefaultWindowDays
	}
	if days > cfg.MaxWindowDays {
		days = cfg.MaxWindowDays
	}
	windowEnd := now.AddDate(0, 0, days)

	plans, err := e.store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}

	included := make(map[string]ScheduledActivity)
	outstanding := make(map[string]int)

	for _, pr := range plans {
		if err := e.expandPlan(ctx, cfg, pr, req, now, windowEnd, loc, included, outstanding); err != nil {
			return nil, err
		}
	}

	// Merge persisted active instances the current window did not regenerate
	// (e.g. created by an earlier, wider request, or already started).
	recs, err := e.store.ListActivities(ctx, req.User, storage.ActivityFilter{ActiveOnly: true, Now: now})
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if _, ok := included[rec.Guid]; ok {
			continue
		}
		if rec.ScheduledOn.After(windowEnd) {
			continue
		}
		included[rec.Guid] = FromRecord(rec, now)
	}

	out := make([]ScheduledActivity, 0, len(included))
	for _, a := range included {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledOn.Equal(out[j].ScheduledOn) {
			return out[i].ScheduledOn.Before(out[j].ScheduledOn)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (e *Expander) expandPlan(ctx context.Context, cfg Config, pr storage.PlanRecord, req Request,
	now, windowEnd time.Time, loc *time.Location,
	included map[string]ScheduledActivity, outstanding map[string]int) error {

	var plan sched.SchedulePlan
	if err := json.Unmarshal(pr.PlanJSON, &plan); err != nil {
		return apperr.Wrap(apperr.KindStorage, err, "corrupt plan %s", pr.Guid)
	}
	schedule := plan.Strategy.Schedule
	recurring := schedule.ScheduleType == sched.TypeRecurring

	it, err := schedule.Occurrences(pr.CreatedAt, loc)
	if err != nil {
		return err
	}

	backfilled := 0
	for iters := 0; iters < cfg.MaxIterations; iters++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, ok := it.Next()
		if !ok {
			break
		}

		exp := schedule.ExpiresAt(t)
		if !exp.IsZero() && !exp.After(now) {
			// Occurrence already lapsed; there is nothing left to do with it.
			continue
		}

		within := !t.After(windowEnd)
		if within {
			if len(included) >= cfg.MaxTotalInstances {
				break
			}
		} else {
			// Past the natural window: only recurring schedules extend, and
			// only while a task of this schedule is under the floor.
			if !recurring || req.MinimumPerTask <= 0 {
				break
			}
			if !underFloor(schedule, outstanding, req.MinimumPerTask) {
				break
			}
			if backfilled >= cfg.MaxBackfillPerSchedule {
				e.log.Warn("backfill cap reached",
					logx.String("plan", pr.Guid),
					logx.Int("minimum", req.MinimumPerTask))
				break
			}
			backfilled++
		}

		for _, act := range schedule.Activities {
			if !within && outstanding[act.Task.Identifier] >= req.MinimumPerTask {
				continue
			}
			canon, err := e.upsertOccurrence(ctx, req.User, pr.Guid, act, t, exp)
			if err != nil {
				return err
			}
			st := DeriveStatus(now, canon.StartedOn, canon.FinishedOn, canon.ExpiresOn)
			if st == StatusFinished || st == StatusExpired {
				continue
			}
			// Two emissions can land on the same row (e.g. duplicate task
			// references in one schedule); count each instance once or the
			// floor is satisfied with fewer distinct instances.
			if _, ok := included[canon.Guid]; !ok {
				included[canon.Guid] = FromRecord(canon, now)
				outstanding[canon.TaskID]++
			}
		}
	}
	return nil
}

func (e *Expander) upsertOccurrence(ctx context.Context, user, planGuid string,
	act sched.Activity, scheduledOn, expiresOn time.Time) (storage.ActivityRecord, error) {

	actJSON, err := json.Marshal(act)
	if err != nil {
		return storage.ActivityRecord{}, apperr.Wrap(apperr.KindStorage, err, "marshal activity")
	}
	rec := storage.ActivityRecord{
		Guid:         InstanceGuid(user, planGuid, act.Task.Identifier, scheduledOn),
		User:         user,
		PlanGuid:     planGuid,
		TaskID:       act.Task.Identifier,
		Label:        act.Label,
		ActivityJSON: actJSON,
		ScheduledOn:  scheduledOn.UTC(),
	}
	if !expiresOn.IsZero() {
		exp := expiresOn.UTC()
		rec.ExpiresOn = &exp
	}
	return e.store.UpsertActivity(ctx, rec)
}

// underFloor reports whether any task fired by the schedule still has fewer
// outstanding instances than the requested minimum.
func underFloor(s sched.Schedule, outstanding map[string]int, minimum int) bool {
	for _, act := range s.Activities {
		if outstanding[act.Task.Identifier] < minimum {
			return true
		}
	}
	return false
}
