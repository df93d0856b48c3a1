package activity

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"schedhub/internal/sched"
	"schedhub/internal/storage"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
	StatusExpired   Status = "expired"
)

// ScheduledActivity is one concrete, time-bound obligation generated from a
// schedule occurrence.
type ScheduledActivity struct {
	Guid        string         `json:"guid"`
	PlanGuid    string         `json:"schedulePlanGuid"`
	Activity    sched.Activity `json:"activity"`
	ScheduledOn time.Time      `json:"scheduledOn"`
	ExpiresOn   *time.Time     `json:"expiresOn,omitempty"`
	StartedOn   *time.Time     `json:"startedOn,omitempty"`
	FinishedOn  *time.Time     `json:"finishedOn,omitempty"`
	Status      Status         `json:"status"`

	// Seq is the storage creation-order key, used as the pagination
	// tiebreaker. Not part of the wire representation.
	Seq int64 `json:"-"`
}

// DeriveStatus computes the lifecycle status from timestamps and the current
// time. Status is never stored; every read path derives it here so there is
// no stored field to drift out of sync.
func DeriveStatus(now time.Time, startedOn, finishedOn, expiresOn *time.Time) Status {
	switch {
	case finishedOn != nil:
		return StatusFinished
	case expiresOn != nil && !expiresOn.After(now):
		return StatusExpired
	case startedOn != nil:
		return StatusStarted
	default:
		return StatusScheduled
	}
}

// instanceNamespace seeds deterministic instance guids. Two concurrent
// expansions of the same occurrence derive the same guid and collapse onto
// one row via the storage unique key.
var instanceNamespace = uuid.MustParse("7f6c7b66-3c34-4b4c-9f25-6b8e2a6f4d11")

// InstanceGuid derives the stable identity of a logical occurrence.
func InstanceGuid(user, planGuid, taskID string, scheduledOn time.Time) string {
	key := fmt.Sprintf("%s|%s|%s|%d", user, planGuid, taskID, scheduledOn.UnixMilli())
	return uuid.NewSHA1(instanceNamespace, []byte(key)).String()
}

// FromRecord converts a stored instance into its wire representation,
// deriving the status against now.
func FromRecord(rec storage.ActivityRecord, now time.Time) ScheduledActivity {
	var act sched.Activity
	_ = json.Unmarshal(rec.ActivityJSON, &act)
	return ScheduledActivity{
		Seq:         rec.Seq,
		Guid:        rec.Guid,
		PlanGuid:    rec.PlanGuid,
		Activity:    act,
		ScheduledOn: rec.ScheduledOn,
		ExpiresOn:   rec.ExpiresOn,
		StartedOn:   rec.StartedOn,
		FinishedOn:  rec.FinishedOn,
		Status:      DeriveStatus(now, rec.StartedOn, rec.FinishedOn, rec.ExpiresOn),
	}
}
