package sched

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedhub/internal/apperr"
)

type ScheduleType string

const (
	TypeOnce      ScheduleType = "once"
	TypeRecurring ScheduleType = "recurring"
)

// StrategyKind is a closed set: strategies are evaluated centrally, so new
// kinds are added here rather than via open subclassing.
type StrategyKind string

const (
	StrategySimple StrategyKind = "simple"
)

// SchedulePlan is a named container for one scheduling strategy.
// Plans are created by an operator and immutable once instances reference
// them, except for the label.
type SchedulePlan struct {
	Guid      string    `json:"guid"`
	Label     string    `json:"label"`
	Strategy  Strategy  `json:"strategy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Strategy is a tagged variant over strategy kinds. Only the simple strategy
// (a single schedule) exists today.
type Strategy struct {
	Kind     StrategyKind `json:"type"`
	Schedule Schedule     `json:"schedule"`
}

// Schedule is one timing rule plus the activities it fires.
type Schedule struct {
	Label        string       `json:"label,omitempty"`
	ScheduleType ScheduleType `json:"scheduleType"`
	Delay        Period       `json:"delay,omitempty"`
	Interval     Period       `json:"interval,omitempty"`
	CronTrigger  string       `json:"cronTrigger,omitempty"`
	Expires      Period       `json:"expires,omitempty"`
	Times        []TimeOfDay  `json:"times,omitempty"`
	Activities   []Activity   `json:"activities"`
}

// Activity is one obligation fired at each occurrence of its schedule.
type Activity struct {
	Label string        `json:"label"`
	Task  TaskReference `json:"task"`
}

type TaskReference struct {
	Identifier string `json:"identifier"`
}

// TimeOfDay is a wall-clock firing time ("10:00" or "10:00:30").
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

func (t TimeOfDay) String() string {
	if t.Second != 0 {
		return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	}
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, apperr.E(apperr.KindInvalidSchedule, "invalid time of day %q", raw)
	}
	var vals [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return TimeOfDay{}, apperr.E(apperr.KindInvalidSchedule, "invalid time of day %q", raw)
		}
		vals[i] = n
	}
	t := TimeOfDay{Hour: vals[0], Minute: vals[1], Second: vals[2]}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 || t.Second < 0 || t.Second > 59 {
		return TimeOfDay{}, apperr.E(apperr.KindInvalidSchedule, "time of day %q out of range", raw)
	}
	return t, nil
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Validate checks a schedule's timing rule for internal consistency.
// All violations surface as InvalidScheduleDefinition.
func (s Schedule) Validate() error {
	switch s.ScheduleType {
	case TypeOnce, TypeRecurring:
	default:
		return apperr.E(apperr.KindInvalidSchedule, "unknown scheduleType %q", s.ScheduleType)
	}
	if len(s.Activities) == 0 {
		return apperr.E(apperr.KindInvalidSchedule, "schedule has no activities")
	}
	for i, a := range s.Activities {
		if strings.TrimSpace(a.Task.Identifier) == "" {
			return apperr.E(apperr.KindInvalidSchedule, "activity %d has no task identifier", i)
		}
	}

	hasCron := strings.TrimSpace(s.CronTrigger) != ""
	if s.ScheduleType == TypeRecurring {
		if s.Interval.IsZero() && !hasCron {
			return apperr.E(apperr.KindInvalidSchedule, "recurring schedule requires interval or cronTrigger")
		}
		if !s.Interval.IsZero() && hasCron {
			return apperr.E(apperr.KindInvalidSchedule, "interval and cronTrigger are mutually exclusive")
		}
		// Occurrence instants are a date plus a wall-clock time, so the
		// interval must advance the date; sub-day recurrence is cron's job.
		if !s.Interval.IsZero() && s.Interval.Years == 0 && s.Interval.Months == 0 && s.Interval.Days == 0 {
			return apperr.E(apperr.KindInvalidSchedule, "interval must be at least one day; use cronTrigger for sub-day recurrence")
		}
	} else {
		if !s.Interval.IsZero() || hasCron {
			return apperr.E(apperr.KindInvalidSchedule, "once schedule must not define a recurrence")
		}
	}

	// Cron expressions carry the time of day themselves.
	if !hasCron && len(s.Times) == 0 {
		return apperr.E(apperr.KindInvalidSchedule, "schedule has no times")
	}
	return nil
}

func (p SchedulePlan) Validate() error {
	if strings.TrimSpace(p.Label) == "" {
		return apperr.E(apperr.KindInvalidSchedule, "plan has no label")
	}
	if p.Strategy.Kind != StrategySimple {
		return apperr.E(apperr.KindInvalidSchedule, "unknown strategy type %q", p.Strategy.Kind)
	}
	return p.Strategy.Schedule.Validate()
}
