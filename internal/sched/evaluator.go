package sched

import (
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"schedhub/internal/apperr"
)

// cronParser accepts standard 5-field crontab expressions plus descriptors
// like "@daily". Seconds are deliberately not supported for schedule triggers.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Iterator yields occurrence instants in strictly ascending order.
//
// It is lazy and restartable: ONCE schedules yield a finite sequence, RECURRING
// schedules never run dry, so callers bound iteration themselves (window end or
// iteration cap). Identical (schedule, activation, location) inputs always
// yield the identical sequence; instance identity depends on that.
type Iterator struct {
	next func() (time.Time, bool)
}

// Next returns the next occurrence, or ok=false when the sequence is finite
// and exhausted.
func (it *Iterator) Next() (time.Time, bool) {
	if it == nil || it.next == nil {
		return time.Time{}, false
	}
	return it.next()
}

// Occurrences evaluates the schedule's timing rule against an activation time.
//
// The activation anchors the sequence: the first occurrence date is
// activation+delay interpreted in loc, combined with each wall-clock time in
// Times (each time yields a distinct occurrence). Returned instants are
// absolute; callers compare them against "now" in UTC.
func (s Schedule) Occurrences(activation time.Time, loc *time.Location) (*Iterator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	if strings.TrimSpace(s.CronTrigger) != "" {
		return s.cronOccurrences(activation, loc)
	}

	times := make([]TimeOfDay, len(s.Times))
	copy(times, s.Times)
	sort.Slice(times, func(i, j int) bool {
		a, b := times[i], times[j]
		if a.Hour != b.Hour {
			return a.Hour < b.Hour
		}
		if a.Minute != b.Minute {
			return a.Minute < b.Minute
		}
		return a.Second < b.Second
	})

	anchor := s.Delay.AddTo(activation.In(loc))
	once := s.ScheduleType == TypeOnce

	ti := 0
	done := false
	next := func() (time.Time, bool) {
		if done {
			return time.Time{}, false
		}
		if ti >= len(times) {
			if once {
				done = true
				return time.Time{}, false
			}
			anchor = s.Interval.AddTo(anchor)
			ti = 0
		}
		tod := times[ti]
		ti++
		y, m, d := anchor.Date()
		return time.Date(y, m, d, tod.Hour, tod.Minute, tod.Second, 0, loc), true
	}
	return &Iterator{next: next}, nil
}

func (s Schedule) cronOccurrences(activation time.Time, loc *time.Location) (*Iterator, error) {
	expr, err := cronParser.Parse(s.CronTrigger)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidSchedule, err, "invalid cronTrigger %q", s.CronTrigger)
	}
	cur := s.Delay.AddTo(activation.In(loc))
	next := func() (time.Time, bool) {
		cur = expr.Next(cur)
		if cur.IsZero() {
			return time.Time{}, false
		}
		return cur, true
	}
	return &Iterator{next: next}, nil
}

// ExpiresAt returns the expiry instant for an occurrence, or zero when the
// schedule has no expiry.
func (s Schedule) ExpiresAt(occurrence time.Time) time.Time {
	if s.Expires.IsZero() {
		return time.Time{}
	}
	return s.Expires.AddTo(occurrence)
}
