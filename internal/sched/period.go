package sched

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedhub/internal/apperr"
)

// Period is an ISO-8601 duration (P3D, P1M, P3W, PT10H, P1Y2M3DT4H5M6S).
//
// Calendar components (years, months, days) are kept separate from the clock
// component because month and year arithmetic depends on the anchor date;
// AddTo applies them with time.Time.AddDate so "P1M" lands on the same day of
// the next month. Weeks are folded into days at parse time.
type Period struct {
	Years  int
	Months int
	Days   int
	Clock  time.Duration
}

func (p Period) IsZero() bool {
	return p.Years == 0 && p.Months == 0 && p.Days == 0 && p.Clock == 0
}

// AddTo shifts t forward by the period.
func (p Period) AddTo(t time.Time) time.Time {
	if p.Years != 0 || p.Months != 0 || p.Days != 0 {
		t = t.AddDate(p.Years, p.Months, p.Days)
	}
	if p.Clock != 0 {
		t = t.Add(p.Clock)
	}
	return t
}

func (p Period) String() string {
	if p.IsZero() {
		return "PT0S"
	}
	var b strings.Builder
	b.WriteByte('P')
	if p.Years != 0 {
		fmt.Fprintf(&b, "%dY", p.Years)
	}
	if p.Months != 0 {
		fmt.Fprintf(&b, "%dM", p.Months)
	}
	if p.Days != 0 {
		fmt.Fprintf(&b, "%dD", p.Days)
	}
	if p.Clock != 0 {
		b.WriteByte('T')
		d := p.Clock
		if h := d / time.Hour; h != 0 {
			fmt.Fprintf(&b, "%dH", h)
			d -= h * time.Hour
		}
		if m := d / time.Minute; m != 0 {
			fmt.Fprintf(&b, "%dM", m)
			d -= m * time.Minute
		}
		if s := d / time.Second; s != 0 {
			fmt.Fprintf(&b, "%dS", s)
		}
	}
	return b.String()
}

// ParsePeriod parses an ISO-8601 duration string. Empty input is the zero
// period. Negative components and fractional values are rejected.
func ParsePeriod(raw string) (Period, error) {
	s := strings.TrimSpace(strings.ToUpper(raw))
	if s == "" {
		return Period{}, nil
	}
	if !strings.HasPrefix(s, "P") {
		return Period{}, apperr.E(apperr.KindInvalidSchedule, "invalid period %q: must start with 'P'", raw)
	}
	s = s[1:]
	if s == "" {
		return Period{}, apperr.E(apperr.KindInvalidSchedule, "invalid period %q: empty body", raw)
	}

	var p Period
	inTime := false
	num := ""
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			num += string(c)
		case c == 'T':
			if inTime || num != "" {
				return Period{}, apperr.E(apperr.KindInvalidSchedule, "invalid period %q", raw)
			}
			inTime = true
		default:
			if num == "" {
				return Period{}, apperr.E(apperr.KindInvalidSchedule, "invalid period %q: designator %q without value", raw, string(c))
			}
			n, err := strconv.Atoi(num)
			if err != nil {
				return Period{}, apperr.E(apperr.KindInvalidSchedule, "invalid period %q: %v", raw, err)
			}
			num = ""
			switch {
			case !inTime && c == 'Y':
				p.Years += n
			case !inTime && c == 'M':
				p.Months += n
			case !inTime && c == 'W':
				p.Days += 7 * n
			case !inTime && c == 'D':
				p.Days += n
			case inTime && c == 'H':
				p.Clock += time.Duration(n) * time.Hour
			case inTime && c == 'M':
				p.Clock += time.Duration(n) * time.Minute
			case inTime && c == 'S':
				p.Clock += time.Duration(n) * time.Second
			default:
				return Period{}, apperr.E(apperr.KindInvalidSchedule, "invalid period %q: designator %q", raw, string(c))
			}
		}
	}
	if num != "" {
		return Period{}, apperr.E(apperr.KindInvalidSchedule, "invalid period %q: trailing value", raw)
	}
	return p, nil
}

func (p Period) MarshalJSON() ([]byte, error) {
	if p.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(strconv.Quote(p.String())), nil
}

func (p *Period) UnmarshalJSON(b []byte) error {
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return err
	}
	parsed, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
