// Package schedule provides recurring task scheduling for chronodrive:
// next-run computation for daily/weekly/monthly/one-shot schedules, a
// SQLite-backed task store, execution history, and the ticker that triggers
// runs when tasks come due.
package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/veligo/chronodrive/errors"
)

// Schedule kind discriminators used in the serialized form.
const (
	KindDaily   = "daily"
	KindWeekly  = "weekly"
	KindMonthly = "monthly"
	KindOnce    = "once"
)

// Spec describes when a task recurs. One variant per schedule kind, each
// carrying only its relevant fields, so invalid combinations cannot be
// represented.
type Spec interface {
	// Kind returns the schedule kind discriminator.
	Kind() string

	// NextRun returns the first occurrence strictly after from, in from's
	// location. ok is false when no future occurrence exists (an elapsed
	// one-shot schedule).
	NextRun(from time.Time) (next time.Time, ok bool)

	// Validate checks the variant's fields.
	Validate() error
}

// TimeOfDay is a wall-clock "HH:MM" in the user's local zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h). The whole string must match;
// trailing text or out-of-range fields are rejected.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, errors.Wrapf(errors.ErrInvalidSchedule, "time %q is not HH:MM", s)
	}
	return TimeOfDay{Hour: parsed.Hour(), Minute: parsed.Minute()}, nil
}

// String renders the canonical "HH:MM" form.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// on places the wall-clock time onto a calendar day, keeping its location.
func (t TimeOfDay) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, 0, 0, day.Location())
}

func (t TimeOfDay) validate() error {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return errors.Wrapf(errors.ErrInvalidSchedule, "time %02d:%02d out of range", t.Hour, t.Minute)
	}
	return nil
}

// Daily fires every day at a fixed time.
type Daily struct {
	At TimeOfDay
}

func (d Daily) Kind() string { return KindDaily }

func (d Daily) NextRun(from time.Time) (time.Time, bool) {
	candidate := d.At.on(from)
	if candidate.After(from) {
		return candidate, true
	}
	return d.At.on(from.AddDate(0, 0, 1)), true
}

func (d Daily) Validate() error { return d.At.validate() }

// Weekly fires on a set of weekdays at a fixed time.
type Weekly struct {
	At   TimeOfDay
	Days []time.Weekday
}

func (w Weekly) Kind() string { return KindWeekly }

func (w Weekly) NextRun(from time.Time) (time.Time, bool) {
	days := make(map[time.Weekday]bool, len(w.Days))
	for _, d := range w.Days {
		days[d] = true
	}
	if len(days) == 0 {
		return time.Time{}, false
	}
	for i := 0; i <= 7; i++ {
		day := from.AddDate(0, 0, i)
		if !days[day.Weekday()] {
			continue
		}
		if candidate := w.At.on(day); candidate.After(from) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

func (w Weekly) Validate() error {
	if len(w.Days) == 0 {
		return errors.Wrap(errors.ErrInvalidSchedule, "weekly schedule needs at least one weekday")
	}
	for _, d := range w.Days {
		if d < time.Sunday || d > time.Saturday {
			return errors.Wrapf(errors.ErrInvalidSchedule, "weekday %d out of range", d)
		}
	}
	return w.At.validate()
}

// Monthly fires on a fixed day of the month at a fixed time. Months shorter
// than Day are skipped, not clamped: a day-31 schedule never fires in
// February.
type Monthly struct {
	At  TimeOfDay
	Day int
}

func (m Monthly) Kind() string { return KindMonthly }

func (m Monthly) NextRun(from time.Time) (time.Time, bool) {
	for i := 0; i <= 48; i++ {
		first := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, from.Location()).AddDate(0, i, 0)
		if m.Day > daysIn(first) {
			continue
		}
		candidate := m.At.on(first.AddDate(0, 0, m.Day-1))
		if candidate.After(from) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

func (m Monthly) Validate() error {
	if m.Day < 1 || m.Day > 31 {
		return errors.Wrapf(errors.ErrInvalidSchedule, "day of month %d out of range", m.Day)
	}
	return m.At.validate()
}

// daysIn returns the number of days in the month containing t.
func daysIn(t time.Time) int {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return first.AddDate(0, 1, -1).Day()
}

// Once fires a single time at a fixed date and time, then never again.
// Callers should disable the task after it fires.
type Once struct {
	At   TimeOfDay
	Date time.Time // calendar day; only year/month/day are significant
}

func (o Once) Kind() string { return KindOnce }

func (o Once) NextRun(from time.Time) (time.Time, bool) {
	candidate := o.At.on(o.Date.In(from.Location()))
	if candidate.After(from) {
		return candidate, true
	}
	return time.Time{}, false
}

func (o Once) Validate() error {
	if o.Date.IsZero() {
		return errors.Wrap(errors.ErrInvalidSchedule, "one-shot schedule needs a date")
	}
	return o.At.validate()
}

// specEnvelope is the serialized form of a Spec, discriminated by kind.
type specEnvelope struct {
	Kind       string `json:"kind"`
	Time       string `json:"time,omitempty"`
	DaysOfWeek []int  `json:"days_of_week,omitempty"`
	DayOfMonth int    `json:"day_of_month,omitempty"`
	Date       string `json:"date,omitempty"`
}

const dateLayout = "2006-01-02"

// MarshalSpec serializes a spec to its JSON envelope.
func MarshalSpec(s Spec) ([]byte, error) {
	env := specEnvelope{Kind: s.Kind()}
	switch v := s.(type) {
	case Daily:
		env.Time = v.At.String()
	case Weekly:
		env.Time = v.At.String()
		for _, d := range v.Days {
			env.DaysOfWeek = append(env.DaysOfWeek, int(d))
		}
	case Monthly:
		env.Time = v.At.String()
		env.DayOfMonth = v.Day
	case Once:
		env.Time = v.At.String()
		env.Date = v.Date.Format(dateLayout)
	default:
		return nil, errors.Newf("unknown schedule kind %T", s)
	}
	return json.Marshal(env)
}

// UnmarshalSpec parses a JSON envelope back into its variant.
func UnmarshalSpec(data []byte) (Spec, error) {
	var env specEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "parse schedule")
	}

	at, err := ParseTimeOfDay(env.Time)
	if err != nil {
		return nil, err
	}

	switch env.Kind {
	case KindDaily:
		return Daily{At: at}, nil
	case KindWeekly:
		days := make([]time.Weekday, 0, len(env.DaysOfWeek))
		for _, d := range env.DaysOfWeek {
			days = append(days, time.Weekday(d))
		}
		s := Weekly{At: at, Days: days}
		return s, s.Validate()
	case KindMonthly:
		s := Monthly{At: at, Day: env.DayOfMonth}
		return s, s.Validate()
	case KindOnce:
		date, err := time.ParseInLocation(dateLayout, env.Date, time.Local)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrInvalidSchedule, "date %q is not YYYY-MM-DD", env.Date)
		}
		return Once{At: at, Date: date}, nil
	default:
		return nil, errors.Wrapf(errors.ErrInvalidSchedule, "unknown kind %q", env.Kind)
	}
}
