package domain

import (
	"fmt"
	"strconv"
	"time"
)

// DateRange is an inclusive range of instants at minute granularity.
// A single-instant range covers one minute.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange truncates both ends to the minute and rejects start > end
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: start.Truncate(time.Minute), End: end.Truncate(time.Minute)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// SingleDay returns the range covering the whole calendar day of t
func SingleDay(t time.Time) DateRange {
	day := startOfDay(t)
	return DateRange{Start: day, End: day.Add(24*time.Hour - time.Minute)}
}

// Yesterday returns the single-day range of the day before now
func Yesterday(now time.Time) DateRange {
	return SingleDay(startOfDay(now).AddDate(0, 0, -1))
}

// Validate checks the start <= end invariant
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: date range is not set", ErrInvalidInput)
	}
	if r.Start.After(r.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidInput,
			r.Start.Format("2006-01-02 15:04"), r.End.Format("2006-01-02 15:04"))
	}
	return nil
}

// Days returns every calendar day touched by the range, ascending, as midnight
// instants in the location of Start.
func (r DateRange) Days() []time.Time {
	if r.Start.After(r.End) {
		return nil
	}
	loc := r.Start.Location()
	last := startOfDay(r.End.In(loc))
	var days []time.Time
	for d := startOfDay(r.Start); !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// String formats the range for logs
func (r DateRange) String() string {
	return r.Start.Format("2006-01-02 15:04") + " - " + r.End.Format("2006-01-02 15:04")
}

// ParseSingleTimestamp parses a YYMMDDHHMM stamp into a one-minute range.
// Two-digit years below 90 are 20xx, the rest 19xx.
func ParseSingleTimestamp(stamp string, loc *time.Location) (DateRange, error) {
	if len(stamp) != 10 {
		return DateRange{}, fmt.Errorf("%w: timestamp %q must be YYMMDDHHMM", ErrInvalidInput, stamp)
	}
	var parts [5]int
	for i := range parts {
		n, err := strconv.Atoi(stamp[i*2 : i*2+2])
		if err != nil {
			return DateRange{}, fmt.Errorf("%w: timestamp %q: %v", ErrInvalidInput, stamp, err)
		}
		parts[i] = n
	}
	year := 1900 + parts[0]
	if parts[0] < 90 {
		year = 2000 + parts[0]
	}
	if loc == nil {
		loc = time.Local
	}
	t := time.Date(year, time.Month(parts[1]), parts[2], parts[3], parts[4], 0, 0, loc)
	// time.Date normalizes out-of-range fields; reject them instead
	if t.Month() != time.Month(parts[1]) || t.Day() != parts[2] || t.Hour() != parts[3] || t.Minute() != parts[4] {
		return DateRange{}, fmt.Errorf("%w: timestamp %q is not a valid date", ErrInvalidInput, stamp)
	}
	return DateRange{Start: t, End: t}, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
