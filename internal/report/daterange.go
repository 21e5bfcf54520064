package report

import (
	"errors"
	"fmt"
	"time"

	"callcenter/internal/models"
)

// Date filters accepted by the chart endpoints.
const (
	FilterLast7        = "last7"
	FilterPreviousWeek = "previousWeek"
	FilterCustom       = "custom"
)

var (
	ErrInvalidFilter       = errors.New("invalid dateFilter value")
	ErrCustomRangeRequired = errors.New("custom range start and end dates are required")
	ErrStartAfterEnd       = errors.New("custom range start must not be after end")
)

// Range is an inclusive span of calendar days, both ends at UTC midnight.
type Range struct {
	Start time.Time
	End   time.Time
}

// Resolve turns a filter into a concrete range relative to now.
func Resolve(filter, start, end string, now time.Time) (Range, error) {
	today := day(now)

	switch filter {
	case FilterLast7:
		return Range{Start: today.AddDate(0, 0, -6), End: today}, nil
	case FilterPreviousWeek:
		lastSaturday := today.AddDate(0, 0, -int(today.Weekday())-1)
		return Range{Start: lastSaturday.AddDate(0, 0, -6), End: lastSaturday}, nil
	case FilterCustom:
		if start == "" || end == "" {
			return Range{}, ErrCustomRangeRequired
		}
		s, err := parseDay(start)
		if err != nil {
			return Range{}, fmt.Errorf("invalid start date: %w", err)
		}
		e, err := parseDay(end)
		if err != nil {
			return Range{}, fmt.Errorf("invalid end date: %w", err)
		}
		if s.After(e) {
			return Range{}, ErrStartAfterEnd
		}
		return Range{Start: s, End: e}, nil
	default:
		return Range{}, ErrInvalidFilter
	}
}

// Days lists every date in the range as YYYY-MM-DD.
func (r Range) Days() []string {
	var out []string
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(models.DateLayout))
	}
	return out
}

// Window is the database filter covering the range.
func (r Range) Window() models.DateWindow {
	return models.DateWindow{Start: r.Start.Format(models.DateLayout), End: r.End.Format(models.DateLayout)}
}

func (r Range) spansYears() bool {
	return r.Start.Year() != r.End.Year()
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// parseDay accepts a bare date or an RFC 3339 timestamp.
func parseDay(raw string) (time.Time, error) {
	if t, err := time.Parse(models.DateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return day(t), nil
}
