package report

import (
	"encoding/json"
	"math"
	"time"

	"callcenter/internal/models"
)

// MaxPoints bounds the number of chart points for long ranges.
const MaxPoints = 10

// Selector derives a chart value from summed metrics and names the JSON
// key it is reported under.
type Selector struct {
	Key   string
	Value func(sum models.DailyMetrics) float64
}

var (
	Contacts = Selector{Key: "contacts", Value: func(m models.DailyMetrics) float64 { return float64(m.NoOfContacts) }}
	Dials    = Selector{Key: "dials", Value: func(m models.DailyMetrics) float64 { return float64(m.NoOfDials) }}
	Uploads  = Selector{Key: "value", Value: func(m models.DailyMetrics) float64 { return float64(m.Count) }}

	Conversion = Selector{Key: "conversion", Value: func(m models.DailyMetrics) float64 {
		if m.NoOfContacts == 0 {
			return 0
		}
		return math.Round(100*float64(m.GrossTransfer)/float64(m.NoOfContacts)*100) / 100
	}}
)

// Point is one chart entry, encoded as {"name": ..., <key>: value}.
type Point struct {
	Name  string
	Key   string
	Value float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{"name": p.Name, p.Key: p.Value})
}

// Aggregate produces chart points for the range. Ranges of MaxPoints days or
// fewer give one point per day; longer ranges are split into consecutive
// buckets of ceil(days/MaxPoints) days. Metrics are summed within a day and
// within a bucket before the selector is applied.
func Aggregate(r Range, data map[string]models.DailyMetrics, sel Selector) []Point {
	days := r.Days()
	if len(days) <= MaxPoints {
		points := make([]Point, 0, len(days))
		for _, d := range days {
			points = append(points, Point{Name: shortLabel(d, false), Key: sel.Key, Value: sel.Value(data[d])})
		}
		return points
	}

	size := (len(days) + MaxPoints - 1) / MaxPoints
	withYear := r.spansYears()
	points := make([]Point, 0, MaxPoints)
	for i := 0; i < len(days); i += size {
		j := i + size
		if j > len(days) {
			j = len(days)
		}
		var sum models.DailyMetrics
		for _, d := range days[i:j] {
			sum = add(sum, data[d])
		}
		points = append(points, Point{
			Name:  rangeLabel(days[i], days[j-1], withYear),
			Key:   sel.Key,
			Value: sel.Value(sum),
		})
	}
	return points
}

func add(a, b models.DailyMetrics) models.DailyMetrics {
	a.NoOfDials += b.NoOfDials
	a.NoOfContacts += b.NoOfContacts
	a.GrossTransfer += b.GrossTransfer
	a.NetTransfer += b.NetTransfer
	a.Count += b.Count
	return a
}

func shortLabel(date string, withYear bool) string {
	t, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return date
	}
	if withYear {
		return t.Format("Jan 2, 06")
	}
	return t.Format("Jan 2")
}

func rangeLabel(start, end string, withYear bool) string {
	s, e := shortLabel(start, withYear), shortLabel(end, withYear)
	if s == e {
		return s
	}
	return s + " - " + e
}
