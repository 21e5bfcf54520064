package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"callcenter/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// Wednesday.
var now = time.Date(2024, time.March, 13, 15, 4, 0, 0, time.UTC)

func TestResolve(t *testing.T) {
	r, err := Resolve(FilterLast7, "", "", now)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-03-07", "2024-03-08", "2024-03-09", "2024-03-10",
		"2024-03-11", "2024-03-12", "2024-03-13",
	}, r.Days())

	r, err = Resolve(FilterPreviousWeek, "", "", now)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-03", r.Start.Format(models.DateLayout))
	assert.Equal(t, time.Sunday, r.Start.Weekday())
	assert.Equal(t, "2024-03-09", r.End.Format(models.DateLayout))
	assert.Equal(t, time.Saturday, r.End.Weekday())

	r, err = Resolve(FilterCustom, "2024-01-01", "2024-01-31T00:00:00Z", now)
	require.NoError(t, err)
	assert.Len(t, r.Days(), 31)
	assert.Equal(t, models.DateWindow{Start: "2024-01-01", End: "2024-01-31"}, r.Window())
}

func TestResolvePreviousWeekOnSunday(t *testing.T) {
	sunday := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	r, err := Resolve(FilterPreviousWeek, "", "", sunday)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-03", r.Start.Format(models.DateLayout))
	assert.Equal(t, "2024-03-09", r.End.Format(models.DateLayout))
}

func TestResolveErrors(t *testing.T) {
	_, err := Resolve("yesterday", "", "", now)
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = Resolve(FilterCustom, "2024-01-01", "", now)
	assert.ErrorIs(t, err, ErrCustomRangeRequired)

	_, err = Resolve(FilterCustom, "2024-02-01", "2024-01-01", now)
	assert.ErrorIs(t, err, ErrStartAfterEnd)

	_, err = Resolve(FilterCustom, "01/02/2024", "2024-01-05", now)
	assert.Error(t, err)
}

func TestAggregateLast7WithoutData(t *testing.T) {
	r, err := Resolve(FilterLast7, "", "", now)
	require.NoError(t, err)

	points := Aggregate(r, nil, Contacts)
	require.Len(t, points, 7)
	assert.Equal(t, "Mar 7", points[0].Name)
	assert.Equal(t, "Mar 13", points[6].Name)
	for _, p := range points {
		assert.Zero(t, p.Value)
	}

	raw, err := json.Marshal(points[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Mar 7","contacts":0}`, string(raw))
}

func TestAggregateDailyValues(t *testing.T) {
	r := Range{Start: date("2024-03-01"), End: date("2024-03-03")}
	data := map[string]models.DailyMetrics{
		"2024-03-02": {NoOfDials: 40, NoOfContacts: 3, GrossTransfer: 1, Count: 5},
	}

	assert.Equal(t, []float64{0, 40, 0}, values(Aggregate(r, data, Dials)))
	assert.Equal(t, []float64{0, 5, 0}, values(Aggregate(r, data, Uploads)))
	assert.Equal(t, []float64{0, 33.33, 0}, values(Aggregate(r, data, Conversion)))
}

func TestAggregateBucketsPreserveSums(t *testing.T) {
	r := Range{Start: date("2024-01-01"), End: date("2024-02-14")}
	data := map[string]models.DailyMetrics{}
	total := 0
	for i, d := range r.Days() {
		data[d] = models.DailyMetrics{NoOfContacts: i + 1, NoOfDials: 2 * (i + 1)}
		total += i + 1
	}

	points := Aggregate(r, data, Contacts)
	assert.LessOrEqual(t, len(points), MaxPoints)
	assert.Len(t, points, 9, "45 days in buckets of 5")

	sum := 0.0
	for _, p := range points {
		sum += p.Value
	}
	assert.Equal(t, float64(total), sum)
	assert.Equal(t, "Jan 1 - Jan 5", points[0].Name)
	assert.Equal(t, "Feb 10 - Feb 14", points[8].Name)
}

func TestAggregateBucketSizes(t *testing.T) {
	for days := 1; days <= 400; days++ {
		r := Range{Start: date("2023-06-01")}
		r.End = r.Start.AddDate(0, 0, days-1)
		points := Aggregate(r, nil, Dials)
		if days <= MaxPoints {
			require.Len(t, points, days)
		} else {
			require.LessOrEqual(t, len(points), MaxPoints, "days=%d", days)
		}
	}
}

func TestAggregateConversionPerBucket(t *testing.T) {
	r := Range{Start: date("2024-01-01"), End: date("2024-01-12")}
	data := map[string]models.DailyMetrics{
		"2024-01-01": {NoOfContacts: 10, GrossTransfer: 1},
		"2024-01-02": {NoOfContacts: 20, GrossTransfer: 2},
	}
	points := Aggregate(r, data, Conversion)
	require.Len(t, points, 6)
	assert.Equal(t, 10.0, points[0].Value)
	assert.Zero(t, points[1].Value)
}

func TestAggregateYearSuffix(t *testing.T) {
	r := Range{Start: date("2023-12-20"), End: date("2024-01-10")}
	points := Aggregate(r, nil, Contacts)
	assert.Equal(t, "Dec 20, 23 - Dec 22, 23", points[0].Name)
	assert.True(t, strings.HasSuffix(points[len(points)-1].Name, ", 24"))
}

func TestWriteTrackersCSV(t *testing.T) {
	var buf bytes.Buffer
	trackers := []models.LgTracker{{
		Date: "2024-03-02", NoOfDials: 10, NoOfContacts: 4, GrossTransfer: 2, NetTransfer: 1,
		FileName: "leads.csv", Count: 2, Status: models.UploadSuccess,
		Client: &models.ClientRef{ID: 5, Name: "Acme"},
	}}
	require.NoError(t, WriteTrackersCSV(&buf, trackers))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "03/02/2024,Acme,10,4,2,1,leads.csv,2,success", lines[1])
}

func TestWriteTrackersXLSX(t *testing.T) {
	var buf bytes.Buffer
	trackers := []models.LgTracker{{Date: "2024-03-02", NoOfDials: 10, Status: models.UploadNoFile}}
	require.NoError(t, WriteTrackersXLSX(&buf, trackers))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	v, err := f.GetCellValue("Trackers", "A2")
	require.NoError(t, err)
	assert.Equal(t, "03/02/2024", v)
	v, err = f.GetCellValue("Trackers", "C2")
	require.NoError(t, err)
	assert.Equal(t, "10", v)
}

func date(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}
