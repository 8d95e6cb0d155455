package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"linktrace/pkg/config"
	"linktrace/pkg/errutil"
)

func testAnalyticsConfig() config.Analytics {
	return config.Analytics{DefaultLimit: 100, MaxLimit: 1000}
}

func TestParseDefaults(t *testing.T) {
	f, err := FilterParams{}.Parse(testAnalyticsConfig())
	require.NoError(t, err)
	require.Equal(t, 100, f.Limit)
	require.Equal(t, 0, f.Offset)
	require.Equal(t, "desc", f.SortOrder)
	require.True(t, f.StartDate.IsZero())
	require.True(t, f.EndDate.IsZero())
}

func TestParseRejectsExcessiveLimit(t *testing.T) {
	_, err := FilterParams{Limit: "2000"}.Parse(testAnalyticsConfig())
	require.Error(t, err)

	var e errutil.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, errutil.KindValidation, e.Kind)

	_, err = FilterParams{Limit: "0"}.Parse(testAnalyticsConfig())
	require.Error(t, err)

	_, err = FilterParams{Limit: "abc"}.Parse(testAnalyticsConfig())
	require.Error(t, err)

	f, err := FilterParams{Limit: "1000"}.Parse(testAnalyticsConfig())
	require.NoError(t, err)
	require.Equal(t, 1000, f.Limit)
}

func TestParseRejectsBadDates(t *testing.T) {
	_, err := FilterParams{StartDate: "not-a-date"}.Parse(testAnalyticsConfig())
	require.Error(t, err)

	_, err = FilterParams{EndDate: "03/01/2026"}.Parse(testAnalyticsConfig())
	require.Error(t, err)

	_, err = FilterParams{StartDate: "2026-03-02", EndDate: "2026-03-01"}.Parse(testAnalyticsConfig())
	require.Error(t, err, "inverted range is rejected")
}

func TestParseAcceptsISODates(t *testing.T) {
	f, err := FilterParams{
		StartDate: "2026-03-01T10:00:00Z",
		EndDate:   "2026-03-02",
	}.Parse(testAnalyticsConfig())
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), f.StartDate)
	require.True(t, f.EndDate.After(time.Date(2026, 3, 2, 23, 59, 59, 0, time.UTC)),
		"bare end date covers the whole day")
}

func TestParseRejectsBadOffsetAndSort(t *testing.T) {
	_, err := FilterParams{Offset: "-1"}.Parse(testAnalyticsConfig())
	require.Error(t, err)

	_, err = FilterParams{SortOrder: "sideways"}.Parse(testAnalyticsConfig())
	require.Error(t, err)

	f, err := FilterParams{SortOrder: "asc", Offset: "5"}.Parse(testAnalyticsConfig())
	require.NoError(t, err)
	require.Equal(t, "asc", f.SortOrder)
	require.Equal(t, 5, f.Offset)
}

func TestParseRejectsBadAttribution(t *testing.T) {
	_, err := FilterParams{SourceAttribution: "has spaces"}.Parse(testAnalyticsConfig())
	require.Error(t, err)

	f, err := FilterParams{SourceAttribution: "spring_sale-2026"}.Parse(testAnalyticsConfig())
	require.NoError(t, err)
	require.Equal(t, "spring_sale-2026", f.SourceAttribution)
}
