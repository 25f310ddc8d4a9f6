package notify

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capturekit/resilience/internal/stats"
	"github.com/capturekit/resilience/internal/taxonomy"
)

func TestBundleRoundTrip(t *testing.T) {
	rec := taxonomy.NewRecord(taxonomy.KindStorage, taxonomy.SeverityCritical, "quota exceeded")
	rec.UserMessage = "Storage is full"

	collector := stats.NewCollector()
	collector.Record(rec)

	b := &Bundle{
		GeneratedAt: time.Unix(1700000000, 0).UTC(),
		Record:      rec,
		Recent:      collector.Recent(10),
		Stats:       collector.Summary(),
	}

	data, err := EncodeBundle(b)
	require.NoError(t, err)

	got, err := DecodeBundle(data)
	require.NoError(t, err)
	assert.Equal(t, taxonomy.KindStorage, got.Record.Kind)
	assert.Equal(t, taxonomy.SeverityCritical, got.Record.Severity)
	assert.Equal(t, "Storage is full", got.Record.UserMessage)
	assert.Equal(t, int64(1), got.Stats.Total)
	require.Len(t, got.Recent, 1)
}

func TestDecodeBundleRejectsGarbage(t *testing.T) {
	_, err := DecodeBundle([]byte("not gzip"))
	assert.Error(t, err)
}

func TestReportURL(t *testing.T) {
	rec := taxonomy.NewRecord(taxonomy.KindParsing, taxonomy.SeverityError, "selector miss")
	rec.UserMessage = "The page layout changed"
	rec.Suggestion = "Update the extension"

	raw := ReportURL("https://github.com/capturekit/capture/issues/new", rec)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "[parsing/error] selector miss", q.Get("title"))
	assert.Contains(t, q.Get("body"), "The page layout changed")
	assert.Contains(t, q.Get("body"), "Update the extension")
	assert.Contains(t, q.Get("body"), rec.ID)
}

func TestReportURLBadBase(t *testing.T) {
	rec := taxonomy.NewRecord(taxonomy.KindUnknown, taxonomy.SeverityError, "x")
	assert.Equal(t, "://bad", ReportURL("://bad", rec))
}
