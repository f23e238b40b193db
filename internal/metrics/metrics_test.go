package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHTTPRequest_UpdatesSimpleFallback(t *testing.T) {
	c := New(true)
	c.RecordHTTPRequest("muenster.de", 200, 50*time.Millisecond)
	c.RecordHTTPRequest("muenster.de", 200, 150*time.Millisecond)

	snap := c.Simple()
	assert.Equal(t, int64(2), snap.HTTPRequestsTotal)
	assert.InDelta(t, 0.1, snap.HTTPAvgDurationSeconds, 0.01)
}

func TestRecordHTTPError_UpdatesSimpleFallback(t *testing.T) {
	c := New(true)
	c.RecordHTTPError("muenster.de", "timeout")
	assert.Equal(t, int64(1), c.Simple().HTTPErrorsTotal)
}

func TestRecordEntitySynced_AggregatesByType(t *testing.T) {
	c := New(true)
	c.RecordEntitySynced("meeting", "muenster.de", "created")
	c.RecordEntitySynced("meeting", "muenster.de", "updated")
	c.RecordEntitySynced("paper", "muenster.de", "created")

	snap := c.Simple()
	assert.Equal(t, int64(2), snap.EntitiesByType["meeting"])
	assert.Equal(t, int64(1), snap.EntitiesByType["paper"])
	assert.Equal(t, int64(3), snap.EntitiesSyncedTotal)
}

func TestTrackSync_RecordsSuccessAndFailure(t *testing.T) {
	c := New(true)

	tracker := c.TrackSync("muenster.de", "incremental")
	assert.Equal(t, int64(1), c.Simple().ActiveSyncs)
	tracker.Finish(nil)
	assert.Equal(t, int64(0), c.Simple().ActiveSyncs)
	assert.Equal(t, int64(1), c.Simple().SyncRunsTotal)
	assert.Equal(t, int64(0), c.Simple().SyncErrorsTotal)

	tracker = c.TrackSync("muenster.de", "full")
	tracker.Finish(assert.AnError)
	assert.Equal(t, int64(1), c.Simple().SyncErrorsTotal)
}

func TestDisabledCollector_NeverPanics(t *testing.T) {
	c := New(false)
	c.RecordHTTPRequest("x", 200, time.Second)
	c.RecordHTTPError("x", "timeout")
	c.RecordEntitySynced("meeting", "x", "created")
	c.SetCircuitBreakerState("x", 1)
	tracker := c.TrackSync("x", "incremental")
	tracker.Finish(nil)

	snap := c.Simple()
	assert.Equal(t, int64(0), snap.HTTPRequestsTotal)
}

func TestHandler_ExposesPrometheusFormat(t *testing.T) {
	c := New(true)
	c.RecordHTTPRequest("muenster.de", 200, 10*time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_DisabledReturnsNotFound(t *testing.T) {
	c := New(false)
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
