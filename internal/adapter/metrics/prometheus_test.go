package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_RecordsDispatch(t *testing.T) {
	p := NewPrometheus()

	p.ObserveCycle("storage", 120*time.Millisecond)
	p.AddEvents("storage", "processed", 3)
	p.AddEvents("storage", "processed", 2)
	p.AddEvents("storage", "failed", 0)
	p.SetBacklog("storage", 7)

	assert.Equal(t, 5.0, testutil.ToFloat64(p.events.WithLabelValues("storage", "processed")))
	assert.Equal(t, 7.0, testutil.ToFloat64(p.backlog.WithLabelValues("storage")))
	assert.Equal(t, 1, testutil.CollectAndCount(p.cycles))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `stockbridge_dispatch_events_total{dispatcher="storage",outcome="processed"} 5`)
	assert.NotContains(t, string(body), `outcome="failed"`)
}
