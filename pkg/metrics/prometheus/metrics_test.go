package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg).(*engineMetrics)

	m.RecordMemoryUsage(4096)
	m.RecordStorageUsage("data", 100)
	m.RecordEviction("unloaded")
	m.RecordEviction("unloaded")
	m.RecordEviction("locked")
	m.RecordForceUnload()
	m.RecordJournalPosition(77)
	m.RecordJournalFailure("write")
	m.ObserveSave("crystal", 512, 3*time.Millisecond)

	assert.Equal(t, 4096.0, testutil.ToFloat64(m.memoryUsage))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.storageUsage.WithLabelValues("data")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.evictions.WithLabelValues("unloaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.forceUnloads))
	assert.Equal(t, 77.0, testutil.ToFloat64(m.journalPosition))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
