package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if fetchRequestsTotal == nil || fetchBytesTotal == nil ||
		rateLimitDelaySeconds == nil || downloadTasksTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObserveFetch(200, 1024, 50*time.Millisecond)
	if val := testutil.ToFloat64(fetchRequestsTotal.WithLabelValues("200")); val != 1 {
		t.Errorf("Expected fetchRequestsTotal{code=200} to be 1, got %f", val)
	}
	if val := testutil.ToFloat64(fetchBytesTotal); val != 1024 {
		t.Errorf("Expected fetchBytesTotal to be 1024, got %f", val)
	}
}

func TestWorkerGauge(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activeDownloadWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if val := testutil.ToFloat64(activeDownloadWorkers); val != before+1 {
		t.Errorf("Expected gauge %f, got %f", before+1, val)
	}
	DecActiveWorkers()
}
