package monitoring

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordGatewayRetry(t *testing.T) {
	before := testutil.ToFloat64(gatewayRetriesTotal.WithLabelValues("create"))
	RecordGatewayRetry("create")
	RecordGatewayRetry("create")
	after := testutil.ToFloat64(gatewayRetriesTotal.WithLabelValues("create"))

	if after-before != 2 {
		t.Errorf("got %f retries, want 2", after-before)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss"))

	RecordCacheLookup(true)
	RecordCacheLookup(false)
	RecordCacheLookup(false)

	if d := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")) - hits; d != 1 {
		t.Errorf("got %f hits, want 1", d)
	}
	if d := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss")) - misses; d != 2 {
		t.Errorf("got %f misses, want 2", d)
	}
}

func TestRecordJobRun(t *testing.T) {
	failures := testutil.ToFloat64(jobRunsTotal.WithLabelValues("sync", "failure"))
	RecordJobRun("sync", errors.New("boom"))
	if d := testutil.ToFloat64(jobRunsTotal.WithLabelValues("sync", "failure")) - failures; d != 1 {
		t.Errorf("got %f failures, want 1", d)
	}
}
