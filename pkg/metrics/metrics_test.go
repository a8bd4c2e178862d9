package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestQueryObserver(t *testing.T) {
	before := testutil.ToFloat64(QueriesTotal.WithLabelValues("ok"))
	failedBefore := testutil.ToFloat64(QueriesTotal.WithLabelValues("unknown_column"))

	var obs QueryObserver
	obs.ObserveQuery("ok", 3*time.Millisecond, 4)
	obs.ObserveQuery("unknown_column", time.Millisecond, 0)

	if got := testutil.ToFloat64(QueriesTotal.WithLabelValues("ok")); got != before+1 {
		t.Errorf("ok count = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(QueriesTotal.WithLabelValues("unknown_column")); got != failedBefore+1 {
		t.Errorf("failed count = %v, want %v", got, failedBefore+1)
	}
}
