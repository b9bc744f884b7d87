package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStore(t *testing.T) {
	t.Parallel()
	m := New()

	m.ObserveStore("find", "ok")
	m.ObserveStore("find", "ok")
	m.ObserveStore("create", "unavailable")

	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("find", "ok")); got != 2 {
		t.Errorf("find/ok: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("create", "unavailable")); got != 1 {
		t.Errorf("create/unavailable: got %v, want 1", got)
	}
}

func TestHandlerExposesRelayMetrics(t *testing.T) {
	t.Parallel()
	m := New()
	m.DeviceOnline.Set(1)
	m.MessagesTotal.WithLabelValues("ping").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"pumprelay_device_online 1",
		`pumprelay_messages_total{type="ping"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	t.Parallel()
	a, b := New(), New()
	a.CommandsForwardedTotal.Inc()

	if got := testutil.ToFloat64(b.CommandsForwardedTotal); got != 0 {
		t.Errorf("second instance saw %v forwarded commands", got)
	}
}
