package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func serveThrough(t *testing.T, m *Metrics, path string, inner http.HandlerFunc) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var cid string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		inner(w, r)
	}))

	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, cid
}

func TestMiddlewareSetsCorrelationID(t *testing.T) {
	memoryTracer(t)
	m, _ := newTestMetrics(t)

	rec, cid := serveThrough(t, m, "/twiml", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if len(cid) != 32 {
		t.Fatalf("correlation ID in handler context = %q, want 32 hex chars", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
	}
}

func TestMiddlewareSpansRequest(t *testing.T) {
	exp := memoryTracer(t)
	m, _ := newTestMetrics(t)

	serveThrough(t, m, "/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /healthz" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "HTTP GET /healthz")
	}
}

func TestMiddlewareRecordsDuration(t *testing.T) {
	memoryTracer(t)
	m, reader := newTestMetrics(t)

	serveThrough(t, m, "/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	met := findMetric(rm, "callweave.http.request.duration")
	if met == nil {
		t.Fatal("request duration histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("request duration has no histogram data points")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	want := map[string]string{"method": "GET", "path": "/readyz"}
	for _, kv := range dp.Attributes.ToSlice() {
		if v, ok := want[string(kv.Key)]; ok && kv.Value.AsString() == v {
			delete(want, string(kv.Key))
		}
	}
	if len(want) != 0 {
		t.Errorf("missing attributes on data point: %v", want)
	}
}

func TestMiddlewareCapturesStatus(t *testing.T) {
	exp := memoryTracer(t)
	m, _ := newTestMetrics(t)

	rec, _ := serveThrough(t, m, "/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("response status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatal("no span recorded")
	}
	var got int64
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			got = a.Value.AsInt64()
		}
	}
	if got != 404 {
		t.Errorf("span http.response.status_code = %d, want 404", got)
	}
}

func TestMiddlewareNilMetrics(t *testing.T) {
	memoryTracer(t)

	rec, _ := serveThrough(t, nil, "/twiml", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if rec.Code != http.StatusOK {
		t.Errorf("response status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMiddlewareContinuesIncomingTrace(t *testing.T) {
	memoryTracer(t)
	m, _ := newTestMetrics(t)

	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"

	var cid string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/webhook", nil)
	req.Header.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if cid != upstream {
		t.Errorf("correlation ID = %q, want upstream trace %q", cid, upstream)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != upstream {
		t.Errorf("X-Correlation-ID = %q, want %q", got, upstream)
	}
}
