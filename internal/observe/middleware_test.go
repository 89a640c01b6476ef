package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup wires an in-memory meter and tracer so middleware output can be
// inspected without a collector.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// serve runs one request through the middleware-wrapped handler and returns
// the recorder plus the correlation ID the handler observed.
func serve(mw func(http.Handler) http.Handler, req *http.Request, status int) (*httptest.ResponseRecorder, string) {
	var cid string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(status)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, cid
}

func TestMiddleware_CorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)
	mw := Middleware(m)

	t.Run("generated when absent", func(t *testing.T) {
		rec, cid := serve(mw, httptest.NewRequest("GET", "/v1/turns", nil), http.StatusOK)
		if len(cid) != 32 {
			t.Errorf("handler saw correlation ID %q, want 32 hex chars", cid)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != cid {
			t.Errorf("response header = %q, handler saw %q", got, cid)
		}
	})

	t.Run("adopted from traceparent", func(t *testing.T) {
		const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
		req := httptest.NewRequest("GET", "/v1/turns", nil)
		req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")

		rec, cid := serve(mw, req, http.StatusOK)
		if cid != traceID {
			t.Errorf("handler saw correlation ID %q, want upstream trace %q", cid, traceID)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
			t.Errorf("response header = %q, want %q", got, traceID)
		}
	})
}

func TestMiddleware_SpanPerRequest(t *testing.T) {
	m, _, exp := testSetup(t)
	mw := Middleware(m)

	serve(mw, httptest.NewRequest("POST", "/v1/session", nil), http.StatusBadGateway)

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "HTTP POST /v1/session" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusBadGateway {
		t.Errorf("span http.response.status_code = %d, want %d", status, http.StatusBadGateway)
	}
}

func TestMiddleware_DurationHistogram(t *testing.T) {
	m, reader, _ := testSetup(t)
	mw := Middleware(m)

	serve(mw, httptest.NewRequest("GET", "/v1/personas", nil), http.StatusOK)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	met := findMetric(rm, "antiphon.http.request.duration")
	if met == nil {
		t.Fatal("duration histogram not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("duration metric has no histogram data points")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	want := map[string]string{"method": "GET", "path": "/v1/personas", "status": "200"}
	for _, kv := range dp.Attributes.ToSlice() {
		if expect, ok := want[string(kv.Key)]; ok && kv.Value.AsString() == expect {
			delete(want, string(kv.Key))
		}
	}
	for k := range want {
		t.Errorf("histogram missing attribute %s=%s", k, want[k])
	}
}

func TestMiddleware_ProbePathsLogAtDebug(t *testing.T) {
	m, _, _ := testSetup(t)
	mw := Middleware(m)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	serve(mw, httptest.NewRequest("GET", "/healthz", nil), http.StatusOK)
	if strings.Contains(buf.String(), "request completed") {
		t.Errorf("probe request logged at info level: %s", buf.String())
	}

	serve(mw, httptest.NewRequest("GET", "/v1/session", nil), http.StatusOK)
	if !strings.Contains(buf.String(), "request completed") {
		t.Error("non-probe request did not log at info level")
	}
}
