package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newApp(logger *zap.Logger, metrics *Metrics) *fiber.App {
	app := fiber.New()
	app.Use(TraceID(), RequestLogger(logger, metrics))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString(TraceIDFromContext(c)) })
	app.Get("/fail", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusServiceUnavailable) })
	return app
}

func TestTraceIDGeneratedAndEchoed(t *testing.T) {
	app := newApp(zap.NewNop(), NewMetrics())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ok", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	id := resp.Header.Get(TraceHeader)
	if len(id) != traceIDLength {
		t.Fatalf("expected %d char trace id, got %q", traceIDLength, id)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != id {
		t.Fatalf("handler saw %q, header carried %q", body, id)
	}
}

func TestTraceIDInboundHeader(t *testing.T) {
	app := newApp(zap.NewNop(), NewMetrics())

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(TraceHeader, "client-trace_1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got := resp.Header.Get(TraceHeader); got != "client-trace_1" {
		t.Fatalf("expected inbound trace id to be kept, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(TraceHeader, "bad id "+strings.Repeat("x", 80))
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got := resp.Header.Get(TraceHeader); len(got) != traceIDLength {
		t.Fatalf("expected malformed trace id to be replaced, got %q", got)
	}
}

func TestRequestLoggerRecords(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	metrics := NewMetrics()
	app := newApp(zap.New(core), metrics)

	for _, path := range []string{"/ok", "/fail"} {
		if _, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil)); err != nil {
			t.Fatalf("request %s: %v", path, err)
		}
	}

	if n := logs.FilterMessage("request").Len(); n != 2 {
		t.Fatalf("expected 2 request logs, got %d", n)
	}
	if n := logs.FilterLevelExact(zap.ErrorLevel).Len(); n != 1 {
		t.Fatalf("expected one error-level log for 503, got %d", n)
	}
	if got := testutil.ToFloat64(metrics.requests.WithLabelValues("/fail", http.MethodGet, "503")); got != 1 {
		t.Fatalf("expected one 503 sample, got %v", got)
	}
}

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	metrics := NewMetrics()
	metrics.RecordAuthOutcome("login", "success")
	metrics.RecordSessionsPurged(3)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`research_auth_auth_outcomes_total{flow="login",outcome="success"} 1`,
		`research_auth_refresh_sessions_purged_total 3`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition", want)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", http.MethodGet, 200, 0)
	m.RecordError("/", http.MethodGet, "X")
	m.RecordAuthOutcome("login", "success")
	m.RecordSessionsPurged(1)
	m.RecordRateLimited("/")
}
