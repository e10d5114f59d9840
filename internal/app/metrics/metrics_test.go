package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"/":                      "/",
		"/goals":                 "/goals",
		"/goals/":                "/goals",
		"/goals/funding":         "/goals/funding",
		"/goals/abc-123":         "/goals/:id",
		"/goals/abc-123/credits": "/goals/:id/credits",
		"/deposits":              "/deposits",
		"/deposits/xyz":          "/deposits/:id",
		"/deposits/xyz/events":   "/deposits/:id/events",
		"/healthz":               "/healthz",
	}
	for raw, want := range cases {
		if got := canonicalPath(raw); got != want {
			t.Fatalf("canonicalPath(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestInstrumentHandlerRecordsStatus(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/goals", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("wrapped handler changed the status: %d", rec.Code)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	RecordDepositOutcome("settled", "", 0)
	RecordReconciliation("settled")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected exposition output")
	}
}
