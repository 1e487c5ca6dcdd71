package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsExposed(t *testing.T) {
	MustRegister()
	MustRegister()

	SessionsTotal.WithLabelValues("offerer", "Success").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `gtpeer_sessions_total{outcome="Success",role="offerer"}`) {
		t.Fatal("gtpeer_sessions_total missing from /metrics output")
	}
}
