package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lunchbadger/configstore/pkg/config"
)

func exposition(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestCollectorRecords(t *testing.T) {
	c := NewCollector(&config.MetricsConfig{Namespace: "configstore"})

	c.ObserveHTTPRequest("rest", 204, 5*time.Millisecond)
	c.ObserveTransaction("commit")
	c.ObserveGitService("git-receive-pack", true, time.Second)
	c.ObservePushEvent(2)
	c.SubscriberConnected()
	c.ObserveAuditWrite(nil)

	body := exposition(t, c)
	for _, want := range []string{
		`configstore_http_requests_total{code="2xx",route="rest"} 1`,
		`configstore_transactions_total{outcome="commit"} 1`,
		`configstore_push_events_published_total 1`,
		`configstore_push_ref_changes_total 2`,
		`configstore_change_stream_subscribers 1`,
		`configstore_audit_writes_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveHTTPRequest("rest", 200, time.Millisecond)
	c.ObserveTransaction("noop")
	c.ObserveGitService("git-upload-pack", false, time.Millisecond)
	c.ObservePushEvent(1)
	c.SubscriberConnected()
	c.SubscriberDisconnected()
	c.ObserveAuditWrite(nil)
}

func TestHTTPCodeBuckets(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{code: 204, want: "2xx"},
		{code: 301, want: "3xx"},
		{code: 404, want: "4xx"},
		{code: 500, want: "5xx"},
		{code: 101, want: "1xx"},
	}
	for _, tt := range tests {
		if got := httpCode(tt.code); got != tt.want {
			t.Errorf("httpCode(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
