package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterAccumulates(t *testing.T) {
	c := NewMetricsCollector()
	ctr := c.Counter("test_total", "A test counter", "")
	ctr.Inc()
	ctr.Add(4)

	if got := c.Counter("test_total", "A test counter", "").Value(); got != 5 {
		t.Errorf("value = %d, want 5", got)
	}
}

func TestGaugeSetAndMove(t *testing.T) {
	c := NewMetricsCollector()
	g := c.Gauge("test_depth", "A test gauge", "")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()

	if got := g.Value(); got != 9 {
		t.Errorf("value = %d, want 9", got)
	}
}

func TestLabelsSeparateSeries(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("test_total", "A test counter", `kind="a"`).Inc()
	c.Counter("test_total", "A test counter", `kind="b"`).Add(2)

	if got := c.Counter("test_total", "A test counter", `kind="a"`).Value(); got != 1 {
		t.Errorf(`kind="a" = %d, want 1`, got)
	}
	if got := c.Counter("test_total", "A test counter", `kind="b"`).Value(); got != 2 {
		t.Errorf(`kind="b" = %d, want 2`, got)
	}
}

func TestHandlerRendersPrometheusText(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("test_total", "A test counter", "").Add(3)
	c.Gauge("test_depth", "A test gauge", `queue="out"`).Set(7)

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE slackbridge_uptime_seconds gauge",
		"# HELP test_total A test counter",
		"test_total 3",
		`test_depth{queue="out"} 7`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("output missing %q:\n%s", want, body)
		}
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}
