package monitor

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.TurnResolved("correct")
	m.StaleWrite("commit")
	m.StoreRetry("get")
	m.BattleEnded("Completed")
	m.BattleStarted()
	m.BattleStopped()
	m.ObservePoll(time.Millisecond, nil)
	m.RewardSettled("win")
}

func TestMetrics_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("quizbattle", reg)

	m.TurnResolved("correct")
	m.TurnResolved("correct")
	m.StaleWrite("commit_turn")
	m.BattleEnded("")
	m.ObservePoll(2*time.Millisecond, errors.New("boom"))

	if v := counterValue(t, reg, "quizbattle_turns_resolved_total", "correct"); v != 2 {
		t.Errorf("Expected 2 resolved turns, got %v", v)
	}
	if v := counterValue(t, reg, "quizbattle_stale_writes_total", "commit_turn"); v != 1 {
		t.Errorf("Expected 1 stale write, got %v", v)
	}
	if v := counterValue(t, reg, "quizbattle_battles_ended_total", "unknown"); v != 1 {
		t.Errorf("Expected an empty reason to be labelled unknown, got %v", v)
	}
	if v := counterValue(t, reg, "quizbattle_polls_total", "error"); v != 1 {
		t.Errorf("Expected 1 failed poll, got %v", v)
	}
}

func TestMonitor_Handler(t *testing.T) {
	mon := NewMonitor("quizbattle", prometheus.NewRegistry())
	mon.Metrics().BattleStarted()

	rec := httptest.NewRecorder()
	mon.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "quizbattle_active_battles 1") {
		t.Errorf("Expected active battles gauge in output:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mon.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Body.String() != "ok" {
		t.Errorf("Unexpected health body %q", rec.Body.String())
	}
}
