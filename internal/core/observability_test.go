package core

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestExpvarRecorderAggregates(t *testing.T) {
	ctx := context.Background()
	rec := NewExpvarMetricsRecorder("")

	rec.Observe(ctx, "create_family", true, 10*time.Millisecond)
	rec.Observe(ctx, "create_family", true, 5*time.Millisecond)
	rec.Observe(ctx, "create_family", false, 2*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second) // ignored

	snap := rec.Snapshot()
	if got := snap.DurationsMS["create_family"]; got != 17 {
		t.Fatalf("durations = %f ms, want 17", got)
	}
	results := snap.Results["create_family"]
	if results["success"] != 2 || results["error"] != 1 {
		t.Fatalf("results = %v", results)
	}
	if len(snap.DurationsMS) != 1 {
		t.Fatalf("empty operation recorded: %v", snap.DurationsMS)
	}
}

func TestExpvarRecorderGeneratesUniqueNames(t *testing.T) {
	a := NewExpvarMetricsRecorder("")
	b := NewExpvarMetricsRecorder("")
	if a.Name() == b.Name() {
		t.Fatalf("generated names collide: %s", a.Name())
	}
}

func TestPrometheusRecorderRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("NewPrometheusMetricsRecorder: %v", err)
	}
	rec.Observe(context.Background(), "deliver_baby", true, 3*time.Millisecond)
	rec.Observe(context.Background(), "deliver_baby", false, time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	if !found["villagecore_engine_operation_duration_seconds"] {
		t.Fatal("duration histogram not registered")
	}
	if !found["villagecore_engine_operation_results_total"] {
		t.Fatal("result counter not registered")
	}

	// Double registration on the same registry must fail.
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatal("second registration succeeded")
	}
}
