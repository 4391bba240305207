package service

import (
	"context"
	"testing"

	"manifold/internal/rag/generate"
	"manifold/internal/rag/obs"
)

func TestAsk_EmitsMetricsAndShortCircuitsOnGreeting(t *testing.T) {
	metrics := obs.NewMockMetrics()
	s := New(nil, nil, nil, &generate.Service{}, WithMetrics(metrics))

	resp, err := s.Ask(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("ask error: %v", err)
	}
	if resp.Answer == "" {
		t.Fatalf("expected a greeting answer")
	}
	if _, ok := metrics.Hists["ask_ms"]; !ok {
		t.Fatalf("expected ask_ms observations")
	}
}

func TestOptions_OverrideDefaults(t *testing.T) {
	metrics := obs.NewMockMetrics()
	s := New(nil, nil, nil, &generate.Service{}, WithMetrics(metrics), WithLogger(defaultLogger{}), WithClock(SystemClock{}))
	if s.metrics != metrics {
		t.Fatalf("expected WithMetrics to take effect")
	}
}
