package utils

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestMeasureLatency(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	avg, err := MeasureLatency(server.URL, 3)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if avg <= 0 {
		t.Errorf("Expected positive latency, got %f", avg)
	}
	if hits.Load() != 3 {
		t.Errorf("Expected 3 probes, got %d", hits.Load())
	}
}

func TestMeasureLatencyMinimumSamples(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	if _, err := MeasureLatency(server.URL, 0); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("Expected zero samples to clamp to 1 probe, got %d", hits.Load())
	}
}

func TestMeasureLatencyErrorStatusStillCounts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	avg, err := MeasureLatency(server.URL, 1)
	if err != nil {
		t.Fatalf("Expected non-200 status to still measure, got: %v", err)
	}
	if avg <= 0 {
		t.Errorf("Expected positive latency, got %f", avg)
	}
}

func TestMeasureLatencyUnreachable(t *testing.T) {
	_, err := MeasureLatency("http://127.0.0.1:1", 1)
	if err == nil {
		t.Fatal("Expected error for unreachable endpoint")
	}
}
