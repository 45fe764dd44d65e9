package types

import (
	"testing"
	"time"
)

func TestChunkState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ChunkState
		want     bool
	}{
		{ChunkActive, ChunkActive, true},
		{ChunkActive, ChunkSealed, true},
		{ChunkActive, ChunkCompressed, false},
		{ChunkActive, ChunkExpired, true},
		{ChunkSealed, ChunkSealed, true},
		{ChunkSealed, ChunkCompressed, true},
		{ChunkSealed, ChunkActive, false},
		{ChunkSealed, ChunkExpired, true},
		{ChunkCompressed, ChunkExpired, true},
		{ChunkCompressed, ChunkSealed, false},
		{ChunkCompressed, ChunkActive, false},
		{ChunkExpired, ChunkActive, false},
		{ChunkExpired, ChunkExpired, true},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMetricStats_Add(t *testing.T) {
	var m MetricStats
	for _, v := range []float64{5, 7, 3, 9} {
		m.Add(v)
	}
	if m.Count != 4 {
		t.Errorf("Count = %d, want 4", m.Count)
	}
	if m.Sum != 24 {
		t.Errorf("Sum = %v, want 24", m.Sum)
	}
	if m.Min != 3 {
		t.Errorf("Min = %v, want 3", m.Min)
	}
	if m.Max != 9 {
		t.Errorf("Max = %v, want 9", m.Max)
	}
	if m.Avg != 6 {
		t.Errorf("Avg = %v, want 6", m.Avg)
	}
}

func TestMetricStats_AddNegative(t *testing.T) {
	var m MetricStats
	m.Add(-4)
	if m.Min != -4 || m.Max != -4 {
		t.Errorf("single negative value: Min = %v, Max = %v, want -4", m.Min, m.Max)
	}
	m.Add(2)
	if m.Min != -4 || m.Max != 2 {
		t.Errorf("Min = %v, Max = %v, want -4 and 2", m.Min, m.Max)
	}
}

func TestHourStart(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 37, 11, 0, time.UTC)
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	if got := HourStart(ts.UnixMilli()); got != want {
		t.Errorf("HourStart = %d, want %d", got, want)
	}

	aligned := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	if got := HourStart(aligned); got != aligned {
		t.Errorf("aligned timestamp moved: %d -> %d", aligned, got)
	}
}

func TestParseStream(t *testing.T) {
	for _, s := range AllStreams() {
		got, err := ParseStream(s.String())
		if err != nil {
			t.Errorf("ParseStream(%q): %v", s.String(), err)
		}
		if got != s {
			t.Errorf("ParseStream(%q) = %v, want %v", s.String(), got, s)
		}
	}
	if _, err := ParseStream("metrics"); err == nil {
		t.Error("expected error for unknown stream")
	}
}

func TestStatusBucket_Percentiles(t *testing.T) {
	var b StatusBucket
	if b.BikesP50 != nil || b.BikesP95 != nil {
		t.Fatal("percentiles should start nil")
	}
	b.SetPercentiles(4.5, 9.0)
	if b.BikesP50 == nil || *b.BikesP50 != 4.5 {
		t.Errorf("BikesP50 = %v", b.BikesP50)
	}
	if b.BikesP95 == nil || *b.BikesP95 != 9.0 {
		t.Errorf("BikesP95 = %v", b.BikesP95)
	}
}
