package util

import "testing"

func TestNewStats(t *testing.T) {
	s := NewStats([]float64{4, 1, 7})
	if s.Min != 1 || s.Max != 7 || s.Sum != 12 || s.Mean != 4 {
		t.Errorf("unexpected stats: %+v", s)
	}

	if empty := NewStats(nil); empty != (Stats{}) {
		t.Errorf("expected zero stats for no values, got %+v", empty)
	}
}

func TestSizeHistogram(t *testing.T) {
	h := NewSizeHistogram()

	if h.MedianEstimate() != 0 || h.AverageSize() != 0 {
		t.Fatal("empty histogram should report zero estimates")
	}

	for i := 0; i < 90; i++ {
		h.AddSample(10) // bucket <=16
	}
	for i := 0; i < 10; i++ {
		h.AddSample(1000) // bucket (256, 1024]
	}

	if got := h.GetCount(); got != 100 {
		t.Errorf("expected 100 samples, got %d", got)
	}
	if got := h.AverageSize(); got != (90*10+10*1000)/100 {
		t.Errorf("unexpected average %d", got)
	}
	if got := h.MedianEstimate(); got != 8 {
		t.Errorf("expected median estimate 8, got %d", got)
	}
	if got := h.GetPercentileEstimate(99); got != (256+1024)/2 {
		t.Errorf("expected p99 estimate %d, got %d", (256+1024)/2, got)
	}
	if got := h.GetPercentileEstimate(101); got != 0 {
		t.Errorf("out of range percentile should return 0, got %d", got)
	}

	h.AddSample(1 << 33)
	if got := h.GetPercentileEstimate(100); got != 4294967296*2 {
		t.Errorf("largest bucket estimate wrong: %d", got)
	}
}
