package core

import "context"

// NopMetricsRecorder drops every dispatch measurement. The worker uses it
// when the host wires no recorder, so cycle accounting never needs a nil
// check.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}
