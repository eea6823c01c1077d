package core

import "context"

// NopMetricsRecorder drops every measurement. It stands in when no recorder
// is wired, so the emit sites stay unconditional: per-operation
// social.<operation>.total counters and .duration_ms histograms for
// connect, complete_callback, refresh, disconnect, and publish, plus the
// social.refresh_scan.* pair from the scheduler.
type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}

// cloneTags copies tag maps before they cross the recorder boundary.
func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
