package memory

import (
	"time"
)

// MetricsRecorder receives retrieval telemetry. It never influences ranking.
type MetricsRecorder interface {
	RecordRetrieval(status string, duration time.Duration)
	RecordStageDuration(stage string, duration time.Duration)
	RecordCandidates(source string, count int)
	RecordRerankFallback(reason string)
	RecordQueryExpansion()
	RecordCacheLookup(hit bool)
	RecordIndexMutation(operation, status string)
}

type nopMetricsRecorder struct{}

func (nopMetricsRecorder) RecordRetrieval(status string, duration time.Duration)    {}
func (nopMetricsRecorder) RecordStageDuration(stage string, duration time.Duration) {}
func (nopMetricsRecorder) RecordCandidates(source string, count int)                {}
func (nopMetricsRecorder) RecordRerankFallback(reason string)                       {}
func (nopMetricsRecorder) RecordQueryExpansion()                                    {}
func (nopMetricsRecorder) RecordCacheLookup(hit bool)                               {}
func (nopMetricsRecorder) RecordIndexMutation(operation, status string)             {}
