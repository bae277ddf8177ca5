package memory

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const retrievalTracerName = "recall.retrieval"

const (
	spanRetrieve      = "retrieval.retrieve"
	spanStage1        = "retrieval.stage1"
	spanKeywordSearch = "retrieval.keyword"
	spanVectorSearch  = "retrieval.vector"
	spanGraphSearch   = "retrieval.graph"
	spanFusion        = "retrieval.fusion"
	spanRerank        = "retrieval.rerank"
	spanIndexMutation = "retrieval.index"
)

func retrievalTracer() trace.Tracer {
	return otel.Tracer(retrievalTracerName)
}
