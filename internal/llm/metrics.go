package llm

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentation = "github.com/comigor/alice-go/internal/llm"

var (
	tracer = otel.Tracer(instrumentation)
	meter  = otel.Meter(instrumentation)

	requestCounter = counter("alice.llm.requests", "Chat requests started, including retries")
	retryCounter   = counter("alice.llm.retries", "Chat requests retried after a transient failure")
	deltaCounter   = counter("alice.llm.deltas", "Streamed text deltas received")
)

func counter(name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return c
}
