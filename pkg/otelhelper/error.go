package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const failedEvent = "siteflow.failed"

// SetError marks span as failed with the error kind of the run or step.
func SetError(span trace.Span, err error, kind string, attrs ...attribute.KeyValue) {
	kindAttr := attribute.String(ErrorKindKey, kind)

	span.SetAttributes(kindAttr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent(failedEvent, trace.WithAttributes(append(attrs, kindAttr)...))
}
