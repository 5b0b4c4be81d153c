package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const protocolTracerName = "agentwire-protocol"

func protocolTracer() trace.Tracer {
	return Tracer(protocolTracerName)
}

// TraceControlRequest starts a span for an outbound control request.
// Caller must call span.End() when the response (or timeout) arrives.
func TraceControlRequest(ctx context.Context, subtype, requestID string) (context.Context, trace.Span) {
	ctx, span := protocolTracer().Start(ctx, "control."+subtype,
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("control.subtype", subtype),
		attribute.String("control.request_id", requestID),
	)
	return ctx, span
}

// TraceControlResponse records the outcome of a control request on the span.
func TraceControlResponse(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceQuery starts a span covering one query turn.
// Caller must call span.End() when the turn completes.
func TraceQuery(ctx context.Context, ref, sessionID string) (context.Context, trace.Span) {
	ctx, span := protocolTracer().Start(ctx, "query",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("query.ref", ref),
		attribute.String("session_id", sessionID),
	)
	return ctx, span
}

// TraceMessage creates a single span for a parsed inbound message.
func TraceMessage(ctx context.Context, messageType, sessionID string) {
	_, span := protocolTracer().Start(ctx, "message."+messageType,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("message.type", messageType),
		attribute.String("session_id", sessionID),
	)
}

// TraceHookDispatch creates a single span for a hook callback invocation.
func TraceHookDispatch(ctx context.Context, event, callbackID string, err error) {
	_, span := protocolTracer().Start(ctx, "hook."+event,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("hook.event", event),
		attribute.String("hook.callback_id", callbackID),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// TraceMCPDispatch starts a span for an MCP request routed to an in-process server.
// Caller must call span.End() when the dispatch completes.
func TraceMCPDispatch(ctx context.Context, serverName, method string) (context.Context, trace.Span) {
	ctx, span := protocolTracer().Start(ctx, "mcp."+method,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("mcp.server", serverName),
		attribute.String("mcp.method", method),
	)
	return ctx, span
}

// TraceMCPResponse records the result of an MCP dispatch on the span.
func TraceMCPResponse(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
