/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

// Package tracing wires the gateway's OpenTelemetry tracer, selecting
// between a stdout exporter (local/dev) and a Jaeger collector, per
// SPEC_FULL.md's ambient-stack tracing section.
package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/api/core"
	"go.opentelemetry.io/otel/api/distributedcontext"
	"go.opentelemetry.io/otel/api/global"
	"go.opentelemetry.io/otel/api/trace"
	"go.opentelemetry.io/otel/plugin/httptrace"
)

// Implementation enumerates the configurable tracer backends (spec
// TracingConfig.Implementation: "none", "stdout", "jaeger").
type Implementation int

const (
	NoneTracer Implementation = iota
	StdoutTracer
	JaegerTracer
)

var (
	implementationStrings = []string{"none", "stdout", "jaeger"}

	// Implementations maps the config string to its enum value.
	Implementations = map[string]Implementation{
		implementationStrings[NoneTracer]:   NoneTracer,
		implementationStrings[StdoutTracer]: StdoutTracer,
		implementationStrings[JaegerTracer]: JaegerTracer,
	}
)

func (t Implementation) String() string {
	if t < NoneTracer || t > JaegerTracer {
		return "unknown-tracer"
	}
	return implementationStrings[t]
}

// Name returns the tracer name this gateway registers spans under.
func Name(serviceName string) string {
	return fmt.Sprintf("yatagarasu/%s", serviceName)
}

// SetTracer installs the global trace provider for implementation t and
// returns a flush/shutdown func. An unrecognized or "none" implementation
// installs a no-op provider rather than failing config load.
func SetTracer(t Implementation, collectorURL, serviceName string) (func(), error) {
	switch t {
	case StdoutTracer:
		return setStdOutTracer()
	case JaegerTracer:
		return setJaegerTracer(collectorURL, serviceName)
	default:
		return func() {}, nil
	}
}

type ctxKey int

const (
	tracerCtxKey ctxKey = iota
	attrKey
	spanCtxKey
)

// GlobalTracer returns the tracer registered under the name stashed in ctx
// by PrepareRequest, or a no-op tracer if none was stashed.
func GlobalTracer(ctx context.Context) trace.Tracer {
	tracerName, ok := ctx.Value(tracerCtxKey).(string)
	if !ok {
		return trace.NoopTracer{}
	}
	return global.TraceProvider().Tracer(tracerName)
}

// PrepareRequest extracts distributed-context propagation headers from r,
// starts a new span named spanName, and returns the request rebound to the
// span's context alongside the span itself. Called once per request at
// pipeline entry.
func PrepareRequest(r *http.Request, tracerName, spanName string) (*http.Request, trace.Span) {
	attrs, entries, spanCtx := httptrace.Extract(r.Context(), r)

	ctx := distributedcontext.WithMap(
		r.Context(),
		distributedcontext.NewMap(distributedcontext.MapUpdate{MultiKV: entries}),
	)
	ctx = context.WithValue(ctx, attrKey, attrs)
	ctx = context.WithValue(ctx, spanCtxKey, spanCtx)
	ctx = context.WithValue(ctx, tracerCtxKey, tracerName)

	tr := global.TraceProvider().Tracer(tracerName)
	ctx, span := tr.Start(ctx, spanName, trace.WithAttributes(attrs...), trace.ChildOf(spanCtx))
	return r.WithContext(ctx), span
}

// SpanFromContext starts a child span under whatever span PrepareRequest
// established on ctx, for pipeline stages that want their own span (cache
// lookup, upstream call, audit enqueue).
func SpanFromContext(ctx context.Context, spanName string) (context.Context, trace.Span) {
	tracerName, _ := ctx.Value(tracerCtxKey).(string)
	tr := global.TraceProvider().Tracer(tracerName)

	attrs, _ := ctx.Value(attrKey).([]core.KeyValue)
	spanCtx, _ := ctx.Value(spanCtxKey).(core.SpanContext)

	return tr.Start(ctx, spanName, trace.WithAttributes(attrs...), trace.ChildOf(spanCtx))
}
