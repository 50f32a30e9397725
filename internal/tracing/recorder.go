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

package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"go.opentelemetry.io/otel/api/trace"
	export "go.opentelemetry.io/otel/sdk/export/trace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// errorFunc receives exporter errors the recorder cannot otherwise surface.
type errorFunc func(error)

// recorderExporter buffers exported spans as newline-delimited JSON and
// keeps them in memory for test assertions — used only by this package's
// own tests, never wired into production tracer selection.
type recorderExporter struct {
	io.Reader
	outputWriter io.Writer
	spans        []*export.SpanData
	errorFunc    errorFunc
}

func newRecorder(ef errorFunc) (*recorderExporter, error) {
	buf := new(bytes.Buffer)
	return &recorderExporter{buf, buf, nil, ef}, nil
}

// ExportSpan writes a SpanData in JSON form to the internal buffer and
// retains it for later inspection via Spans().
func (e *recorderExporter) ExportSpan(ctx context.Context, data *export.SpanData) {
	jsonSpan, err := json.Marshal(data)
	if err != nil {
		e.errorFunc(err)
		return
	}
	e.spans = append(e.spans, data)
	_, _ = e.outputWriter.Write(append(jsonSpan, byte('\n')))
}

// Spans returns every span exported so far.
func (e *recorderExporter) Spans() []*export.SpanData {
	return e.spans
}

func setRecorderTracer(ef errorFunc, sampleRate float64) (trace.Tracer, func(), *recorderExporter, error) {
	noop := func() {}
	exporter, _ := newRecorder(ef)

	tp, err := sdktrace.NewProvider(
		sdktrace.WithConfig(sdktrace.Config{DefaultSampler: sdktrace.ProbabilitySampler(sampleRate)}),
		sdktrace.WithSyncer(exporter))
	if err != nil {
		return nil, noop, nil, err
	}
	return tp.Tracer(""), noop, exporter, nil
}
