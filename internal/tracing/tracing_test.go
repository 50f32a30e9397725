package tracing

import (
	"context"
	"testing"
)

func TestImplementationStringRoundTrip(t *testing.T) {
	for name, impl := range Implementations {
		if impl.String() != name {
			t.Errorf("Implementation(%d).String() = %q, want %q", impl, impl.String(), name)
		}
	}
}

func TestUnknownImplementationString(t *testing.T) {
	var bad Implementation = 99
	if bad.String() != "unknown-tracer" {
		t.Errorf("got %q, want unknown-tracer", bad.String())
	}
}

func TestSetRecorderTracerCapturesSpans(t *testing.T) {
	var captured error
	tr, flush, exporter, err := setRecorderTracer(func(e error) { captured = e }, 1.0)
	defer flush()
	if err != nil {
		t.Fatalf("setRecorderTracer: %v", err)
	}
	_, span := tr.Start(context.Background(), "test-span")
	span.End()

	if len(exporter.Spans()) == 0 {
		t.Fatal("expected at least one exported span")
	}
	if captured != nil {
		t.Fatalf("unexpected exporter error: %v", captured)
	}
}

func TestSetTracerDefaultsToNoop(t *testing.T) {
	flush, err := SetTracer(NoneTracer, "", "svc")
	if err != nil {
		t.Fatalf("SetTracer: %v", err)
	}
	flush()
}
