package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// captureEMF redirects flushed documents into a buffer for the test.
func captureEMF(t *testing.T) *bytes.Buffer {
	t.Helper()
	initOnce.Do(func() {})
	functionName = ""
	var buf bytes.Buffer
	old := emfOutput
	emfOutput = &buf
	t.Cleanup(func() { emfOutput = old })
	return &buf
}

func TestNew_AutoDimension(t *testing.T) {
	captureEMF(t)
	functionName = "grok-edit-lambda"

	r := New("TestNamespace")
	if r.namespace != "TestNamespace" {
		t.Errorf("expected namespace TestNamespace, got %s", r.namespace)
	}
	if r.dimensions["FunctionName"] != "grok-edit-lambda" {
		t.Errorf("expected FunctionName dimension, got %q", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	buf := captureEMF(t)

	New(EMFNamespace).
		Dimension("Operation", "attempt").
		Duration("AttemptLatencyMs", 1500*time.Millisecond).
		Count("AttemptCount").
		Property("taskId", "ab12cd34").
		Flush()

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse EMF output as JSON: %v\nOutput: %s", err, buf.String())
	}

	awsMap, ok := doc["_aws"].(map[string]any)
	if !ok {
		t.Fatal("missing _aws directive in EMF output")
	}
	if _, ok := awsMap["Timestamp"]; !ok {
		t.Error("missing Timestamp in _aws directive")
	}
	cwArr, ok := awsMap["CloudWatchMetrics"].([]any)
	if !ok || len(cwArr) == 0 {
		t.Fatal("CloudWatchMetrics should be a non-empty array")
	}
	cw := cwArr[0].(map[string]any)
	if cw["Namespace"] != EMFNamespace {
		t.Errorf("expected namespace %s, got %v", EMFNamespace, cw["Namespace"])
	}
	defs := cw["Metrics"].([]any)
	if len(defs) != 2 || defs[0].(map[string]any)["Name"] != "AttemptCount" {
		t.Errorf("metric definitions should be sorted by name, got %v", defs)
	}

	if doc["Operation"] != "attempt" {
		t.Errorf("expected Operation=attempt, got %v", doc["Operation"])
	}
	if doc["AttemptLatencyMs"] != 1500.0 {
		t.Errorf("expected AttemptLatencyMs=1500, got %v", doc["AttemptLatencyMs"])
	}
	if doc["taskId"] != "ab12cd34" {
		t.Errorf("expected taskId property, got %v", doc["taskId"])
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := captureEMF(t)

	New("Test").Dimension("Operation", "noop").Flush()

	if buf.Len() != 0 {
		t.Errorf("expected no output for empty recorder, got: %s", buf.String())
	}
}

func TestRecorder_Chaining(t *testing.T) {
	captureEMF(t)
	rec := New("Test").
		Dimension("Op", "test").
		Metric("Bytes", 2048, UnitBytes).
		Count("Calls").
		Property("id", "xyz")

	if rec.dimensions["Op"] != "test" {
		t.Error("chaining Dimension failed")
	}
	if rec.values["Bytes"] != float64(2048) {
		t.Error("chaining Metric failed")
	}
	if m := rec.metrics["Calls"]; m.Unit != UnitCount {
		t.Errorf("expected unit Count, got %v", m.Unit)
	}
	if rec.properties["id"] != "xyz" {
		t.Error("chaining Property failed")
	}
}

func TestEMFSink_OneLinePerEvent(t *testing.T) {
	buf := captureEMF(t)
	sink := EMF{}

	sink.Attempt("compressed", "success", time.Second)
	sink.Request("network", 3*time.Second)
	sink.Denied("rate-limited")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 EMF lines, got %d:\n%s", len(lines), buf.String())
	}
	var req map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &req); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if req["EditErrors"] != float64(1) {
		t.Errorf("failed request should count EditErrors, got %v", req["EditErrors"])
	}
}

func TestPrometheusSink(t *testing.T) {
	var sink Sink = Prometheus{}
	before := testutil.ToFloat64(DeniedTotal.WithLabelValues("group-blocked"))

	sink.Denied("group-blocked")
	sink.Attempt("original", "success", 2*time.Second)

	if got := testutil.ToFloat64(DeniedTotal.WithLabelValues("group-blocked")); got != before+1 {
		t.Errorf("denied counter = %v, want %v", got, before+1)
	}
	if got := testutil.ToFloat64(AttemptsTotal.WithLabelValues("original", "success")); got < 1 {
		t.Errorf("attempt counter = %v, want >= 1", got)
	}
}
