package metrics

import "time"

// Sink receives edit pipeline events. Implementations must be safe for
// concurrent use.
type Sink interface {
	// Attempt records one remote call. variant is "original" or "compressed";
	// outcome is "success" or an error kind.
	Attempt(variant, outcome string, elapsed time.Duration)
	// Request records the terminal outcome of an edit request.
	Request(outcome string, elapsed time.Duration)
	// Artifacts records how many images were delivered for one request.
	Artifacts(n int)
	// Denied records a gate denial.
	Denied(reason string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Attempt(string, string, time.Duration) {}
func (Nop) Request(string, time.Duration)         {}
func (Nop) Artifacts(int)                         {}
func (Nop) Denied(string)                         {}

// EMF writes one EMF document per event. Used by the Lambda entry point.
type EMF struct {
	Namespace string
}

func (e EMF) namespace() string {
	if e.Namespace == "" {
		return EMFNamespace
	}
	return e.Namespace
}

func (e EMF) Attempt(variant, outcome string, elapsed time.Duration) {
	New(e.namespace()).
		Dimension("Operation", "attempt").
		Dimension("Variant", variant).
		Count("AttemptCount").
		Duration("AttemptLatencyMs", elapsed).
		Property("outcome", outcome).
		Flush()
}

func (e EMF) Request(outcome string, elapsed time.Duration) {
	r := New(e.namespace()).
		Dimension("Operation", "edit").
		Count("EditCount").
		Duration("EditLatencyMs", elapsed).
		Property("outcome", outcome)
	if outcome != "success" {
		r.Count("EditErrors")
	}
	r.Flush()
}

func (e EMF) Artifacts(n int) {
	New(e.namespace()).
		Dimension("Operation", "edit").
		Metric("ArtifactCount", float64(n), UnitCount).
		Flush()
}

func (e EMF) Denied(reason string) {
	New(e.namespace()).
		Dimension("Operation", "gate").
		Dimension("Reason", reason).
		Count("DeniedCount").
		Flush()
}
