package pipeline

// Result is a three-way outcome for a pipeline stage: a usable value, a
// usable-but-degraded value with a reason, or an outright failure. Stages
// never panic or rely on bare errors to signal "keep going but note it" —
// Degraded makes that an explicit, inspectable state instead of an error
// the caller has to interpret.
type Result[T any] struct {
	value    T
	degraded bool
	reason   string
	err      *StructuredError
}

// Ok wraps a fully successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Degraded wraps a usable value produced under a fallback or partial
// failure, recording why.
func Degraded[T any](v T, reason string) Result[T] {
	return Result[T]{value: v, degraded: true, reason: reason}
}

// Failed wraps a terminal stage failure.
func Failed[T any](err *StructuredError) Result[T] {
	var zero T
	return Result[T]{value: zero, err: err}
}

func (r Result[T]) Ok() bool         { return r.err == nil }
func (r Result[T]) IsDegraded() bool { return r.degraded }
func (r Result[T]) Reason() string   { return r.reason }
func (r Result[T]) Err() *StructuredError {
	return r.err
}

// Value returns the wrapped value and whether the result is usable at all
// (Ok or Degraded, not Failed).
func (r Result[T]) Value() (T, bool) {
	return r.value, r.err == nil
}

// Signal builds the StageSignal this result implies for the named stage.
func (r Result[T]) Signal(stage string, durationMS int64) StageSignal {
	return StageSignal{
		Stage:      stage,
		Degraded:   r.degraded,
		Reason:     r.reason,
		DurationMS: durationMS,
	}
}
