// Package outcome models calls whose failure is absorbed by substituting a
// default value. A Result always carries a usable Value; Err records why the
// default was used.
package outcome

type Result[T any] struct {
	Value T
	Err   error
}

func Ok[T any](value T) Result[T] {
	return Result[T]{Value: value}
}

// Degraded returns a failed result that still carries the fallback value.
func Degraded[T any](fallback T, err error) Result[T] {
	return Result[T]{Value: fallback, Err: err}
}

func (r Result[T]) IsDegraded() bool {
	return r.Err != nil
}

// From converts a conventional (value, error) pair, using fallback on error.
func From[T any](value T, err error, fallback T) Result[T] {
	if err != nil {
		return Degraded(fallback, err)
	}
	return Ok(value)
}
