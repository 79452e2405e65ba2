// Package retry runs operations again after typed, recoverable failures.
//
// Two backoff shapes are used by the harvester:
//
//   - ExponentialBackoff for transport failures (connection reset, timeout)
//   - QuantumBackoff for API quota exhaustion, which resumes at the start of
//     the next quota window (the top of the next clock hour by default)
//
// Waiting goes through a clock.Clock so tests can substitute clock.Fake:
//
//	err := retry.Do(ctx, op, &retry.Config{
//		Backoff: &retry.QuantumBackoff{Quantum: time.Hour, Clock: fake},
//		RetryIf: retry.OnTypes(errors.ErrorTypeRateLimit),
//		Clock:   fake,
//	})
package retry
