// Package errors provides the coded error taxonomy used across hourglass.
//
// Core components never return errors to their callers: a missing backing
// store or a corrupt persisted value degrades to an empty or default state.
// The failures are still classified so they can be logged consistently.
//
// # Error Categories
//
//   - Transient: the backing store may come back (closed watcher, network).
//   - Permanent: retrying with the same input will not help.
//   - Internal: unexpected failures and corrupted persisted data.
//
// # Usage
//
//	err := errors.WrapWithCode(cause, errors.ErrCodeCorruption, "decode tasks",
//	    errors.WithKey("tasks"))
//	logger.StorageFailure("load", err)
//
// Check the code of a wrapped error:
//
//	if errors.Is(err, errors.ErrCodeUnavailable) {
//	    // degrade to defaults
//	}
package errors
