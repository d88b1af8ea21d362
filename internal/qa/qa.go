// Package qa defines the question-answering backend boundary and its
// implementations. A backend receives one user question and returns one
// answer; conversation memory lives upstream.
package qa

import (
	"context"
	"fmt"
)

// Asker is the QA backend boundary. Implementations must be safe for
// concurrent use and honor context cancellation.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// BackendError wraps any upstream QA failure: transport errors, non-2xx
// responses, malformed or empty answers. Callers substitute a fallback
// reply instead of propagating it to the user.
type BackendError struct {
	Provider string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("qa backend %s: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
