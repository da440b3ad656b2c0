// Package action defines the dispatch contract between the voice session
// engine and the external action executor.
//
// When the model requests a function call, the engine invokes the configured
// [Dispatcher] synchronously: inbound event processing blocks until the
// action returns, so at most one call is ever in flight. A failing dispatch
// is still answered with a function result so the protocol channel never
// stalls.
package action

import (
	"context"
	"fmt"
)

// Dispatcher executes a named action on behalf of the model.
//
// Dispatch blocks until the action completes and returns its output (a
// JSON-encoded string injected back into the conversation) or an error.
// Implementations must be safe for concurrent use even though the engine
// serialises calls.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string) (string, error)
}

// DispatcherFunc adapts a plain function to the [Dispatcher] interface.
type DispatcherFunc func(ctx context.Context, name string) (string, error)

// Dispatch implements [Dispatcher].
func (f DispatcherFunc) Dispatch(ctx context.Context, name string) (string, error) {
	return f(ctx, name)
}

// DispatchError reports that an action failed or was not found. The session
// survives a DispatchError: the engine reports the failure back to the
// service as the function result.
type DispatchError struct {
	// Name is the action name as requested by the model.
	Name string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("action: dispatch %q: %v", e.Name, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DispatchError) Unwrap() error { return e.Err }
