// Package mock provides an in-memory mock implementation of the
// [action.Dispatcher] interface for use in unit tests.
//
// The mock records every dispatched name so tests can assert on call counts
// and arguments, and exposes exported fields controlling return values.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicewire/pkg/action"
)

// Dispatcher is a mock implementation of [action.Dispatcher].
// Set the exported Result fields before use; inspect Calls after.
type Dispatcher struct {
	mu sync.Mutex

	// Result is returned by every Dispatch call.
	Result string

	// Err is returned by every Dispatch call when non-nil.
	Err error

	// Block makes Dispatch wait until ctx is done, simulating a
	// long-running action.
	Block bool

	// Calls holds the action names passed to Dispatch, in order.
	Calls []string
}

// Compile-time assertion that Dispatcher satisfies the action interface.
var _ action.Dispatcher = (*Dispatcher)(nil)

// Dispatch implements [action.Dispatcher].
func (d *Dispatcher) Dispatch(ctx context.Context, name string) (string, error) {
	d.mu.Lock()
	d.Calls = append(d.Calls, name)
	block := d.Block
	result, err := d.Result, d.Err
	d.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return result, err
}

// DispatchedNames returns a snapshot copy of all names dispatched so far.
func (d *Dispatcher) DispatchedNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.Calls))
	copy(out, d.Calls)
	return out
}
