package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
)

// minSimilarity is the Jaro-Winkler score below which a requested name is
// not considered a match for any registered action. Realtime models
// occasionally emit near-miss action names ("wave_hand" for "wave_hands");
// fuzzy resolution keeps those dispatchable without letting arbitrary names
// through.
const minSimilarity = 0.85

// ErrUnknownAction is wrapped in the [DispatchError] returned when no
// registered action matches the requested name, fuzzily or otherwise.
var ErrUnknownAction = errors.New("unknown action")

// Func is one registered action implementation.
type Func func(ctx context.Context) (string, error)

// Registry is an in-process [Dispatcher] mapping action names to Go
// functions. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Func
}

// Compile-time assertion that Registry satisfies the Dispatcher interface.
var _ Dispatcher = (*Registry)(nil)

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Func)}
}

// Register adds fn under name, replacing any previous registration.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = fn
}

// Names returns the registered action names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for n := range r.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Dispatch implements [Dispatcher]. The requested name is resolved exactly
// first, then by closest Jaro-Winkler similarity among registered names.
// Returns a [*DispatchError] when no action matches or the action fails.
func (r *Registry) Dispatch(ctx context.Context, name string) (string, error) {
	fn, resolved, ok := r.resolve(name)
	if !ok {
		return "", &DispatchError{Name: name, Err: ErrUnknownAction}
	}

	out, err := fn(ctx)
	if err != nil {
		return "", &DispatchError{Name: resolved, Err: err}
	}
	return out, nil
}

// resolve finds the implementation for name, fuzzily if needed, and returns
// the canonical resolved name.
func (r *Registry) resolve(name string) (Func, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.actions[name]; ok {
		return fn, name, true
	}

	lower := strings.ToLower(name)
	var (
		best      string
		bestScore float64
	)
	for candidate := range r.actions {
		score := matchr.JaroWinkler(lower, strings.ToLower(candidate), false)
		if score > bestScore {
			best, bestScore = candidate, score
		}
	}
	if bestScore < minSimilarity {
		return nil, "", false
	}
	return r.actions[best], best, true
}

// FailureResult renders err as the JSON function-result payload sent back to
// the service when dispatch fails.
func FailureResult(err error) string {
	return fmt.Sprintf(`{"error": %q}`, err.Error())
}
