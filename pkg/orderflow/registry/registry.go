// Package registry holds the fixed, ordered sequence of saga steps (C1).
//
// Steps are stateless singletons: all per-execution state lives in the
// sagactx.Context passed to Execute and Compensate. The registry itself is
// immutable once built, mirroring the teacher flowgraph package's
// Orchestrator.Register/MustRegister: validate once at construction, then
// never mutate again at runtime.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ordersys/sagaorchestrator/pkg/orderflow/sagactx"
)

// Validity classifies a previously completed step's stored result for the
// purposes of retry planning (C6).
type Validity int

const (
	// Valid means the side effect is still good; the step may be skipped.
	Valid Validity = iota
	// Refreshable means the side effect is stale but extendable; the
	// planner treats this the same as MustReexecute (the step becomes the
	// resume point) but records are allowed to note the softer reason.
	Refreshable
	// MustReexecute means the side effect must be redone from scratch.
	MustReexecute
)

// String renders the validity for logs and timeline entries.
func (v Validity) String() string {
	switch v {
	case Valid:
		return "VALID"
	case Refreshable:
		return "REFRESHABLE"
	case MustReexecute:
		return "MUST_REEXECUTE"
	default:
		return "UNKNOWN"
	}
}

// ExecuteResult is what a step's forward action reports back to the
// executor (C3).
type ExecuteResult struct {
	Success      bool
	Data         map[string]string
	ErrorCode    string
	ErrorMessage string
}

// CompensateResult is what a step's rollback action reports back to the
// compensation orchestrator (C4).
type CompensateResult struct {
	Success bool
	Message string
}

// Step is one stage of the fixed saga pipeline.
type Step struct {
	// Name is stable and unique within the registry.
	Name string

	// Order is the step's 1-based position. Dense, starting at 1.
	Order int

	// Execute performs the step's forward side effect against a
	// collaborator. It must not panic; an unexpected fault is caught by the
	// executor and converted into a Failed outcome (§4.3 step 5).
	Execute func(ctx context.Context, sc *sagactx.Context) ExecuteResult

	// Compensate reverses Execute's side effect, reading whatever Execute
	// wrote into sc.Data.
	Compensate func(ctx context.Context, sc *sagactx.Context) CompensateResult

	// ResultValidity classifies a stored result from a prior execution for
	// retry planning. storedData is the step's persisted stepData; sc
	// carries the retry's new request inputs (payment method, shipping
	// address) so a step can detect that an input it depends on changed
	// between attempts and force MustReexecute even within its TTL.
	ResultValidity func(storedData map[string]string, sc *sagactx.Context, now time.Time) Validity
}

// Registry is the immutable, ordered list of steps.
type Registry struct {
	steps []Step
}

// New validates and builds a Registry from an ordered step list.
//
// Reordering the default three-step pipeline (or adding a step) requires a
// deliberate migration: existing SagaStepResult rows carry a stepOrder and
// stepName that must remain meaningful for prior executions.
func New(steps []Step) (*Registry, error) {
	if len(steps) == 0 {
		return nil, errors.New("registry: at least one step is required")
	}

	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.Name == "" {
			return nil, fmt.Errorf("registry: step %d: name is required", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("registry: step %q: duplicate name", s.Name)
		}
		seen[s.Name] = true

		if s.Order != i+1 {
			return nil, fmt.Errorf("registry: step %q: order must be dense from 1, got %d at position %d", s.Name, s.Order, i)
		}
		if s.Execute == nil {
			return nil, fmt.Errorf("registry: step %q: execute is required", s.Name)
		}
		if s.Compensate == nil {
			return nil, fmt.Errorf("registry: step %q: compensate is required", s.Name)
		}
		if s.ResultValidity == nil {
			return nil, fmt.Errorf("registry: step %q: resultValidity is required", s.Name)
		}
	}

	out := make([]Step, len(steps))
	copy(out, steps)
	return &Registry{steps: out}, nil
}

// MustNew is New, panicking on error. Intended for package-level wiring at
// process startup, where a malformed registry is a programming error.
func MustNew(steps []Step) *Registry {
	r, err := New(steps)
	if err != nil {
		panic(err)
	}
	return r
}

// OrderedSteps returns the fixed sequence, in saga order.
func (r *Registry) OrderedSteps() []Step {
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// StepAt returns the step at a given 1-based order, or false if out of range.
func (r *Registry) StepAt(order int) (Step, bool) {
	if order < 1 || order > len(r.steps) {
		return Step{}, false
	}
	return r.steps[order-1], true
}

// StepByName finds a step by its stable name.
func (r *Registry) StepByName(name string) (Step, bool) {
	for _, s := range r.steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}

// Len returns the number of steps in the pipeline.
func (r *Registry) Len() int {
	return len(r.steps)
}
