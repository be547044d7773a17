// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package workflow runs multi-step retrievals where each step's request is
// configured from the previous step's result, such as PubMed's search-then-
// summarize sequence.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/research-harvester/internal/logging"
	"github.com/pdiddy/research-harvester/pkg/types"
)

var (
	// ErrStepFailed matches every *StepError.
	ErrStepFailed = errors.New("workflow step failed")

	// ErrMissingInput is returned by Configure functions when the previous
	// step produced nothing to work with.
	ErrMissingInput = errors.New("previous step produced no usable input")
)

// StepError tags a failure with the index of the step that caused it.
type StepError struct {
	Step  int
	Name  string
	Cause error
}

func (e *StepError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("workflow step %d (%s) failed", e.Step, e.Name)
	}
	return fmt.Sprintf("workflow step %d (%s) failed: %v", e.Step, e.Name, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }

func (e *StepError) Is(target error) bool { return target == ErrStepFailed }

// Params are the effective request parameters of one step.
type Params struct {
	// Provider overrides the searcher's provider for this step.
	Provider string
	// Page overrides the page number; zero keeps the page passed to Run.
	Page   int
	Values map[string]string
}

// Step is an immutable step definition. Configure derives the effective
// parameters from the definition and the previous step's context (nil for
// the first step). It must return fresh values and never modify the
// definition, so a Workflow can run concurrently.
type Step struct {
	Name      string
	Provider  string
	Params    map[string]string
	Configure func(def Step, prev *StepContext) (Params, error)
}

// params applies Configure or the default of copying the definition.
func (s Step) params(prev *StepContext) (Params, error) {
	if s.Configure != nil {
		return s.Configure(s, prev)
	}
	return Params{Provider: s.Provider, Values: maps.Clone(s.Params)}, nil
}

// StepContext records what a step was asked to do and what happened.
type StepContext struct {
	StepNumber int
	Step       Step
	Params     Params
	Result     types.Outcome
}

// Searcher executes a configured step, including rate limiting and retries.
type Searcher interface {
	Provider() string
	FetchStep(ctx context.Context, page int, p Params) types.Outcome
}

// State is a terminal workflow state.
type State string

const (
	Completed     State = "completed"
	HaltedOnError State = "halted_on_error"
)

// Result is the outcome of one run.
type Result struct {
	State      State
	FailedStep int
	Outcome    types.Outcome
	History    []StepContext
}

// Workflow is an ordered list of steps. The zero value of ContinueOnError
// halts at the first failing step.
type Workflow struct {
	Name            string
	Steps           []Step
	ContinueOnError bool

	// Merge combines the history into the final outcome. When nil the last
	// step's outcome is the final outcome.
	Merge func(history []StepContext) types.Outcome

	Log *logrus.Entry
}

// Run executes the steps in order for one page.
func (w *Workflow) Run(ctx context.Context, s Searcher, page int) Result {
	log := logging.OrDiscard(w.Log).WithFields(logrus.Fields{"workflow": w.Name, "page": page})
	history := make([]StepContext, 0, len(w.Steps))
	failed := -1

	for i, step := range w.Steps {
		var prev *StepContext
		if len(history) > 0 {
			prev = &history[len(history)-1]
		}
		stepLog := log.WithFields(logrus.Fields{"step": i, "name": step.Name})

		params, err := step.params(prev)
		var out types.Outcome
		if err != nil {
			stepLog.WithError(err).Warn("step could not be configured")
			out = types.TransportFailure(&StepError{Step: i, Name: step.Name, Cause: err})
		} else {
			if params.Provider == "" {
				params.Provider = s.Provider()
			}
			p := page
			if params.Page > 0 {
				p = params.Page
			}
			stepLog.WithField("provider", params.Provider).Debug("running step")
			out = s.FetchStep(ctx, p, params)
			if !out.OK() {
				out = out.WithErr(&StepError{Step: i, Name: step.Name, Cause: out.Err})
			}
		}

		history = append(history, StepContext{StepNumber: i, Step: step, Params: params, Result: out})
		if out.OK() {
			continue
		}
		if failed < 0 {
			failed = i
		}
		if !w.ContinueOnError {
			stepLog.WithField("failure", out.String()).Warn("workflow halted")
			return Result{State: HaltedOnError, FailedStep: i, Outcome: out, History: history}
		}
	}

	res := Result{State: Completed, FailedStep: failed, History: history}
	switch {
	case w.Merge != nil:
		res.Outcome = w.Merge(history)
	case len(history) > 0:
		res.Outcome = history[len(history)-1].Result
	default:
		res.Outcome = types.TransportFailure(errors.New("workflow has no steps"))
	}
	return res
}
