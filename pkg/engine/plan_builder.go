package engine

import (
	"context"

	"github.com/stackmason/stackmason/pkg/plan"
	"github.com/stackmason/stackmason/pkg/stack"
)

// StackRunner launches one stack and returns its terminal status.
type StackRunner func(ctx context.Context, s *stack.Stack) (Status, error)

// NewPlan builds the dependency-ordered plan over the stack collection: one
// step per stack keyed by config-relative name, requires edges from each
// stack's effective dependency set. Unknown dependency names and cycles are
// rejected here, before anything runs.
//
// A dependency completing in any terminal status unblocks its dependents;
// only a failed run function withholds them. The record callback receives
// each stack's status as it is produced.
func NewPlan(description string, stacks []*stack.Stack, runner StackRunner, record func(name string, status Status)) (*plan.Plan, error) {
	// A nil runner builds a render-only plan for outlining and DOT output.
	// Executing one anyway skips every stack instead of panicking.
	if runner == nil {
		runner = func(context.Context, *stack.Stack) (Status, error) {
			return NotSubmittedStatus(), nil
		}
	}

	steps := make([]plan.Step, 0, len(stacks))

	for _, s := range stacks {
		s := s
		steps = append(steps, plan.Step{
			Key:      s.Name,
			Requires: s.Requires(),
			Run: func(ctx context.Context) (string, error) {
				status, err := runner(ctx, s)
				if err != nil {
					return "", err
				}
				if record != nil {
					record(s.Name, status)
				}
				return status.String(), nil
			},
		})
	}

	return plan.New(description, steps)
}
