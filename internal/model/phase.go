package model

import "fmt"

// Phase is a RunController state.
type Phase string

const (
	PhaseDiscover  Phase = "discover"
	PhasePlan      Phase = "plan"
	PhaseProcess   Phase = "process_chunk"
	PhaseSummarize Phase = "summarize"
	PhaseDone      Phase = "done"
)

var allowedTransitions = map[Phase]map[Phase]bool{
	"": {
		PhaseDiscover: true,
	},
	PhaseDiscover: {
		PhasePlan:      true,
		PhaseSummarize: true, // nothing pending
	},
	PhasePlan: {
		PhaseProcess:   true,
		PhaseSummarize: true,
	},
	PhaseProcess: {
		PhaseProcess:   true,
		PhaseSummarize: true,
	},
	PhaseSummarize: {
		PhaseDone: true,
	},
	PhaseDone: {},
}

func CanTransition(from, to Phase) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// TransitionPhase moves *current to next or reports an illegal step.
func TransitionPhase(current *Phase, next Phase) error {
	if !CanTransition(*current, next) {
		return fmt.Errorf("invalid run phase transition: %q -> %q", *current, next)
	}
	*current = next
	return nil
}

// Chunk outcomes.
const (
	OutcomeSucceeded   = "succeeded"
	OutcomePartial     = "partial"
	OutcomeFailed      = "failed"
	OutcomeSkipped     = "skipped"
	OutcomeInterrupted = "interrupted"
)

// Failure reasons written to the failure log.
const (
	ReasonQuarantined      = "quarantined"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonMissingOutput    = "missing_output"
)
