package contracts

// RunStatus is a state in the pipeline run state machine.
type RunStatus string

// Pipeline run states. REVIEW_PENDING, COMPLETE and FAILED are the terminal
// statuses an ExecutionRecord may carry; the rest are in-flight order states.
const (
	StatusPending       RunStatus = "PENDING"
	StatusIntakeLocked  RunStatus = "INTAKE_LOCKED"
	StatusGenerating    RunStatus = "GENERATING"
	StatusGenerated     RunStatus = "GENERATED"
	StatusRendering     RunStatus = "RENDERING"
	StatusRendered      RunStatus = "RENDERED"
	StatusReviewPending RunStatus = "REVIEW_PENDING"
	StatusApproved      RunStatus = "APPROVED"
	StatusRejected      RunStatus = "REJECTED"
	StatusDelivering    RunStatus = "DELIVERING"
	StatusComplete      RunStatus = "COMPLETE"
	StatusInfoRequested RunStatus = "INFO_REQUESTED"
	StatusFailed        RunStatus = "FAILED"
)

// transitions is the forward edge set of the run state machine. FAILED is
// reachable from every non-terminal state and is handled in CanTransition.
var transitions = map[RunStatus][]RunStatus{
	StatusPending:       {StatusIntakeLocked},
	StatusIntakeLocked:  {StatusGenerating},
	StatusGenerating:    {StatusGenerated},
	StatusGenerated:     {StatusRendering},
	StatusRendering:     {StatusRendered},
	StatusRendered:      {StatusReviewPending},
	StatusReviewPending: {StatusApproved, StatusRejected},
	StatusApproved:      {StatusDelivering},
	StatusRejected:      {StatusInfoRequested},
	StatusDelivering:    {StatusComplete},
}

// Terminal reports whether s admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanTransition reports whether from/to is a legal state machine edge.
func CanTransition(from, to RunStatus) bool {
	if to == StatusFailed {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
