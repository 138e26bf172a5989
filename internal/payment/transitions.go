package payment

// AttemptStatus is the state of a payment attempt.
type AttemptStatus string

const (
	AttemptRequiresAction AttemptStatus = "requires_action"
	AttemptProcessing     AttemptStatus = "processing"
	AttemptSucceeded      AttemptStatus = "succeeded"
	AttemptFailed         AttemptStatus = "failed"
	AttemptCanceled       AttemptStatus = "canceled"
)

// RefundStatus is the state of a refund.
type RefundStatus string

const (
	RefundProcessing RefundStatus = "processing"
	RefundSucceeded  RefundStatus = "succeeded"
	RefundFailed     RefundStatus = "failed"
)

// Transition describes what applying a target status to a current one does.
type Transition int

const (
	// TransitionApply moves the entity to the target status.
	TransitionApply Transition = iota
	// TransitionNoop means the entity is already in the target status.
	TransitionNoop
	// TransitionReject means the move is not allowed, typically a late
	// event arriving after a terminal state.
	TransitionReject
)

func (t Transition) String() string {
	switch t {
	case TransitionApply:
		return "apply"
	case TransitionNoop:
		return "noop"
	default:
		return "reject"
	}
}

var attemptTransitions = map[AttemptStatus][]AttemptStatus{
	AttemptRequiresAction: {AttemptProcessing, AttemptSucceeded, AttemptFailed, AttemptCanceled},
	AttemptProcessing:     {AttemptSucceeded, AttemptFailed},
	AttemptSucceeded:      {},
	AttemptFailed:         {},
	AttemptCanceled:       {},
}

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundProcessing: {RefundSucceeded, RefundFailed},
	RefundSucceeded:  {},
	RefundFailed:     {},
}

// PlanAttemptTransition reports how moving an attempt from one status to
// another should be handled.
func PlanAttemptTransition(from, to AttemptStatus) Transition {
	if from == to {
		return TransitionNoop
	}
	for _, s := range attemptTransitions[from] {
		if s == to {
			return TransitionApply
		}
	}
	return TransitionReject
}

// PlanRefundTransition reports how moving a refund from one status to
// another should be handled.
func PlanRefundTransition(from, to RefundStatus) Transition {
	if from == to {
		return TransitionNoop
	}
	for _, s := range refundTransitions[from] {
		if s == to {
			return TransitionApply
		}
	}
	return TransitionReject
}

// IsTerminal reports whether no further transitions are possible.
func (s AttemptStatus) IsTerminal() bool {
	next, ok := attemptTransitions[s]
	return ok && len(next) == 0
}

// IsTerminal reports whether no further transitions are possible.
func (s RefundStatus) IsTerminal() bool {
	next, ok := refundTransitions[s]
	return ok && len(next) == 0
}
