package payout

import "time"

// =============================================================================
// PERIOD LIFECYCLE
// =============================================================================

// transitions lists the allowed status moves. sent->draft and paid->sent are
// corrective rollbacks.
var transitions = map[PeriodStatus][]PeriodStatus{
	StatusDraft: {StatusSent},
	StatusSent:  {StatusPaid, StatusDraft},
	StatusPaid:  {StatusSent},
}

// ValidateTransition checks a status change against the lifecycle.
func ValidateTransition(from, to PeriodStatus) error {
	if !to.Valid() {
		return &InvalidTransitionError{From: from, To: to}
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to}
}

// Transition returns a copy of p moved to the target status, stamping
// SentAt/PaidAt on the forward moves. p is left unchanged on error.
func (p Period) Transition(to PeriodStatus, at time.Time) (Period, error) {
	if err := ValidateTransition(p.Status, to); err != nil {
		return p, err
	}
	next := p
	next.Status = to
	switch to {
	case StatusSent:
		if p.Status == StatusDraft {
			next.SentAt = &at
		}
	case StatusPaid:
		next.PaidAt = &at
	case StatusDraft:
		next.SentAt = nil
	}
	return next, nil
}
