package visit

import (
	"strings"
	"time"

	"github.com/ehr/clinicbill/internal/platform/apperr"
)

// edges lists the legal forward moves. Cancellation is handled separately:
// it is reachable from every non-terminal state.
var edges = map[Status][]Status{
	StatusPending:         {StatusRegistered, StatusWaiting, StatusInExamination},
	StatusRegistered:      {StatusWaiting},
	StatusWaiting:         {StatusInExamination},
	StatusInExamination:   {StatusReadyForBilling},
	StatusReadyForBilling: {StatusCompleted, StatusInExamination},
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

func knownStatus(s Status) bool {
	if IsTerminal(s) {
		return true
	}
	_, ok := edges[s]
	return ok
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	if IsTerminal(from) || !knownStatus(from) {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves v to the target status. Cancellation needs a reason;
// terminal states stamp EndedAt. v is left untouched on error.
func Transition(v *Visit, to Status, reason string, now time.Time) error {
	if !knownStatus(to) {
		return apperr.InvalidTransition("unknown visit status %q", to)
	}
	if !CanTransition(v.Status, to) {
		return apperr.InvalidTransition("visit cannot move from %s to %s", v.Status, to)
	}
	reason = strings.TrimSpace(reason)
	if to == StatusCancelled {
		if reason == "" {
			return apperr.InvalidInput("a reason is required to cancel a visit")
		}
		v.CancelReason = &reason
	}

	v.Status = to
	if IsTerminal(to) && v.EndedAt == nil {
		end := now
		v.EndedAt = &end
	}
	return nil
}
