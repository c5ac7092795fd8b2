package room

import (
	"fmt"

	apperrors "github.com/louisbranch/fundraising.space/internal/platform/errors"
)

// Phase is the lifecycle label of a room.
type Phase string

const (
	PhaseUnspecified     Phase = ""
	PhaseAwaitingFunding Phase = "awaiting_funding"
	PhaseReady           Phase = "ready"
	PhaseActive          Phase = "active"
	PhaseWinnersDeclared Phase = "winners_declared"
	PhaseEnded           Phase = "ended"
	PhaseCleanedUp       Phase = "cleaned_up"
)

// rank orders phases along the lifecycle.
func (p Phase) rank() int {
	switch p {
	case PhaseAwaitingFunding:
		return 1
	case PhaseReady:
		return 2
	case PhaseActive:
		return 3
	case PhaseWinnersDeclared:
		return 4
	case PhaseEnded:
		return 5
	case PhaseCleanedUp:
		return 6
	default:
		return 0
	}
}

// AtLeast reports whether p is at or past other in the lifecycle.
func (p Phase) AtLeast(other Phase) bool {
	return p.rank() >= other.rank()
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.rank() > 0
}

// IsPhaseTransitionAllowed reports whether a room may move from one phase to
// another.
func IsPhaseTransitionAllowed(from, to Phase) bool {
	switch from {
	case PhaseUnspecified:
		return to == PhaseAwaitingFunding || to == PhaseReady
	case PhaseAwaitingFunding:
		return to == PhaseAwaitingFunding || to == PhaseReady || to == PhaseEnded
	case PhaseReady:
		return to == PhaseActive || to == PhaseEnded
	case PhaseActive:
		return to == PhaseActive || to == PhaseWinnersDeclared || to == PhaseEnded
	case PhaseWinnersDeclared:
		return to == PhaseEnded
	case PhaseEnded:
		return to == PhaseCleanedUp
	default:
		return false
	}
}

// Operation names a room transition for phase checks.
type Operation string

const (
	OpDepositPrize   Operation = "deposit prize"
	OpJoin           Operation = "join"
	OpCloseJoining   Operation = "close joining"
	OpDeclareWinners Operation = "declare winners"
	OpSettle         Operation = "settle"
	OpRecover        Operation = "recover"
	OpCleanup        Operation = "clean up"
	OpUpdateFees     Operation = "update fees"
)

// ValidateOperation ensures the phase allows the requested operation.
func ValidateOperation(phase Phase, op Operation) error {
	allowed := false
	switch op {
	case OpDepositPrize:
		allowed = phase == PhaseAwaitingFunding
	case OpJoin:
		allowed = phase == PhaseReady || phase == PhaseActive
	case OpCloseJoining, OpDeclareWinners:
		allowed = phase == PhaseActive
	case OpSettle:
		allowed = phase == PhaseWinnersDeclared
	case OpRecover:
		allowed = phase.Valid() && !phase.AtLeast(PhaseEnded)
	case OpCleanup:
		allowed = phase == PhaseEnded
	case OpUpdateFees:
		allowed = phase == PhaseAwaitingFunding || phase == PhaseReady
	}
	if allowed {
		return nil
	}
	return newPhaseOpError(phase, op)
}

func newPhaseOpError(phase Phase, op Operation) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidPhase,
		fmt.Sprintf("cannot %s while room is %s", op, phase),
		map[string]string{"Phase": string(phase), "Operation": string(op)})
}

// UnexpectedPhase is the integrity error for a room found in a phase that a
// completed transition should have ruled out.
func UnexpectedPhase(got, want Phase) error {
	return apperrors.WithMetadata(apperrors.CodeUnexpectedPhase,
		fmt.Sprintf("room is %s, expected %s", got, want),
		map[string]string{"Phase": string(got), "Expected": string(want)})
}
