// Package progress derives and mutates the completion state of a project's
// phase tree. Every function here is pure: inputs are never modified.
package progress

import (
	"fmt"

	"github.com/vbonduro/buildtrack/internal/domain"
)

// Policy selects how a phase's status follows its checkpoints.
type Policy int

const (
	// PolicyManualCycle leaves phase status entirely to explicit user action.
	PolicyManualCycle Policy = iota
	// PolicyDerivedRollup recomputes the parent phase whenever a checkpoint
	// status changes.
	PolicyDerivedRollup
)

func (p Policy) String() string {
	if p == PolicyDerivedRollup {
		return "rollup"
	}
	return "manual"
}

// ParsePolicy maps "manual" or "rollup" to a Policy; empty means rollup.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "manual":
		return PolicyManualCycle, nil
	case "rollup", "":
		return PolicyDerivedRollup, nil
	}
	return 0, fmt.Errorf("unknown status policy %q", s)
}

// Next returns the status following s in the cycle
// NotStarted -> InProgress -> Done -> NotStarted. Anything unrecognised
// restarts the cycle.
func Next(s domain.Status) domain.Status {
	switch s {
	case domain.StatusNotStarted:
		return domain.StatusInProgress
	case domain.StatusInProgress:
		return domain.StatusDone
	default:
		return domain.StatusNotStarted
	}
}

// RecomputePhaseStatus derives a phase status from its checkpoints. A phase
// without checkpoints keeps its current status; all Done gives Done, all
// NotStarted gives NotStarted and any mixture gives InProgress.
func RecomputePhaseStatus(phase domain.Phase) domain.Status {
	if len(phase.Checkpoints) == 0 {
		return phase.Status
	}
	allDone, allNotStarted := true, true
	for _, cp := range phase.Checkpoints {
		if cp.Status != domain.StatusDone {
			allDone = false
		}
		if cp.Status != domain.StatusNotStarted {
			allNotStarted = false
		}
	}
	switch {
	case allDone:
		return domain.StatusDone
	case allNotStarted:
		return domain.StatusNotStarted
	default:
		return domain.StatusInProgress
	}
}
