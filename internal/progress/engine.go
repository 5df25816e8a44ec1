package progress

import "github.com/vbonduro/buildtrack/internal/domain"

// Engine applies user mutations to a phase snapshot. Each method deep-copies
// the snapshot, applies the change to the copy and returns it. Unknown ids are
// not an error: the untouched copy comes back.
type Engine struct {
	Policy Policy
}

// NewEngine returns an Engine that recomputes phases according to policy.
func NewEngine(policy Policy) Engine {
	return Engine{Policy: policy}
}

func (e Engine) SetFieldValue(phases []domain.Phase, phaseID, checkpointID, fieldID string, v domain.Value) []domain.Phase {
	next := domain.ClonePhases(phases)
	pi, ci, fi := FindField(next, phaseID, checkpointID, fieldID)
	if fi < 0 {
		return next
	}
	next[pi].Checkpoints[ci].Fields[fi].Value = v
	return next
}

// AdvanceCheckpointStatus moves a checkpoint one step through the status
// cycle. Under PolicyDerivedRollup the parent phase is recomputed afterwards.
func (e Engine) AdvanceCheckpointStatus(phases []domain.Phase, phaseID, checkpointID string) []domain.Phase {
	next := domain.ClonePhases(phases)
	pi, ci := FindCheckpoint(next, phaseID, checkpointID)
	if ci < 0 {
		return next
	}
	cp := &next[pi].Checkpoints[ci]
	cp.Status = Next(cp.Status)
	if e.Policy == PolicyDerivedRollup {
		next[pi].Status = RecomputePhaseStatus(next[pi])
	}
	return next
}

func (e Engine) AdvancePhaseStatus(phases []domain.Phase, phaseID string) []domain.Phase {
	next := domain.ClonePhases(phases)
	pi := FindPhase(next, phaseID)
	if pi < 0 {
		return next
	}
	next[pi].Status = Next(next[pi].Status)
	return next
}

func (e Engine) SetCheckpointNotes(phases []domain.Phase, phaseID, checkpointID, text string) []domain.Phase {
	next := domain.ClonePhases(phases)
	pi, ci := FindCheckpoint(next, phaseID, checkpointID)
	if ci < 0 {
		return next
	}
	next[pi].Checkpoints[ci].Notes = text
	return next
}

// FindPhase returns the index of the phase with id, or -1.
func FindPhase(phases []domain.Phase, id string) int {
	for i := range phases {
		if phases[i].ID == id {
			return i
		}
	}
	return -1
}

// FindCheckpoint returns phase and checkpoint indexes; ci is -1 when either
// id is missing.
func FindCheckpoint(phases []domain.Phase, phaseID, checkpointID string) (pi, ci int) {
	pi = FindPhase(phases, phaseID)
	if pi < 0 {
		return -1, -1
	}
	for i := range phases[pi].Checkpoints {
		if phases[pi].Checkpoints[i].ID == checkpointID {
			return pi, i
		}
	}
	return pi, -1
}

// FindField returns the indexes down to the field; fi is -1 when any id is
// missing.
func FindField(phases []domain.Phase, phaseID, checkpointID, fieldID string) (pi, ci, fi int) {
	pi, ci = FindCheckpoint(phases, phaseID, checkpointID)
	if ci < 0 {
		return pi, ci, -1
	}
	for i := range phases[pi].Checkpoints[ci].Fields {
		if phases[pi].Checkpoints[ci].Fields[i].ID == fieldID {
			return pi, ci, i
		}
	}
	return pi, ci, -1
}
