package progress

import "github.com/vbonduro/buildtrack/internal/domain"

// Summary counts completed work across a phase tree.
type Summary struct {
	Phases          int     `json:"phases"`
	PhasesDone      int     `json:"phasesDone"`
	Checkpoints     int     `json:"checkpoints"`
	CheckpointsDone int     `json:"checkpointsDone"`
	Completion      float64 `json:"completion"`
}

// Summarize reports the share of checkpoints that are done. A tree without
// checkpoints falls back to the share of done phases.
func Summarize(phases []domain.Phase) Summary {
	var s Summary
	for _, p := range phases {
		s.Phases++
		if p.Status == domain.StatusDone {
			s.PhasesDone++
		}
		for _, cp := range p.Checkpoints {
			s.Checkpoints++
			if cp.Status == domain.StatusDone {
				s.CheckpointsDone++
			}
		}
	}
	switch {
	case s.Checkpoints > 0:
		s.Completion = float64(s.CheckpointsDone) / float64(s.Checkpoints)
	case s.Phases > 0:
		s.Completion = float64(s.PhasesDone) / float64(s.Phases)
	}
	return s
}
