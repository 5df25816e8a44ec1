package domain

// ClonePhases returns a deep copy of phases. Nil slices stay nil so the copy
// is structurally equal to the original.
func ClonePhases(phases []Phase) []Phase {
	if phases == nil {
		return nil
	}
	out := make([]Phase, len(phases))
	for i, p := range phases {
		out[i] = p
		out[i].Checkpoints = cloneCheckpoints(p.Checkpoints)
	}
	return out
}

func cloneCheckpoints(cps []Checkpoint) []Checkpoint {
	if cps == nil {
		return nil
	}
	out := make([]Checkpoint, len(cps))
	for i, cp := range cps {
		out[i] = cp
		out[i].Fields = cloneFields(cp.Fields)
	}
	return out
}

func cloneFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = f
		if f.Options != nil {
			out[i].Options = append([]string(nil), f.Options...)
		}
	}
	return out
}

// CloneTasks returns a copy of tasks; Task holds no reference types.
func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	return append([]Task(nil), tasks...)
}

func ClonePhotos(photos []Photo) []Photo {
	if photos == nil {
		return nil
	}
	return append([]Photo(nil), photos...)
}

func CloneSubcontractors(subs []Subcontractor) []Subcontractor {
	if subs == nil {
		return nil
	}
	return append([]Subcontractor(nil), subs...)
}
