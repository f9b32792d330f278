package workout

// MaxMarksPerUpdate bounds how many kilometer marks one update can report.
// A larger jump reports only the newest marks.
const MaxMarksPerUpdate = 5

// MilestoneTracker reports each whole-kilometer crossing at most once per
// session. The zero value is ready for a new session.
type MilestoneTracker struct {
	reached int
}

// Observe returns the kilometer marks newly crossed by m. Repeated or smaller
// distances return nothing.
func (t *MilestoneTracker) Observe(m Metrics) []int {
	if m.Validate() != nil {
		return nil
	}
	km := m.WholeKilometers()
	if km <= t.reached {
		return nil
	}
	from := max(t.reached+1, km-MaxMarksPerUpdate+1)
	out := make([]int, 0, km-from+1)
	for mark := from; mark <= km; mark++ {
		out = append(out, mark)
	}
	t.reached = km
	return out
}

func (t *MilestoneTracker) Reached() int {
	return t.reached
}

func (t *MilestoneTracker) Reset() {
	t.reached = 0
}
