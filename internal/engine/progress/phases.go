package progress

// Status is a phase's lifecycle state within a journey.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusActive    Status = "active"
	StatusLocked    Status = "locked"
)

// NotFound is the active index reported when the current phase is not in the sequence.
const NotFound = -1

// DeriveStatuses classifies phases (already ordered by order index) relative to
// currentPhaseID. Phases before the current one are completed, later ones locked.
// When currentPhaseID matches nothing every phase is completed and the index is NotFound.
func DeriveStatuses(phaseIDs []string, currentPhaseID string) ([]Status, int) {
	statuses := make([]Status, len(phaseIDs))
	activeIdx := NotFound
	activeFound := false
	for i, id := range phaseIDs {
		switch {
		case id == currentPhaseID && !activeFound:
			statuses[i] = StatusActive
			activeIdx = i
			activeFound = true
		case !activeFound:
			statuses[i] = StatusCompleted
		default:
			statuses[i] = StatusLocked
		}
	}
	return statuses, activeIdx
}
