package appointment

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusNoShow     Status = "no_show"
)

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0 && s.Valid()
}

// transitions lists the legal next states. Confirmed -> Scheduled is an
// administrative correction; the service refuses it once the slot passed.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow, StatusScheduled},
	StatusInProgress: {StatusCompleted},
	StatusCompleted:  {},
	StatusCancelled:  {},
	StatusNoShow:     {},
}

// CanTransition reports whether from -> to is legal. allowDirectCompletion
// additionally lets Scheduled and Confirmed jump to Completed.
func CanTransition(from, to Status, allowDirectCompletion bool) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	if allowDirectCompletion && to == StatusCompleted {
		return from == StatusScheduled || from == StatusConfirmed
	}
	return false
}
