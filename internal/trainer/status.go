package trainer

// Status is the run state of a Trainer.
type Status string

const (
	// StatusPending means no worker is running.
	StatusPending Status = "PENDING"
	// StatusRunning means a worker is training the plan queue.
	StatusRunning Status = "RUNNING"
	// StatusInterrupting means an interrupt was requested and the worker has not exited yet.
	StatusInterrupting Status = "INTERRUPTING"
	// StatusError means the last worker stopped on an error.
	StatusError Status = "ERROR"
)

// Transitions maps trainer states to their possible transitions.
var Transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusPending:      true,
		StatusInterrupting: true,
		StatusError:        true,
	},
	StatusInterrupting: {
		StatusPending: true,
		StatusError:   true,
	},
	StatusError: {
		StatusRunning: true,
		StatusPending: true,
	},
}

// CanTransition reports whether a trainer may move from one status to another.
func CanTransition(from, to Status) bool {
	return Transitions[from][to]
}
