package reservation

// Outcome is the caller visible result of a reconciliation
type Outcome int

const (
	// NoOp means nothing had to be done or the request was incomplete
	NoOp Outcome = iota

	// Success means the reservation was created or, for the NoAddress
	// sentinel, the stale record was dealt with
	Success

	// Failure means the reconciliation was aborted. The accompanying error
	// tells whether the server was unreachable or rejected an operation
	Failure
)

func (o Outcome) String() string {
	switch o {
	case NoOp:
		return "noop"
	case Success:
		return "success"
	case Failure:
		return "error"
	}
	return "unknown"
}
