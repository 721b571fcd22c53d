package reservation

import "context"

// policy decides whether a failing step aborts the reconciliation
type policy int

const (
	abortOnFailure policy = iota

	// continueOnFailure only downgrades operations the server rejected.
	// Connection failures still abort
	continueOnFailure
)

// step is one phase of a reconciliation. A step either finishes the
// reconciliation with an outcome (done) or hands over to the next one
type step struct {
	name   string
	policy policy
	run    func(r *run, ctx context.Context) (outcome Outcome, done bool, err error)
}

var steps = []step{
	{name: "connect", policy: abortOnFailure, run: (*run).connect},
	{name: "lookup by hardware address", policy: abortOnFailure, run: (*run).lookupByMAC},
	{name: "check address", policy: abortOnFailure, run: (*run).guardUnassigned},
	{name: "remove stale hostname", policy: continueOnFailure, run: (*run).removeStaleName},
	{name: "create reservation", policy: abortOnFailure, run: (*run).create},
}
