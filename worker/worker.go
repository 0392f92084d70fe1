// Package worker declares the worker-pool contract the dispatch loop
// consumes (spec.md §4.4) and provides SimulatedPool, an in-process
// implementation used by this package's tests since the real worker manager
// is an out-of-scope named collaborator (spec.md §1).
package worker

import (
	"tabular/policy"
	"tabular/qinfo"
)

// Designer is the back-reference a worker manager holds to its driver,
// installed once via SetDesigner at setup (spec.md §4.6.1). The core only
// needs a Designer capable of receiving this back-link; the interface is
// intentionally minimal so a worker manager cannot reach into driver
// internals.
type Designer interface{}

// Pool is the external contract the core uses to dispatch and poll
// workers (spec.md §4.4). The core never inspects worker internals beyond
// these operations.
type Pool interface {
	SetDesigner(d Designer)
	WorkerIDs() []string
	NumWorkers() int

	// AWorkerIsFree is a non-blocking poll. ok is true when a worker has a
	// result ready, or when a worker is idle and can take a dispatch; it is
	// false otherwise. When results are ready, lastReceiveTime is interpreted
	// by the capital clock; when ok is true only because a worker is idle,
	// lastReceiveTime is 0 and carries no capital reading.
	AWorkerIsFree() (lastReceiveTime float64, ok bool)
	// AllWorkersAreFree is the synchronous-mode analogue: true only when
	// every worker is idle.
	AllWorkersAreFree() (lastReceiveTime float64, ok bool)

	GetPollTimeReal() float64 // seconds

	FetchLatestResults() []*qinfo.QInfo

	DispatchSingleExperiment(caller policy.ExperimentCaller, q *qinfo.QInfo) error
	DispatchBatchOfExperiments(caller policy.ExperimentCaller, qinfos []*qinfo.QInfo) error

	CloseAllQueries()
}
