// Package policy declares the contract points a concrete query-selection
// policy must implement, and the experiment-caller contract the core
// consumes (spec.md §4.5, §6). The driver (package designer) composes with
// these two interface slots instead of the source's inheritance hierarchy
// (DESIGN NOTES §9, "Child-hook dispatch").
package policy

import (
	"tabular/domain"
	"tabular/qinfo"
)

// ExperimentCaller is the named collaborator that evaluates a point
// (optionally at a fidelity) and publishes the domain/fidelity metadata the
// core needs. Evaluation semantics themselves are opaque to the core and
// applied by the worker manager (spec.md §1, §6).
type ExperimentCaller interface {
	// Domain is the search space queries are validated against.
	Domain() domain.Domain
	IsMF() bool
	// FidelSpace is only meaningful when IsMF() is true.
	FidelSpace() any
	// FidelToOpt is the target fidelity used to default a query that omits one.
	FidelToOpt() any
}

// ProblemHooks are the hooks a concrete policy implements to describe the
// problem being optimised: its string identity, handling of caller-supplied
// prior evaluations, and any problem-side bookkeeping on completion.
type ProblemHooks interface {
	ProblemSetUp() error
	ProblemStr() string
	ProblemHandlePrevEvals(points []any, vals []float64)
	ProblemRunExperimentsInitialise()
	ProblemUpdateHistory(q *qinfo.QInfo)
	ProblemReportResultsStr() string
}

// PolicyHooks are the hooks a concrete policy implements to describe how it
// selects queries and maintains its model.
type PolicyHooks interface {
	PolicySetUp() error
	PolicyStr() string
	IsAnMFPolicy() bool
	PolicyRunExperimentsInitialise()
	PolicyUpdateHistory(q *qinfo.QInfo)

	// DetermineNextQuery is the async path: select a single next point.
	DetermineNextQuery() (*qinfo.QInfo, error)
	// DetermineNextBatchOfQueries is the sync path: select batchSize points.
	DetermineNextBatchOfQueries(batchSize int) ([]*qinfo.QInfo, error)

	// ChildBuildNewModel rebuilds the policy's surrogate. Default: no-op.
	ChildBuildNewModel()
	// AddDataToModel incrementally updates the policy's model. Default: no-op.
	AddDataToModel(qinfos []*qinfo.QInfo)

	// GetInitialQInfos is the fallback initial-query generator used when
	// neither prev_evaluations nor a caller-supplied generator is present.
	GetInitialQInfos(n int) ([]*qinfo.QInfo, error)

	PolicyReportResultsStr() string

	// PostProcessPoint defaults to identity; see SPEC_FULL.md, "Supplemented
	// features" (ported from exd_core.py's _post_process_next_eval_point).
	PostProcessPoint(point any) any
}
