// Package history implements the append-only log of completed queries the
// dispatch loop maintains, plus the derived per-worker and in-progress
// summaries used for reporting.
package history

import (
	"fmt"
	"sort"

	"tabular/qinfo"
)

// History is the append-only, receive-order record of completed queries.
// Field sequences (StepIdxs, Points, Vals, ...) are parallel and share
// receive order with QueryQInfos. Multi-fidelity mode additionally
// populates Fidels and CostAtFidels.
type History struct {
	StepIdxs      []int
	Points        []any
	Vals          []float64
	TrueVals      []*float64
	SendTimes     []float64
	ReceiveTimes  []float64
	EvalTimes     []float64
	WorkerIDs     []string
	QueryQInfos   []*qinfo.QInfo
	Fidels        []any
	CostAtFidels  []float64

	// JobIdxsOfWorkers maps worker identity to the ordered list of step
	// indices it executed, in completion order on that worker.
	JobIdxsOfWorkers map[string][]int
	// NumJobsPerWorker is the numeric list [len(v) for v in
	// JobIdxsOfWorkers.values()], computed once at wrap-up (see DESIGN.md,
	// "history.num_jobs_per_worker").
	NumJobsPerWorker []int

	FullPolicyName string

	NumSuccQueries int

	isMultiFidelity bool
}

// New returns an empty history for the given set of worker identities.
// isMF controls whether the multi-fidelity sub-fields (Fidels,
// CostAtFidels) are tracked.
func New(workerIDs []string, isMF bool) *History {
	h := &History{
		JobIdxsOfWorkers: make(map[string][]int, len(workerIDs)),
		isMultiFidelity:  isMF,
	}
	for _, w := range workerIDs {
		h.JobIdxsOfWorkers[w] = nil
	}
	return h
}

// toHistoryField is one (reader, appender) pair of the registered
// field-to-history mapping (spec.md §4.2, DESIGN NOTES §9): a static table
// replacing the source's runtime string-keyed reflection.
type toHistoryField func(h *History, q *qinfo.QInfo)

var baseFields = []toHistoryField{
	func(h *History, q *qinfo.QInfo) { h.StepIdxs = append(h.StepIdxs, q.StepIdx) },
	func(h *History, q *qinfo.QInfo) { h.Points = append(h.Points, q.Point) },
	func(h *History, q *qinfo.QInfo) { h.Vals = append(h.Vals, q.Val) },
	func(h *History, q *qinfo.QInfo) { h.TrueVals = append(h.TrueVals, q.TrueVal) },
	func(h *History, q *qinfo.QInfo) { h.SendTimes = append(h.SendTimes, q.SendTime) },
	func(h *History, q *qinfo.QInfo) { h.ReceiveTimes = append(h.ReceiveTimes, q.ReceiveTime) },
	func(h *History, q *qinfo.QInfo) { h.EvalTimes = append(h.EvalTimes, q.EvalTime) },
	func(h *History, q *qinfo.QInfo) { h.WorkerIDs = append(h.WorkerIDs, q.WorkerID) },
}

var mfFields = []toHistoryField{
	func(h *History, q *qinfo.QInfo) { h.Fidels = append(h.Fidels, q.Fidel) },
	func(h *History, q *qinfo.QInfo) {
		cost := q.EvalTime
		if q.CostAtFidel != nil {
			cost = *q.CostAtFidel
		}
		h.CostAtFidels = append(h.CostAtFidels, cost)
	},
}

// ProblemUpdateHistory and PolicyUpdateHistory are invoked by Record after
// the core bookkeeping completes, one per registered hook (spec.md §4.2).
// Hooks receive the same qinfo just recorded.
type Hook func(q *qinfo.QInfo)

// Record appends qinfo to history atomically from the policy's viewpoint:
// it updates job_idxs_of_workers, appends the qinfo itself, copies every
// registered field, increments NumSuccQueries iff qinfo.Val is not the
// EVAL_ERROR sentinel, and finally invokes the two update hooks.
func (h *History) Record(q *qinfo.QInfo, problemHook, policyHook Hook) {
	h.JobIdxsOfWorkers[q.WorkerID] = append(h.JobIdxsOfWorkers[q.WorkerID], q.StepIdx)
	h.QueryQInfos = append(h.QueryQInfos, q)

	for _, field := range baseFields {
		field(h, q)
	}
	if h.isMultiFidelity {
		for _, field := range mfFields {
			field(h, q)
		}
	}

	if !q.IsEvalError() {
		h.NumSuccQueries++
	}

	if problemHook != nil {
		problemHook(q)
	}
	if policyHook != nil {
		policyHook(q)
	}
}

// NumCompletedEvals is len(QueryQInfos): one of the testable invariants in
// spec.md §8.
func (h *History) NumCompletedEvals() int {
	return len(h.QueryQInfos)
}

// GetPastData returns the concatenation of pre-supplied prior evaluations
// and recorded query points/values, in that order (spec.md §4.2,
// SPEC_FULL.md's "Supplemented features").
func GetPastData(prevPoints []any, prevVals []float64, h *History) (points []any, vals []float64) {
	points = make([]any, 0, len(prevPoints)+len(h.Points))
	vals = make([]float64, 0, len(prevVals)+len(h.Vals))
	points = append(points, prevPoints...)
	points = append(points, h.Points...)
	vals = append(vals, prevVals...)
	vals = append(vals, h.Vals...)
	return
}

// FinalizeNumJobsPerWorker computes NumJobsPerWorker from
// JobIdxsOfWorkers, as run_experiment_wrap_up does in the source.
func (h *History) FinalizeNumJobsPerWorker(workerIDs []string) {
	h.NumJobsPerWorker = make([]int, len(workerIDs))
	for i, w := range workerIDs {
		h.NumJobsPerWorker[i] = len(h.JobIdxsOfWorkers[w])
	}
}

// JobsPerWorkerSummary renders the per-worker job count summary used by
// the reporter: verbose list form (counts in sorted worker-ID order) when
// there are few workers, otherwise
// the compact [min, max] form (spec.md §4.7).
func JobsPerWorkerSummary(jobIdxsOfWorkers map[string][]int) string {
	workers := make([]string, 0, len(jobIdxsOfWorkers))
	for w := range jobIdxsOfWorkers {
		workers = append(workers, w)
	}
	sort.Strings(workers)
	counts := make([]int, 0, len(workers))
	for _, w := range workers {
		counts = append(counts, len(jobIdxsOfWorkers[w]))
	}
	if len(counts) <= 5 {
		return fmt.Sprintf("%v", counts)
	}
	mn, mx := counts[0], counts[0]
	for _, c := range counts[1:] {
		if c < mn {
			mn = c
		}
		if c > mx {
			mx = c
		}
	}
	return fmt.Sprintf("[min:%d, max:%d]", mn, mx)
}

// InProgressSummary renders the in-progress step-index summary: a verbose
// list when there are at most 4 workers, otherwise the compact
// [min, max, dif, tot] form (spec.md §4.7).
func InProgressSummary(numWorkers int, inProgress []int) string {
	if numWorkers <= 4 {
		return fmt.Sprintf("%v", inProgress)
	}
	total := len(inProgress)
	if total == 0 {
		return "[min:-1, max:-1, dif:-1, tot:0]"
	}
	mn, mx := inProgress[0], inProgress[0]
	for _, idx := range inProgress[1:] {
		if idx < mn {
			mn = idx
		}
		if idx > mx {
			mx = idx
		}
	}
	return fmt.Sprintf("[min:%d, max:%d, dif:%d, tot:%d]", mn, mx, mx-mn, total)
}
