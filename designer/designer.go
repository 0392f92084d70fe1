// Package designer implements the dispatch/bookkeeping loop that couples a
// worker pool to a query-selection policy under a capital budget (spec.md
// §4.6), grounded on exd_core.py's ExperimentDesigner.
package designer

import (
	"fmt"
	"time"

	"tabular/capital"
	"tabular/history"
	"tabular/policy"
	"tabular/qinfo"
	"tabular/reporter"
	"tabular/worker"
)

// ExperimentDesigner is the driver: a single thread of control owning all
// mutation of history, the in-progress set, step counters, and the capital
// clock (spec.md §5).
type ExperimentDesigner struct {
	caller  policy.ExperimentCaller
	workers worker.Pool
	problem policy.ProblemHooks
	pol     policy.PolicyHooks
	opts    *Options
	rep     reporter.Reporter

	clock capital.Clock
	hist  *history.History

	numWorkers       int
	availableCapital float64
	stepIdx          int
	lastModelBuildAt int
	lastReportAt     int

	inProgressIdx   []int
	inProgressPoint []any

	prevEvalPoints []any
	prevEvalVals   []float64

	fullPolicyName string
	isMF           bool

	// MainLoopPre and MainLoopPost are optional extension points run
	// before/after each main-loop iteration (spec.md §4.6.6); nil is a
	// no-op, matching the source's default pass-through hooks.
	MainLoopPre  func()
	MainLoopPost func()
}

// New constructs a driver. RunExperiments performs the remaining one-shot
// setup (spec.md §4.6.1) on first call.
func New(
	caller policy.ExperimentCaller,
	workers worker.Pool,
	problem policy.ProblemHooks,
	pol policy.PolicyHooks,
	rep reporter.Reporter,
	opts *Options,
) *ExperimentDesigner {
	return &ExperimentDesigner{
		caller:  caller,
		workers: workers,
		problem: problem,
		pol:     pol,
		opts:    opts,
		rep:     rep,
	}
}

func (d *ExperimentDesigner) isAsynchronous() bool { return d.opts.isAsynchronous() }

// setUp performs the core's one-shot initialisation (spec.md §4.6.1): it
// selects the field-to-history mapping (static tables in package history;
// history.New decides whether the multi-fidelity entries apply),
// initialises empty history, installs the driver on the
// worker manager, copies num_workers locally, computes full_policy_name,
// and delegates to the child setup hooks.
func (d *ExperimentDesigner) setUp() error {
	clock, err := capital.New(d.opts.CapitalType)
	if err != nil {
		return err
	}
	d.clock = clock

	d.isMF = d.caller.IsMF() || d.pol.IsAnMFPolicy()
	d.hist = history.New(d.workers.WorkerIDs(), d.isMF)

	d.workers.SetDesigner(d)
	d.numWorkers = d.workers.NumWorkers()

	prefix := "syn"
	if d.isAsynchronous() {
		prefix = "asy"
	}
	d.fullPolicyName = fmt.Sprintf("%s-%s-%s", prefix, d.pol.PolicyStr(), d.problem.ProblemStr())
	d.hist.FullPolicyName = d.fullPolicyName

	if err := d.problem.ProblemSetUp(); err != nil {
		return err
	}
	if err := d.pol.PolicySetUp(); err != nil {
		return err
	}
	return nil
}

// AddCapital adds to the available capital budget.
func (d *ExperimentDesigner) AddCapital(c float64) { d.availableCapital += c }

// runExperimentInitialise initialises the capital clock, performs the
// initial queries, then fires the two run-initialise hooks.
func (d *ExperimentDesigner) runExperimentInitialise() error {
	d.clock.Init()
	if err := d.performInitialQueries(); err != nil {
		return err
	}
	d.problem.ProblemRunExperimentsInitialise()
	d.pol.PolicyRunExperimentsInitialise()
	return nil
}

// performInitialQueries implements spec.md §4.6.2's priority order.
func (d *ExperimentDesigner) performInitialQueries() error {
	if d.opts.PrevEvaluations != nil {
		for _, q := range d.opts.PrevEvaluations.QInfos {
			d.prevEvalPoints = append(d.prevEvalPoints, q.Point)
			d.prevEvalVals = append(d.prevEvalVals, q.Val)
		}
		d.problem.ProblemHandlePrevEvals(d.prevEvalPoints, d.prevEvalVals)
		return nil
	}

	if d.opts.NumInitEvals <= 0 {
		return nil
	}
	n := d.opts.NumInitEvals
	if d.numWorkers > n {
		n = d.numWorkers
	}

	var (
		initQInfos []*qinfo.QInfo
		err        error
	)
	if d.opts.GetInitialQInfos != nil {
		initQInfos, err = d.opts.GetInitialQInfos(n)
	} else {
		initQInfos, err = d.pol.GetInitialQInfos(n)
	}
	if err != nil {
		return err
	}

	// Step indices are assigned current-then-increment, same as
	// asynchronousRoutine, so the first main-loop dispatch never collides
	// with the last initial query's index.
	for _, q := range initQInfos {
		if err := d.waitForAFreeWorker(); err != nil {
			return err
		}
		if err := d.dispatchSingleExperimentToWorkerManager(q); err != nil {
			return err
		}
		d.stepIdx++
	}
	return nil
}

// waitTillFree is the primitive of spec.md §4.6.3: blocks (via poll-sleep)
// until isFree reports ok, then drains and records every completed result
// exactly once. The capital clock is only set from isFree's receive time
// when there were results to drain.
func (d *ExperimentDesigner) waitTillFree(isFree func() (float64, bool), pollTime float64) error {
	sleep := time.Duration(pollTime * float64(time.Second))
	for {
		lastReceiveTime, ok := isFree()
		if !ok {
			time.Sleep(sleep)
			continue
		}

		results := d.workers.FetchLatestResults()
		if len(results) == 0 {
			return nil
		}
		d.clock.SetSpent(lastReceiveTime)

		if _, err := capital.UpdateCapital(d.clock, d.opts.CapitalType, results); err != nil {
			return err
		}

		for _, q := range results {
			if d.isMF && q.CostAtFidel == nil {
				evalTime := q.EvalTime
				q.CostAtFidel = &evalTime
			}
			d.hist.Record(q, d.problem.ProblemUpdateHistory, d.pol.PolicyUpdateHistory)
			if err := d.removeFromInProgress(q.StepIdx); err != nil {
				return err
			}
		}
		d.pol.AddDataToModel(results)
		return nil
	}
}

func (d *ExperimentDesigner) waitForAFreeWorker() error {
	return d.waitTillFree(d.workers.AWorkerIsFree, d.workers.GetPollTimeReal())
}

func (d *ExperimentDesigner) waitForAllFreeWorkers() error {
	return d.waitTillFree(d.workers.AllWorkersAreFree, d.workers.GetPollTimeReal())
}

func (d *ExperimentDesigner) addToInProgress(qinfos []*qinfo.QInfo) {
	for _, q := range qinfos {
		d.inProgressIdx = append(d.inProgressIdx, q.StepIdx)
		d.inProgressPoint = append(d.inProgressPoint, q.Point)
	}
}

// removeFromInProgress removes the entry matching stepIdx. A missing index
// (a duplicate or stale completion) fails loudly, per spec.md §8's
// round-trip property.
func (d *ExperimentDesigner) removeFromInProgress(stepIdx int) error {
	for i, idx := range d.inProgressIdx {
		if idx == stepIdx {
			d.inProgressIdx = append(d.inProgressIdx[:i], d.inProgressIdx[i+1:]...)
			d.inProgressPoint = append(d.inProgressPoint[:i], d.inProgressPoint[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("designer: step index %d not found in in-progress set", stepIdx)
}

func (d *ExperimentDesigner) dispatchSingleExperimentToWorkerManager(q *qinfo.QInfo) error {
	q.SendTime = d.clock.Spent()
	q.StepIdx = d.stepIdx
	if err := d.workers.DispatchSingleExperiment(d.caller, q); err != nil {
		return err
	}
	d.addToInProgress([]*qinfo.QInfo{q})
	return nil
}

func (d *ExperimentDesigner) dispatchBatchOfExperimentsToWorkerManager(qinfos []*qinfo.QInfo) error {
	for idx, q := range qinfos {
		q.SendTime = d.clock.Spent()
		q.StepIdx = d.stepIdx + idx
	}
	if err := d.workers.DispatchBatchOfExperiments(d.caller, qinfos); err != nil {
		return err
	}
	d.addToInProgress(qinfos)
	return nil
}

// GetPastData returns the concatenation of pre-supplied prior evaluations
// and recorded query points/values (spec.md §4.2).
func (d *ExperimentDesigner) GetPastData() (points []any, vals []float64) {
	return history.GetPastData(d.prevEvalPoints, d.prevEvalVals, d.hist)
}

func (d *ExperimentDesigner) terminateNow() bool {
	if d.stepIdx >= d.opts.MaxNumSteps {
		d.rep.Writeln(fmt.Sprintf("Exceeded %d evaluations. Terminating Now!", d.opts.MaxNumSteps))
		return true
	}
	return d.clock.Spent() >= d.availableCapital
}

func (d *ExperimentDesigner) asynchronousRoutine() error {
	if err := d.waitForAFreeWorker(); err != nil {
		return err
	}
	q, err := d.pol.DetermineNextQuery()
	if err != nil {
		return err
	}
	if d.isMF && q.Fidel == nil {
		q.Fidel = d.caller.FidelToOpt()
	}
	if err := d.dispatchSingleExperimentToWorkerManager(q); err != nil {
		return err
	}
	d.stepIdx++
	return nil
}

func (d *ExperimentDesigner) synchronousRoutine() error {
	if err := d.waitForAllFreeWorkers(); err != nil {
		return err
	}
	qinfos, err := d.pol.DetermineNextBatchOfQueries(d.numWorkers)
	if err != nil {
		return err
	}
	if err := d.dispatchBatchOfExperimentsToWorkerManager(qinfos); err != nil {
		return err
	}
	d.stepIdx += d.numWorkers
	return nil
}

// buildNewModel implements spec.md §4.6.7.
func (d *ExperimentDesigner) buildNewModel() {
	d.lastModelBuildAt = d.stepIdx
	d.pol.ChildBuildNewModel()
}

// reportCurrResults emits one status line per spec.md §4.7.
func (d *ExperimentDesigner) reportCurrResults() {
	capitalFrac := "NaN"
	if d.availableCapital > 0 {
		capitalFrac = fmt.Sprintf("%0.4f", d.clock.Spent()/d.availableCapital)
	}

	line := fmt.Sprintf(
		"%s :: (%d/%d), capital: %s, %s, %s, jobs_per_worker: %s, in_progress: %s",
		d.fullPolicyName,
		d.hist.NumSuccQueries, d.stepIdx,
		capitalFrac,
		d.problem.ProblemReportResultsStr(),
		d.pol.PolicyReportResultsStr(),
		history.JobsPerWorkerSummary(d.hist.JobIdxsOfWorkers),
		history.InProgressSummary(d.numWorkers, d.inProgressIdx),
	)
	d.rep.Writeln(line)
	d.lastReportAt = d.stepIdx
}

func (d *ExperimentDesigner) wrapUp() error {
	d.workers.CloseAllQueries()
	if err := d.waitForAllFreeWorkers(); err != nil {
		return err
	}
	d.reportCurrResults()
	d.hist.FinalizeNumJobsPerWorker(d.workers.WorkerIDs())
	return nil
}

// RunExperiments executes the main loop to completion (spec.md §4.6.6) and
// returns the final history.
func (d *ExperimentDesigner) RunExperiments(maxCapital float64) (*history.History, error) {
	if err := d.setUp(); err != nil {
		return nil, err
	}

	d.AddCapital(maxCapital)
	if err := d.runExperimentInitialise(); err != nil {
		return nil, err
	}

	for !d.terminateNow() {
		if d.MainLoopPre != nil {
			d.MainLoopPre()
		}

		var err error
		if d.isAsynchronous() {
			err = d.asynchronousRoutine()
		} else {
			err = d.synchronousRoutine()
		}
		if err != nil {
			return nil, err
		}

		if d.stepIdx-d.lastModelBuildAt >= d.opts.BuildNewModelEvery {
			d.buildNewModel()
		}
		if d.stepIdx-d.lastReportAt >= d.opts.ReportResultsEvery {
			d.reportCurrResults()
		}

		if d.MainLoopPost != nil {
			d.MainLoopPost()
		}
	}

	if err := d.wrapUp(); err != nil {
		return nil, err
	}
	return d.hist, nil
}

// StepIdx reports the current step index.
func (d *ExperimentDesigner) StepIdx() int { return d.stepIdx }

// InProgress reports the current in-progress step indices (a copy).
func (d *ExperimentDesigner) InProgress() []int {
	return append([]int(nil), d.inProgressIdx...)
}

// History returns the driver's history store. Valid once RunExperiments has
// begun.
func (d *ExperimentDesigner) History() *history.History { return d.hist }

// FullPolicyName returns the composed "{asy|syn}-{policy}-{problem}" name.
func (d *ExperimentDesigner) FullPolicyName() string { return d.fullPolicyName }

// SpentCapital reports the capital clock's current reading.
func (d *ExperimentDesigner) SpentCapital() float64 { return d.clock.Spent() }

// AvailableCapital reports the total budget passed to RunExperiments plus
// any capital added mid-run via AddCapital.
func (d *ExperimentDesigner) AvailableCapital() float64 { return d.availableCapital }
