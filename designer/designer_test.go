package designer

import (
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"tabular/domain"
	"tabular/policy"
	"tabular/qinfo"
	"tabular/reporter"
	"tabular/worker"
)

// fakePool is a deterministic, sequential worker.Pool test double: every
// dispatch is evaluated inline at call time, so draining is purely a
// function of call order rather than real concurrency. This lets designer
// tests assert exact step/history counts without depending on goroutine
// scheduling (that concurrency is exercised separately in
// worker/simulated_test.go).
type fakePool struct {
	workerIDs []string
	evaluate  func(q *qinfo.QInfo) (val, evalTime float64)
	pending   []*qinfo.QInfo
}

func newFakePool(numWorkers int, evaluate func(q *qinfo.QInfo) (float64, float64)) *fakePool {
	ids := make([]string, numWorkers)
	for i := range ids {
		ids[i] = fmt.Sprintf("w%d", i)
	}
	return &fakePool{workerIDs: ids, evaluate: evaluate}
}

func (p *fakePool) SetDesigner(worker.Designer) {}
func (p *fakePool) WorkerIDs() []string         { return p.workerIDs }
func (p *fakePool) NumWorkers() int             { return len(p.workerIDs) }
func (p *fakePool) GetPollTimeReal() float64    { return 0 }

func (p *fakePool) AWorkerIsFree() (float64, bool) {
	if len(p.pending) == 0 {
		return 0, true
	}
	return p.lastReceive(), true
}

func (p *fakePool) AllWorkersAreFree() (float64, bool) {
	return p.AWorkerIsFree()
}

func (p *fakePool) lastReceive() float64 {
	max := p.pending[0].SendTime + p.pending[0].EvalTime
	for _, q := range p.pending[1:] {
		if t := q.SendTime + q.EvalTime; t > max {
			max = t
		}
	}
	return max
}

func (p *fakePool) FetchLatestResults() []*qinfo.QInfo {
	out := p.pending
	p.pending = nil
	return out
}

func (p *fakePool) DispatchSingleExperiment(caller policy.ExperimentCaller, q *qinfo.QInfo) error {
	val, evalTime := p.evaluate(q)
	q.Val = val
	q.EvalTime = evalTime
	q.WorkerID = p.workerIDs[0]
	p.pending = append(p.pending, q)
	return nil
}

func (p *fakePool) DispatchBatchOfExperiments(caller policy.ExperimentCaller, qinfos []*qinfo.QInfo) error {
	for _, q := range qinfos {
		if err := p.DispatchSingleExperiment(caller, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *fakePool) CloseAllQueries() {}

// fakeCaller is a minimal policy.ExperimentCaller.
type fakeCaller struct {
	isMF       bool
	fidelToOpt any
}

func (c *fakeCaller) Domain() domain.Domain { return domain.NewUniversalDomain() }
func (c *fakeCaller) IsMF() bool            { return c.isMF }
func (c *fakeCaller) FidelSpace() any       { return nil }
func (c *fakeCaller) FidelToOpt() any       { return c.fidelToOpt }

// fakeProblem/fakePolicy are minimal hook implementations: a constant-point
// policy with no model, sufficient to exercise the driver itself.
type fakeProblem struct{}

func (fakeProblem) ProblemSetUp() error                          { return nil }
func (fakeProblem) ProblemStr() string                            { return "prob" }
func (fakeProblem) ProblemHandlePrevEvals(points []any, vals []float64) {}
func (fakeProblem) ProblemRunExperimentsInitialise()              {}
func (fakeProblem) ProblemUpdateHistory(q *qinfo.QInfo)            {}
func (fakeProblem) ProblemReportResultsStr() string                { return "" }

type fakePolicy struct {
	nextIdx int
}

func (p *fakePolicy) PolicySetUp() error             { return nil }
func (p *fakePolicy) PolicyStr() string              { return "pol" }
func (p *fakePolicy) IsAnMFPolicy() bool             { return false }
func (p *fakePolicy) PolicyRunExperimentsInitialise() {}
func (p *fakePolicy) PolicyUpdateHistory(q *qinfo.QInfo) {}
func (p *fakePolicy) ChildBuildNewModel()            {}
func (p *fakePolicy) AddDataToModel(qinfos []*qinfo.QInfo) {}
func (p *fakePolicy) PolicyReportResultsStr() string  { return "" }
func (p *fakePolicy) PostProcessPoint(point any) any  { return point }

func (p *fakePolicy) DetermineNextQuery() (*qinfo.QInfo, error) {
	p.nextIdx++
	return &qinfo.QInfo{Point: []float64{0.5}}, nil
}

func (p *fakePolicy) DetermineNextBatchOfQueries(batchSize int) ([]*qinfo.QInfo, error) {
	out := make([]*qinfo.QInfo, batchSize)
	for i := range out {
		p.nextIdx++
		out[i] = &qinfo.QInfo{Point: []float64{0.5}}
	}
	return out, nil
}

func (p *fakePolicy) GetInitialQInfos(n int) ([]*qinfo.QInfo, error) {
	out := make([]*qinfo.QInfo, n)
	for i := range out {
		out[i] = &qinfo.QInfo{Point: []float64{0.5}}
	}
	return out, nil
}

func constantEval(val, evalTime float64) func(*qinfo.QInfo) (float64, float64) {
	return func(*qinfo.QInfo) (float64, float64) { return val, evalTime }
}

func TestAsyncBudgetExhaustion(t *testing.T) {
	Convey("A single async worker spending budget 5 at eval_time 1", t, func() {
		pool := newFakePool(1, constantEval(0, 1))
		opts := DefaultOptions()
		opts.Mode = "asy"
		opts.NumInitEvals = 0
		opts.CapitalType = "return_value"

		d := New(&fakeCaller{}, pool, fakeProblem{}, &fakePolicy{}, reporter.NewWriter(discard{}), opts)
		hist, err := d.RunExperiments(5)
		So(err, ShouldBeNil)

		Convey("history length matches the final step index", func() {
			So(hist.NumCompletedEvals(), ShouldEqual, d.StepIdx())
		})
		Convey("every completion succeeded and spent capital reached the budget", func() {
			So(hist.NumSuccQueries, ShouldEqual, hist.NumCompletedEvals())
			So(d.clockSpent(), ShouldBeGreaterThanOrEqualTo, 5.0)
		})
		Convey("in-progress is empty after wrap-up", func() {
			So(d.InProgress(), ShouldBeEmpty)
		})
	})
}

func TestSyncFourWorkersStepCap(t *testing.T) {
	Convey("4 workers in sync mode capped at 12 steps", t, func() {
		pool := newFakePool(4, constantEval(0, 1))
		opts := DefaultOptions()
		opts.Mode = "syn"
		opts.NumInitEvals = 0
		opts.MaxNumSteps = 12

		d := New(&fakeCaller{}, pool, fakeProblem{}, &fakePolicy{}, reporter.NewWriter(discard{}), opts)
		hist, err := d.RunExperiments(1e9)
		So(err, ShouldBeNil)

		Convey("the loop dispatches three batches of 4 with distinct step indices", func() {
			So(hist.NumCompletedEvals(), ShouldEqual, 12)
			So(d.StepIdx(), ShouldEqual, 12)
			seen := map[int]bool{}
			for _, idx := range hist.StepIdxs {
				So(seen[idx], ShouldBeFalse)
				seen[idx] = true
			}
		})
	})
}

func TestEvalErrorScenario(t *testing.T) {
	Convey("One of ten completions reports EVAL_ERROR", t, func() {
		calls := 0
		pool := newFakePool(1, func(*qinfo.QInfo) (float64, float64) {
			calls++
			if calls == 5 {
				return qinfo.EvalError, 1
			}
			return 0, 1
		})
		opts := DefaultOptions()
		opts.Mode = "asy"
		opts.NumInitEvals = 0
		opts.MaxNumSteps = 10

		d := New(&fakeCaller{}, pool, fakeProblem{}, &fakePolicy{}, reporter.NewWriter(discard{}), opts)
		hist, err := d.RunExperiments(1e9)
		So(err, ShouldBeNil)

		So(hist.NumCompletedEvals(), ShouldEqual, 10)
		So(hist.NumSuccQueries, ShouldEqual, 9)
	})
}

func TestMultiFidelityDefaulting(t *testing.T) {
	Convey("An MF caller with no fidel set defaults to fidel_to_opt", t, func() {
		pool := newFakePool(1, constantEval(0, 1))
		opts := DefaultOptions()
		opts.Mode = "asy"
		opts.NumInitEvals = 0
		opts.MaxNumSteps = 1

		caller := &fakeCaller{isMF: true, fidelToOpt: "opt"}
		d := New(caller, pool, fakeProblem{}, &fakePolicy{}, reporter.NewWriter(discard{}), opts)
		hist, err := d.RunExperiments(1e9)
		So(err, ShouldBeNil)

		So(hist.NumCompletedEvals(), ShouldEqual, 1)
		So(hist.Fidels[0], ShouldEqual, "opt")
		So(hist.CostAtFidels[0], ShouldEqual, hist.EvalTimes[0])
	})
}

func TestFullPolicyNamePrefix(t *testing.T) {
	Convey("full_policy_name begins with asy- iff mode prefix-matches asy", t, func() {
		pool := newFakePool(1, constantEval(0, 1))
		opts := DefaultOptions()
		opts.Mode = "asynchronous"
		opts.NumInitEvals = 0
		opts.MaxNumSteps = 1

		d := New(&fakeCaller{}, pool, fakeProblem{}, &fakePolicy{}, reporter.NewWriter(discard{}), opts)
		_, err := d.RunExperiments(1e9)
		So(err, ShouldBeNil)
		So(d.FullPolicyName(), ShouldStartWith, "asy-")
	})
}

// clockSpent exposes the driver's clock reading for assertions.
func (d *ExperimentDesigner) clockSpent() float64 { return d.clock.Spent() }

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
