package worker

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"tabular/policy"
	"tabular/qinfo"
)

func constantEvaluator(val, evalTime float64) Evaluator {
	return func(policy.ExperimentCaller, *qinfo.QInfo) (float64, float64, *float64, error) {
		return val, evalTime, nil, nil
	}
}

func TestSimulatedPoolSingleDispatch(t *testing.T) {
	Convey("Given a pool of one worker and a constant evaluator", t, func() {
		// A single worker means AWorkerIsFree cannot trivially report an
		// idle worker once dispatched; it must wait for the job to drain.
		pool := NewSimulatedPool([]string{"w0"}, 0.001, constantEvaluator(1.0, 1.0))

		Convey("dispatching one query eventually makes the worker free", func() {
			q := &qinfo.QInfo{StepIdx: 0, SendTime: 0}
			So(pool.DispatchSingleExperiment(nil, q), ShouldBeNil)

			deadline := time.After(time.Second)
			for {
				if _, ok := pool.AWorkerIsFree(); ok {
					break
				}
				select {
				case <-deadline:
					t.Fatal("worker never reported free")
				default:
					time.Sleep(time.Millisecond)
				}
			}

			results := pool.FetchLatestResults()
			So(len(results), ShouldEqual, 1)
			So(results[0].Val, ShouldEqual, 1.0)
			So(results[0].WorkerID, ShouldEqual, "w0")
		})
	})
}

func TestSimulatedPoolAWorkerIsFreeWhenIdle(t *testing.T) {
	Convey("A pool with more capacity than dispatched jobs reports free immediately", t, func() {
		pool := NewSimulatedPool([]string{"w0", "w1"}, 0.001, constantEvaluator(1.0, 1.0))
		_, ok := pool.AWorkerIsFree()
		So(ok, ShouldBeTrue)
	})
}

func TestSimulatedPoolAllWorkersFree(t *testing.T) {
	Convey("Given a pool of four workers", t, func() {
		pool := NewSimulatedPool([]string{"w0", "w1", "w2", "w3"}, 0.001, constantEvaluator(0, 0.5))

		qinfos := make([]*qinfo.QInfo, 4)
		for i := range qinfos {
			qinfos[i] = &qinfo.QInfo{StepIdx: i}
		}
		So(pool.DispatchBatchOfExperiments(nil, qinfos), ShouldBeNil)

		Convey("AllWorkersAreFree eventually reports true once every job completes", func() {
			deadline := time.After(time.Second)
			for {
				if _, ok := pool.AllWorkersAreFree(); ok {
					break
				}
				select {
				case <-deadline:
					t.Fatal("workers never all reported free")
				default:
					time.Sleep(time.Millisecond)
				}
			}
			results := pool.FetchLatestResults()
			So(len(results), ShouldEqual, 4)
		})
	})
}

func TestSimulatedPoolEvaluatorError(t *testing.T) {
	Convey("An evaluator error records EVAL_ERROR as the value", t, func() {
		pool := NewSimulatedPool([]string{"w0"}, 0.001, func(policy.ExperimentCaller, *qinfo.QInfo) (float64, float64, *float64, error) {
			return 0, 0, nil, errStub
		})
		q := &qinfo.QInfo{StepIdx: 0}
		So(pool.DispatchSingleExperiment(nil, q), ShouldBeNil)

		deadline := time.After(time.Second)
		for {
			if _, ok := pool.AWorkerIsFree(); ok {
				break
			}
			select {
			case <-deadline:
				t.Fatal("worker never reported free")
			default:
				time.Sleep(time.Millisecond)
			}
		}
		results := pool.FetchLatestResults()
		So(results[0].IsEvalError(), ShouldBeTrue)
	})
}

type stubError string

func (e stubError) Error() string { return string(e) }

var errStub = stubError("boom")
