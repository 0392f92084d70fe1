package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/semaphore"

	"tabular/policy"
	"tabular/qinfo"
)

// Evaluator is the opaque evaluation the worker manager performs on behalf
// of the experiment caller (spec.md §1, §6: evaluation semantics are
// "opaque to the core"). It is SimulatedPool's only domain-specific
// dependency.
type Evaluator func(caller policy.ExperimentCaller, q *qinfo.QInfo) (val, evalTime float64, trueVal *float64, err error)

// SimulatedPool is an in-process worker manager: each worker identity runs
// its own goroutine draining a dedicated job channel, grounded on the
// teacher's agent_worker/channerics.Merge pattern (see
// reinforcement/learning.go's alphaMonteCarloVanillaTrain, adapted here
// from "generate episodes" to "evaluate a dispatched qinfo").
type SimulatedPool struct {
	workerIDs []string
	pollTime  float64
	evaluate  Evaluator

	jobs map[string]chan *qinfo.QInfo

	merged <-chan *qinfo.QInfo
	cancel context.CancelFunc

	// sem admits at most NumWorkers concurrently-dispatched jobs; a permit
	// is acquired before assigning a worker and released once that
	// worker's evaluation completes.
	sem *semaphore.Weighted

	freeMu  sync.Mutex
	freeIDs []string // worker identities currently available for dispatch

	pendingMu sync.Mutex
	pending   []*qinfo.QInfo

	busy int64 // atomic count of dispatched-but-uncompleted jobs

	designer Designer
}

// NewSimulatedPool constructs a pool of len(workerIDs) simulated workers.
// pollTime is the value GetPollTimeReal reports.
func NewSimulatedPool(workerIDs []string, pollTime float64, eval Evaluator) *SimulatedPool {
	ctx, cancel := context.WithCancel(context.Background())

	p := &SimulatedPool{
		workerIDs: append([]string(nil), workerIDs...),
		pollTime:  pollTime,
		evaluate:  eval,
		jobs:      make(map[string]chan *qinfo.QInfo, len(workerIDs)),
		sem:       semaphore.NewWeighted(int64(len(workerIDs))),
		freeIDs:   append([]string(nil), workerIDs...),
		cancel:    cancel,
	}

	resultChans := make([]<-chan *qinfo.QInfo, 0, len(workerIDs))
	for _, id := range workerIDs {
		jobCh := make(chan *qinfo.QInfo, 1)
		p.jobs[id] = jobCh
		resultChans = append(resultChans, p.runWorker(ctx, id, jobCh))
	}
	p.merged = channerics.Merge(ctx.Done(), resultChans...)

	return p
}

func (p *SimulatedPool) runWorker(ctx context.Context, id string, jobs <-chan *qinfo.QInfo) <-chan *qinfo.QInfo {
	results := make(chan *qinfo.QInfo)
	go func() {
		defer close(results)
		for {
			select {
			case <-ctx.Done():
				return
			case q, ok := <-jobs:
				if !ok {
					return
				}
				val, evalTime, trueVal, err := p.evaluate(nil, q)
				if err != nil {
					val = qinfo.EvalError
				}
				q.Val = val
				q.EvalTime = evalTime
				q.TrueVal = trueVal

				atomic.AddInt64(&p.busy, -1)
				p.freeMu.Lock()
				p.freeIDs = append(p.freeIDs, id)
				p.freeMu.Unlock()
				p.sem.Release(1)

				select {
				case results <- q:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return results
}

func (p *SimulatedPool) SetDesigner(d Designer) { p.designer = d }

func (p *SimulatedPool) WorkerIDs() []string {
	return append([]string(nil), p.workerIDs...)
}

func (p *SimulatedPool) NumWorkers() int { return len(p.workerIDs) }

func (p *SimulatedPool) GetPollTimeReal() float64 { return p.pollTime }

// drainMerged non-blockingly pulls every ready result off the merged
// channel into pending, without waiting for more to arrive.
func (p *SimulatedPool) drainMerged() {
	for {
		select {
		case q, ok := <-p.merged:
			if !ok {
				return
			}
			p.pendingMu.Lock()
			p.pending = append(p.pending, q)
			p.pendingMu.Unlock()
		default:
			return
		}
	}
}

// AWorkerIsFree reports whether a worker is available to accept a dispatch:
// either a result is ready to drain, or fewer jobs are busy than there are
// workers (which includes the very first call of a run). In the second case
// the reported receive time is 0.
func (p *SimulatedPool) AWorkerIsFree() (float64, bool) {
	p.drainMerged()
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if len(p.pending) > 0 {
		return lastReceiveTime(p.pending), true
	}
	if atomic.LoadInt64(&p.busy) < int64(len(p.workerIDs)) {
		return 0, true
	}
	return 0, false
}

// AllWorkersAreFree reports whether every dispatched job has completed.
// It is vacuously true when nothing has ever been dispatched.
func (p *SimulatedPool) AllWorkersAreFree() (float64, bool) {
	p.drainMerged()
	if atomic.LoadInt64(&p.busy) > 0 {
		return 0, false
	}
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if len(p.pending) == 0 {
		return 0, true
	}
	return lastReceiveTime(p.pending), true
}

func lastReceiveTime(pending []*qinfo.QInfo) float64 {
	max := pending[0].SendTime + pending[0].EvalTime
	for _, q := range pending[1:] {
		if t := q.SendTime + q.EvalTime; t > max {
			max = t
		}
	}
	return max
}

func (p *SimulatedPool) FetchLatestResults() []*qinfo.QInfo {
	p.drainMerged()
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	out := p.pending
	p.pending = nil
	return out
}

func (p *SimulatedPool) DispatchSingleExperiment(caller policy.ExperimentCaller, q *qinfo.QInfo) error {
	if err := p.sem.Acquire(context.Background(), 1); err != nil {
		return err
	}
	p.freeMu.Lock()
	if len(p.freeIDs) == 0 {
		p.freeMu.Unlock()
		p.sem.Release(1)
		return fmt.Errorf("worker: no free worker despite acquired permit")
	}
	id := p.freeIDs[len(p.freeIDs)-1]
	p.freeIDs = p.freeIDs[:len(p.freeIDs)-1]
	p.freeMu.Unlock()

	atomic.AddInt64(&p.busy, 1)
	q.WorkerID = id
	p.jobs[id] <- q
	return nil
}

func (p *SimulatedPool) DispatchBatchOfExperiments(caller policy.ExperimentCaller, qinfos []*qinfo.QInfo) error {
	for _, q := range qinfos {
		if err := p.DispatchSingleExperiment(caller, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *SimulatedPool) CloseAllQueries() {
	p.cancel()
}
