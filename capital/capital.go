// Package capital implements the three interchangeable strategies for
// measuring the "time" a dispatch loop uses to track budget consumption:
// a caller-reported return value, CPU time, or wall-clock time.
package capital

import (
	"fmt"
	"time"

	"tabular/atomic_float"
	"tabular/qinfo"
)

// Type selects a capital clock strategy.
type Type string

const (
	ReturnValue Type = "return_value"
	CPUTime     Type = "cputime"
	RealTime    Type = "realtime"
)

// Clock abstracts the "time" used to measure budget consumption.
type Clock interface {
	Init()
	Spent() float64
	// SetSpent is only meaningful for the return_value strategy; other
	// strategies ignore it, matching set_curr_spent_capital in the source.
	SetSpent(x float64)
}

// New constructs a Clock for the given type. An unknown type is a fatal
// configuration error (spec.md §7, "Unknown capital_type").
func New(t Type) (Clock, error) {
	switch t {
	case ReturnValue:
		return &returnValueClock{spent: atomic_float.NewAtomicFloat64(0)}, nil
	case CPUTime:
		return &cpuTimeClock{}, nil
	case RealTime:
		return &realTimeClock{}, nil
	default:
		return nil, fmt.Errorf("capital: unknown capital_type %q", t)
	}
}

// returnValueClock treats capital as an abstract scalar advanced by
// reported evaluation times, with no relation to actual elapsed time.
// Useful for simulations where "cost" is synthetic.
type returnValueClock struct {
	spent *atomic_float.AtomicFloat64
}

func (c *returnValueClock) Init()              { c.spent.AtomicSet(0) }
func (c *returnValueClock) Spent() float64      { return c.spent.AtomicRead() }
func (c *returnValueClock) SetSpent(x float64)  { c.spent.AtomicSet(x) }

// cpuTimeClock measures capital as elapsed wall-clock time since Init, used
// as a stand-in for process CPU time (see cpuTimeSince); it does not read
// the process's CPU clock.
type cpuTimeClock struct {
	start time.Time
}

func (c *cpuTimeClock) Init()             { c.start = time.Now() }
func (c *cpuTimeClock) Spent() float64    { return cpuTimeSince(c.start) }
func (c *cpuTimeClock) SetSpent(float64)  {}

// realTimeClock measures capital against wall-clock time, captured at Init.
type realTimeClock struct {
	start time.Time
}

func (c *realTimeClock) Init()            { c.start = time.Now() }
func (c *realTimeClock) Spent() float64   { return time.Since(c.start).Seconds() }
func (c *realTimeClock) SetSpent(float64) {}

// cpuTimeSince approximates process CPU time elapsed since start. Go has no
// single stdlib equivalent of Python's time.clock(); wall-clock elapsed time
// is used as the measurable proxy, so idle time, including the driver's
// poll sleeps, counts as spent capital.
func cpuTimeSince(start time.Time) float64 {
	return time.Since(start).Seconds()
}

// UpdateCapital implements _update_capital (spec.md §4.3, §7): for each
// qinfo it computes ReceiveTime per the clock's strategy, rewrites
// EvalTime, and rejects any negative result as a fatal invalid-timing
// error. It returns the maximum receive time across the batch, which is
// the loop's observable capital advance.
func UpdateCapital(clock Clock, t Type, qinfos []*qinfo.QInfo) (maxReceiveTime float64, err error) {
	if len(qinfos) == 0 {
		return 0, nil
	}
	for idx := range qinfos {
		q := qinfos[idx]
		var receiveTime float64
		switch t {
		case ReturnValue:
			receiveTime = q.SendTime + q.EvalTime
		case CPUTime, RealTime:
			receiveTime = clock.Spent()
		default:
			return 0, fmt.Errorf("capital: unknown capital_type %q", t)
		}
		q.ReceiveTime = receiveTime
		q.EvalTime = q.ReceiveTime - q.SendTime
		if q.EvalTime < 0 {
			return 0, &InvalidTimingError{SendTime: q.SendTime, ReceiveTime: q.ReceiveTime, EvalTime: q.EvalTime}
		}
		if idx == 0 || receiveTime > maxReceiveTime {
			maxReceiveTime = receiveTime
		}
	}
	return maxReceiveTime, nil
}

// InvalidTimingError is raised when a query's eval_time would be negative.
type InvalidTimingError struct {
	SendTime, ReceiveTime, EvalTime float64
}

func (e *InvalidTimingError) Error() string {
	return fmt.Sprintf("invalid timing: send=%0.4f receive=%0.4f eval=%0.4f",
		e.SendTime, e.ReceiveTime, e.EvalTime)
}
