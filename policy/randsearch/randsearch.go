// Package randsearch implements a minimal concrete query-selection policy:
// uniform random sampling over a domain, validated by the domain's own
// Contains predicate. It exists to exercise and test the dispatch loop
// end to end, not as a serious acquisition strategy.
package randsearch

import (
	"math/rand"

	"tabular/domain"
	"tabular/qinfo"
)

// Sampler draws one candidate point, independent of history. A concrete
// caller supplies one that knows how to generate points in its own domain
// (e.g. uniformly within Euclidean bounds); Policy only validates the
// result against Contains and retries on rejection, mirroring the
// teacher's getRandAction/getRandDv rejection-free sampling style in
// reinforcement/learning.go, generalised here with a retry loop since
// randsearch's domains are not necessarily pre-bounded to always succeed.
type Sampler func(rng *rand.Rand) any

// Policy is a uniform-random, model-free query-selection policy.
type Policy struct {
	dom      domain.Domain
	sample   Sampler
	rng      *rand.Rand
	maxTries int
}

// NewPolicy builds a random-search policy over dom, drawing candidates
// from sample and rejecting (re-sampling) any draw outside dom.
func NewPolicy(dom domain.Domain, sample Sampler, seed int64) *Policy {
	return &Policy{
		dom:      dom,
		sample:   sample,
		rng:      rand.New(rand.NewSource(seed)),
		maxTries: 1000,
	}
}

// NewEuclideanPolicy is a convenience constructor for the common case: a
// box-bounded continuous domain, sampled coordinate-wise uniformly.
func NewEuclideanPolicy(bounds []domain.Bound, seed int64) (*Policy, error) {
	dom, err := domain.NewEuclideanDomain(bounds)
	if err != nil {
		return nil, err
	}
	sample := func(rng *rand.Rand) any {
		point := make([]float64, len(bounds))
		for i, b := range bounds {
			point[i] = b.Lo + rng.Float64()*(b.Hi-b.Lo)
		}
		return point
	}
	return NewPolicy(dom, sample, seed), nil
}

// NewDiscretePolicy is a convenience constructor over a finite item list.
func NewDiscretePolicy(items []any, seed int64) *Policy {
	dom := domain.NewDiscreteDomain(items)
	sample := func(rng *rand.Rand) any {
		return items[rng.Intn(len(items))]
	}
	return NewPolicy(dom, sample, seed)
}

func (p *Policy) drawValidPoint() any {
	point := p.sample(p.rng)
	for i := 1; i < p.maxTries && !p.dom.Contains(point); i++ {
		point = p.sample(p.rng)
	}
	// If retries are exhausted, the last draw is returned regardless. A
	// domain/sampler pairing this persistently mismatched is a caller
	// configuration bug, not a runtime condition the policy can recover from.
	return point
}

func (p *Policy) PolicySetUp() error              { return nil }
func (p *Policy) PolicyStr() string               { return "randsearch" }
func (p *Policy) IsAnMFPolicy() bool              { return false }
func (p *Policy) PolicyRunExperimentsInitialise() {}
func (p *Policy) PolicyUpdateHistory(*qinfo.QInfo) {}
func (p *Policy) ChildBuildNewModel()              {}
func (p *Policy) AddDataToModel([]*qinfo.QInfo)    {}
func (p *Policy) PolicyReportResultsStr() string   { return "randsearch: no model" }
func (p *Policy) PostProcessPoint(point any) any   { return point }

func (p *Policy) DetermineNextQuery() (*qinfo.QInfo, error) {
	return &qinfo.QInfo{Point: p.PostProcessPoint(p.drawValidPoint())}, nil
}

func (p *Policy) DetermineNextBatchOfQueries(batchSize int) ([]*qinfo.QInfo, error) {
	out := make([]*qinfo.QInfo, batchSize)
	for i := range out {
		out[i] = &qinfo.QInfo{Point: p.PostProcessPoint(p.drawValidPoint())}
	}
	return out, nil
}

func (p *Policy) GetInitialQInfos(n int) ([]*qinfo.QInfo, error) {
	return p.DetermineNextBatchOfQueries(n)
}
