package splatfit

import (
	"math"
)

// Adam is per-element adaptive gradient descent with bias-corrected first
// and second moments. One learning rate is shared by every parameter.
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	params []*Param
	state  map[*Param]*adamMoments
	steps  int
}

type adamMoments struct {
	m1, m2 []float64
}

func NewAdam(params []*Param, lr float64) *Adam {
	return &Adam{
		LR:     lr,
		Beta1:  0.9,
		Beta2:  0.999,
		Eps:    1e-8,
		params: params,
		state:  make(map[*Param]*adamMoments, len(params)),
	}
}

func (a *Adam) Params() []*Param {
	return a.params
}

// Steps returns how many updates have been applied.
func (a *Adam) Steps() int {
	return a.steps
}

func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// Step applies one update to every registered parameter from its current
// Grad. Moment buffers are created on first use and kept for the lifetime
// of the optimizer.
func (a *Adam) Step() {
	a.steps++
	b1t := 1.0 - math.Pow(a.Beta1, float64(a.steps))
	b2t := 1.0 - math.Pow(a.Beta2, float64(a.steps))
	for _, p := range a.params {
		st, ok := a.state[p]
		if !ok {
			st = &adamMoments{
				m1: make([]float64, len(p.Data)),
				m2: make([]float64, len(p.Data)),
			}
			a.state[p] = st
		}
		for i, g := range p.Grad {
			st.m1[i] = a.Beta1*st.m1[i] + (1.0-a.Beta1)*g
			st.m2[i] = a.Beta2*st.m2[i] + (1.0-a.Beta2)*g*g
			mhat := st.m1[i] / b1t
			vhat := st.m2[i] / b2t
			p.Data[i] -= a.LR * mhat / (math.Sqrt(vhat) + a.Eps)
		}
	}
}

// Moments exposes the moment buffers of p, nil before the first Step.
func (a *Adam) Moments(p *Param) (m1, m2 []float64) {
	st, ok := a.state[p]
	if !ok {
		return nil, nil
	}
	return st.m1, st.m2
}
