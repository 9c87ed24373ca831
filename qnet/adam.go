package qnet

import "math"

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7
)

// adam keeps first and second moment estimates for every parameter of one
// network.
type adam struct {
	lr   float64
	t    int
	m, v [][]float64 // per parameter block: w0, b0, w1, b1, ...
}

func newAdam(n *Network, lr float64) *adam {
	a := &adam{lr: lr}
	for _, l := range n.layers {
		r, c := l.w.Dims()
		a.m = append(a.m, make([]float64, r*c), make([]float64, l.b.Len()))
		a.v = append(a.v, make([]float64, r*c), make([]float64, l.b.Len()))
	}
	return a
}

func (a *adam) step(n *Network, g gradients) {
	a.t++
	c1 := 1 - math.Pow(adamBeta1, float64(a.t))
	c2 := 1 - math.Pow(adamBeta2, float64(a.t))

	for i, l := range n.layers {
		a.update(2*i, l.w.RawMatrix().Data, g.w[i].RawMatrix().Data, c1, c2)
		a.update(2*i+1, l.b.RawVector().Data, g.b[i], c1, c2)
	}
}

func (a *adam) update(block int, params, grads []float64, c1, c2 float64) {
	m, v := a.m[block], a.v[block]
	for j, gr := range grads {
		m[j] = adamBeta1*m[j] + (1-adamBeta1)*gr
		v[j] = adamBeta2*v[j] + (1-adamBeta2)*gr*gr
		params[j] -= a.lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + adamEpsilon)
	}
}
