package qnet

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ErrShape reports an input, batch or checkpoint whose dimensions do not match
// the network architecture.
var ErrShape = errors.New("qnet: shape mismatch")

type layer struct {
	w *mat.Dense    // out x in
	b *mat.VecDense // out
}

// Network is a fully connected ReLU network with a linear output layer.
// A Network is not safe for concurrent mutation; published copies are
// treated as read-only.
type Network struct {
	sizes  []int
	layers []layer
}

// NewNetwork builds a network with the given layer sizes (input first, output
// last) using Glorot-uniform weights and zero biases.
func NewNetwork(sizes []int, rng *rand.Rand) (*Network, error) {
	if len(sizes) < 2 {
		return nil, fmt.Errorf("%w: need at least input and output sizes, got %v", ErrShape, sizes)
	}
	for _, s := range sizes {
		if s <= 0 {
			return nil, fmt.Errorf("%w: non-positive layer size in %v", ErrShape, sizes)
		}
	}

	n := &Network{sizes: append([]int(nil), sizes...)}
	for i := 1; i < len(sizes); i++ {
		in, out := sizes[i-1], sizes[i]
		limit := math.Sqrt(6 / float64(in+out))
		data := make([]float64, out*in)
		for j := range data {
			data[j] = (rng.Float64()*2 - 1) * limit
		}
		n.layers = append(n.layers, layer{
			w: mat.NewDense(out, in, data),
			b: mat.NewVecDense(out, nil),
		})
	}
	return n, nil
}

// Sizes returns a copy of the layer sizes.
func (n *Network) Sizes() []int { return append([]int(nil), n.sizes...) }

func (n *Network) InputSize() int  { return n.sizes[0] }
func (n *Network) OutputSize() int { return n.sizes[len(n.sizes)-1] }

// Predict evaluates a single input vector.
func (n *Network) Predict(input []float64) ([]float64, error) {
	if len(input) != n.InputSize() {
		return nil, fmt.Errorf("%w: input length %d, want %d", ErrShape, len(input), n.InputSize())
	}

	x := mat.NewVecDense(len(input), append([]float64(nil), input...))
	for i, l := range n.layers {
		out, _ := l.w.Dims()
		z := mat.NewVecDense(out, nil)
		z.MulVec(l.w, x)
		z.AddVec(z, l.b)
		if i < len(n.layers)-1 {
			relu(z.RawVector().Data)
		}
		x = z
	}
	return append([]float64(nil), x.RawVector().Data...), nil
}

// PredictBatch evaluates each row of x.
func (n *Network) PredictBatch(x *mat.Dense) (*mat.Dense, error) {
	acts, _, err := n.forward(x)
	if err != nil {
		return nil, err
	}
	return acts[len(acts)-1], nil
}

// forward returns every layer's activations (acts[0] is the input) and the
// hidden pre-activations needed for backprop.
func (n *Network) forward(x *mat.Dense) (acts []*mat.Dense, pre []*mat.Dense, err error) {
	rows, cols := x.Dims()
	if cols != n.InputSize() {
		return nil, nil, fmt.Errorf("%w: batch width %d, want %d", ErrShape, cols, n.InputSize())
	}

	acts = append(acts, x)
	for i, l := range n.layers {
		out, _ := l.w.Dims()
		z := mat.NewDense(rows, out, nil)
		z.Mul(acts[i], l.w.T())
		addBias(z, l.b.RawVector().Data)
		pre = append(pre, z)

		if i == len(n.layers)-1 {
			acts = append(acts, z)
			continue
		}
		a := mat.DenseCopyOf(z)
		relu(a.RawMatrix().Data)
		acts = append(acts, a)
	}
	return acts, pre, nil
}

type gradients struct {
	w []*mat.Dense
	b [][]float64
}

// backward propagates dOut (gradient of the loss w.r.t. the output layer)
// through the cached forward pass.
func (n *Network) backward(acts, pre []*mat.Dense, dOut *mat.Dense) gradients {
	g := gradients{
		w: make([]*mat.Dense, len(n.layers)),
		b: make([][]float64, len(n.layers)),
	}

	delta := dOut
	for i := len(n.layers) - 1; i >= 0; i-- {
		l := n.layers[i]
		out, in := l.w.Dims()

		dw := mat.NewDense(out, in, nil)
		dw.Mul(delta.T(), acts[i])
		g.w[i] = dw
		g.b[i] = columnSums(delta)

		if i == 0 {
			break
		}
		rows, _ := delta.Dims()
		prev := mat.NewDense(rows, in, nil)
		prev.Mul(delta, l.w)
		reluGrad(prev.RawMatrix().Data, pre[i-1].RawMatrix().Data)
		delta = prev
	}
	return g
}

// Clone returns a deep copy.
func (n *Network) Clone() *Network {
	out := &Network{sizes: append([]int(nil), n.sizes...)}
	for _, l := range n.layers {
		out.layers = append(out.layers, layer{
			w: mat.DenseCopyOf(l.w),
			b: mat.VecDenseCopyOf(l.b),
		})
	}
	return out
}

// CopyFrom overwrites n's parameters with src's. Architectures must match.
func (n *Network) CopyFrom(src *Network) error {
	if !sameSizes(n.sizes, src.sizes) {
		return fmt.Errorf("%w: copy %v into %v", ErrShape, src.sizes, n.sizes)
	}
	for i := range n.layers {
		n.layers[i].w.Copy(src.layers[i].w)
		n.layers[i].b.CopyVec(src.layers[i].b)
	}
	return nil
}

// Equal reports whether two networks have identical architecture and parameters.
func (n *Network) Equal(o *Network) bool {
	if !sameSizes(n.sizes, o.sizes) {
		return false
	}
	for i := range n.layers {
		if !mat.Equal(n.layers[i].w, o.layers[i].w) || !mat.Equal(n.layers[i].b, o.layers[i].b) {
			return false
		}
	}
	return true
}

func sameSizes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func relu(v []float64) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

func reluGrad(grad, z []float64) {
	for i := range grad {
		if z[i] <= 0 {
			grad[i] = 0
		}
	}
}

func addBias(m *mat.Dense, b []float64) {
	raw := m.RawMatrix()
	for r := 0; r < raw.Rows; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols]
		for c := range row {
			row[c] += b[c]
		}
	}
}

func columnSums(m *mat.Dense) []float64 {
	raw := m.RawMatrix()
	out := make([]float64, raw.Cols)
	for r := 0; r < raw.Rows; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols]
		for c, v := range row {
			out[c] += v
		}
	}
	return out
}
