package qnet

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewNetworkRejectsBadSizes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := NewNetwork([]int{4}, rng)
	require.ErrorIs(t, err, ErrShape)
	_, err = NewNetwork([]int{4, 0, 2}, rng)
	require.ErrorIs(t, err, ErrShape)
}

func TestPredictShape(t *testing.T) {
	n, err := NewNetwork([]int{3, 5, 2}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	out, err := n.Predict([]float64{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	_, err = n.Predict([]float64{1, 2})
	assert.ErrorIs(t, err, ErrShape)
}

func TestPredictMatchesBatch(t *testing.T) {
	n, err := NewNetwork([]int{3, 6, 4, 2}, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	rows := [][]float64{{0.1, -0.4, 2}, {1, 1, 1}}
	x := mat.NewDense(2, 3, append(append([]float64{}, rows[0]...), rows[1]...))
	batch, err := n.PredictBatch(x)
	require.NoError(t, err)

	for i, r := range rows {
		single, err := n.Predict(r)
		require.NoError(t, err)
		for j := range single {
			assert.InDelta(t, single[j], batch.At(i, j), 1e-12)
		}
	}
}

// Backprop agrees with central differences for L = sum(out .* c).
func TestBackwardMatchesNumericGradient(t *testing.T) {
	n, err := NewNetwork([]int{3, 4, 2}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	x := mat.NewDense(2, 3, []float64{0.5, -1, 0.25, 1.5, 0.3, -0.7})
	c := mat.NewDense(2, 2, []float64{1, -2, 0.5, 3})

	loss := func() float64 {
		out, err := n.PredictBatch(x)
		require.NoError(t, err)
		var s mat.Dense
		s.MulElem(out, c)
		return mat.Sum(&s)
	}

	acts, pre, err := n.forward(x)
	require.NoError(t, err)
	g := n.backward(acts, pre, c)

	const h = 1e-6
	for li, l := range n.layers {
		w := l.w.RawMatrix().Data
		for k := range w {
			orig := w[k]
			w[k] = orig + h
			up := loss()
			w[k] = orig - h
			down := loss()
			w[k] = orig
			assert.InDelta(t, (up-down)/(2*h), g.w[li].RawMatrix().Data[k], 1e-5, "layer %d weight %d", li, k)
		}
		b := l.b.RawVector().Data
		for k := range b {
			orig := b[k]
			b[k] = orig + h
			up := loss()
			b[k] = orig - h
			down := loss()
			b[k] = orig
			assert.InDelta(t, (up-down)/(2*h), g.b[li][k], 1e-5, "layer %d bias %d", li, k)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	n, err := NewNetwork([]int{2, 3, 2}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	c := n.Clone()
	require.True(t, n.Equal(c))

	c.layers[0].w.Set(0, 0, 42)
	assert.False(t, n.Equal(c))

	require.NoError(t, c.CopyFrom(n))
	assert.True(t, n.Equal(c))

	other, err := NewNetwork([]int{2, 4, 2}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.ErrorIs(t, c.CopyFrom(other), ErrShape)
}

func TestCodecRoundTrip(t *testing.T) {
	n, err := NewNetwork([]int{5, 7, 3, 4}, rand.New(rand.NewSource(11)))
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = n.WriteTo(&buf)
	require.NoError(t, err)

	got, err := ReadNetwork(&buf)
	require.NoError(t, err)
	assert.True(t, n.Equal(got))
	assert.Equal(t, []int{5, 7, 3, 4}, got.Sizes())
}

func TestCodecRejectsGarbage(t *testing.T) {
	_, err := ReadNetwork(bytes.NewReader([]byte("NOPE\x01\x00\x00\x00")))
	assert.ErrorIs(t, err, ErrShape)

	_, err = ReadNetwork(bytes.NewReader([]byte("ZQ")))
	assert.Error(t, err)
}
