package features

// Channel layout of a Tensor's planes.
const (
	ChanWalls = iota
	ChanPellets
	ChanSelf
	ChanAdversaries
	ChanPelletDistance
	ChanAdversaryDistance
	ChanVisited
	ChanPeer

	Channels = 8
)

// Metadata layout.
const (
	MetaTick = iota
	MetaAnimals
	MetaZookeepers

	MetaSize = 3
)

// Tensor is the per-tick network input: Channels planes of Size×Size cells,
// stored [C][Y][X], plus a short metadata vector. It is not modified after
// Process returns it.
type Tensor struct {
	Size   int
	Planes []float64
	Meta   []float64
}

func newTensor(size int) *Tensor {
	return &Tensor{
		Size:   size,
		Planes: make([]float64, Channels*size*size),
		Meta:   make([]float64, MetaSize),
	}
}

// InputLen is the flattened length of a tensor for the given grid size.
func InputLen(size int) int {
	return Channels*size*size + MetaSize
}

// Len is the flattened length of t.
func (t *Tensor) Len() int {
	return len(t.Planes) + len(t.Meta)
}

// At reads channel c at (x, y). Out-of-range coordinates read as 0.
func (t *Tensor) At(c, x, y int) float64 {
	if x < 0 || x >= t.Size || y < 0 || y >= t.Size {
		return 0
	}
	return t.Planes[c*t.Size*t.Size+y*t.Size+x]
}

// Plane returns channel c as a slice into the tensor.
func (t *Tensor) Plane(c int) []float64 {
	n := t.Size * t.Size
	return t.Planes[c*n : (c+1)*n]
}

// Flatten appends planes then metadata to dst.
func (t *Tensor) Flatten(dst []float64) []float64 {
	dst = append(dst, t.Planes...)
	return append(dst, t.Meta...)
}
