// Package features turns world snapshots into fixed-shape network input.
package features

import (
	"github.com/brensch/zoobot/game"
)

const (
	// VisitDecay is applied to the whole visitation map every tick before the
	// current position is written.
	VisitDecay = 0.99

	tickScale = 1000.0
)

// Extractor encodes snapshots into Tensors. It owns the per-episode visitation
// map, so one Extractor serves exactly one agent and must be Reset at episode
// boundaries.
type Extractor struct {
	size   int
	selfID string
	peerID string

	visited []float64

	// BFS scratch, reused across ticks.
	dist  []int
	queue []int
}

func NewExtractor(size int, selfID, peerID string) *Extractor {
	if size <= 0 {
		panic("features: grid size must be positive")
	}
	n := size * size
	return &Extractor{
		size:    size,
		selfID:  selfID,
		peerID:  peerID,
		visited: make([]float64, n),
		dist:    make([]int, n),
		queue:   make([]int, 0, n),
	}
}

func (e *Extractor) Size() int { return e.size }

// Reset clears the visitation map.
func (e *Extractor) Reset() {
	clear(e.visited)
}

// Process encodes the snapshot. Cells and marks outside the configured grid
// are dropped; a missing actor leaves the self channel empty.
func (e *Extractor) Process(s *game.Snapshot) *Tensor {
	t := newTensor(e.size)
	if s == nil {
		s = &game.Snapshot{}
	}

	set := func(c, x, y int, val float64) {
		if x < 0 || x >= e.size || y < 0 || y >= e.size {
			return
		}
		t.Planes[c*e.size*e.size+y*e.size+x] = val
	}

	for _, cell := range s.Cells {
		switch cell.Content {
		case game.Wall:
			set(ChanWalls, cell.X, cell.Y, 1)
		case game.Pellet:
			set(ChanPellets, cell.X, cell.Y, 1)
		}
	}

	var self *game.Point
	for _, a := range s.Animals {
		switch {
		case e.selfID != "" && (a.ID == e.selfID || a.Nickname == e.selfID):
			p := a.Position()
			self = &p
			set(ChanSelf, a.X, a.Y, 1)
		case e.peerID != "" && (a.ID == e.peerID || a.Nickname == e.peerID):
			set(ChanPeer, a.X, a.Y, 1)
		}
	}

	for _, z := range s.Zookeepers {
		set(ChanAdversaries, z.X, z.Y, 1)
	}

	e.distanceTransform(t.Plane(ChanPellets), t.Plane(ChanPelletDistance))
	e.distanceTransform(t.Plane(ChanAdversaries), t.Plane(ChanAdversaryDistance))

	for i := range e.visited {
		e.visited[i] *= VisitDecay
	}
	if self != nil && self.X >= 0 && self.X < e.size && self.Y >= 0 && self.Y < e.size {
		e.visited[self.Y*e.size+self.X] = 1
	}
	copy(t.Plane(ChanVisited), e.visited)

	t.Meta[MetaTick] = float64(s.Tick) / tickScale
	t.Meta[MetaAnimals] = float64(len(s.Animals))
	t.Meta[MetaZookeepers] = float64(len(s.Zookeepers))

	return t
}

// distanceTransform writes, for every cell, the Manhattan distance to the
// nearest marked cell of ref divided by the grid size. With no marked cells
// every cell is set to the grid size itself.
//
// A multi-source BFS over the open 4-connected grid yields exactly the
// Manhattan distance, in O(cells).
func (e *Extractor) distanceTransform(ref, out []float64) {
	size := e.size
	q := e.queue[:0]
	for i := range e.dist {
		if ref[i] > 0.5 {
			e.dist[i] = 0
			q = append(q, i)
		} else {
			e.dist[i] = -1
		}
	}

	if len(q) == 0 {
		for i := range out {
			out[i] = float64(size)
		}
		e.queue = q
		return
	}

	for head := 0; head < len(q); head++ {
		idx := q[head]
		x, y := idx%size, idx/size
		d := e.dist[idx] + 1
		if x > 0 && e.dist[idx-1] < 0 {
			e.dist[idx-1] = d
			q = append(q, idx-1)
		}
		if x < size-1 && e.dist[idx+1] < 0 {
			e.dist[idx+1] = d
			q = append(q, idx+1)
		}
		if y > 0 && e.dist[idx-size] < 0 {
			e.dist[idx-size] = d
			q = append(q, idx-size)
		}
		if y < size-1 && e.dist[idx+size] < 0 {
			e.dist[idx+size] = d
			q = append(q, idx+size)
		}
	}
	e.queue = q

	scale := float64(size)
	for i, d := range e.dist {
		out[i] = float64(d) / scale
	}
}
