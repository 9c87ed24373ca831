package game

// Grid is a dense row-major view of a snapshot's cells.
// Cells not reported by the engine read as Empty.
type Grid struct {
	Width   int
	Height  int
	content []CellContent
}

// MaxGridSize bounds either grid dimension. Cells beyond it are dropped so a
// corrupt coordinate cannot size the grid.
const MaxGridSize = 256

func cellInRange(c Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < MaxGridSize && c.Y < MaxGridSize
}

// NewGrid indexes the snapshot cells. Dimensions are derived from the largest
// reported coordinate; negative coordinates and coordinates at or beyond
// MaxGridSize are ignored.
func NewGrid(s *Snapshot) *Grid {
	g := &Grid{}
	if s == nil {
		return g
	}
	for _, c := range s.Cells {
		if !cellInRange(c) {
			continue
		}
		if c.X+1 > g.Width {
			g.Width = c.X + 1
		}
		if c.Y+1 > g.Height {
			g.Height = c.Y + 1
		}
	}
	g.content = make([]CellContent, g.Width*g.Height)
	for _, c := range s.Cells {
		if !cellInRange(c) {
			continue
		}
		g.content[c.Y*g.Width+c.X] = c.Content
	}
	return g
}

func (g *Grid) InBounds(p Point) bool {
	return p.X >= 0 && p.X < g.Width && p.Y >= 0 && p.Y < g.Height
}

// At returns the content at p, or Wall when p is off the grid.
func (g *Grid) At(p Point) CellContent {
	if !g.InBounds(p) {
		return Wall
	}
	return g.content[p.Y*g.Width+p.X]
}
