// Package game defines the world snapshot types received from the Zooscape engine.
//
// A Snapshot is the immutable per-tick view of the world. The decision engine only
// reads it; ownership stays with the transport that decoded it.
package game

// Point is a grid coordinate. (0,0) is the top-left cell; Up decreases Y.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Manhattan returns the L1 distance between two points.
func (p Point) Manhattan(o Point) int {
	return abs(p.X-o.X) + abs(p.Y-o.Y)
}

// Add offsets p by the unit step of a movement action.
func (p Point) Add(a Action) Point {
	d := a.Delta()
	return Point{X: p.X + d.X, Y: p.Y + d.Y}
}

// CellContent mirrors the engine's cell enum.
type CellContent int

const (
	Empty          CellContent = 0
	Wall           CellContent = 1
	Pellet         CellContent = 2
	ZookeeperSpawn CellContent = 3
	AnimalSpawn    CellContent = 4
	PowerPellet    CellContent = 5
	ChameleonCloak CellContent = 6
	Scavenger      CellContent = 7
	BigMooseJuice  CellContent = 8
)

// IsPowerUp reports whether the content is one of the collectable power-up kinds.
func (c CellContent) IsPowerUp() bool {
	return c >= PowerPellet && c <= BigMooseJuice
}

type Cell struct {
	X       int         `json:"x"`
	Y       int         `json:"y"`
	Content CellContent `json:"content"`
}

// Animal is an actor record. Our own animal and peers are both animals.
type Animal struct {
	ID              string `json:"id"`
	Nickname        string `json:"nickname"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
	SpawnX          int    `json:"spawnX"`
	SpawnY          int    `json:"spawnY"`
	Score           int    `json:"score"`
	CapturedCounter int    `json:"capturedCounter"`
	DistanceCovered int    `json:"distanceCovered"`
	IsViable        bool   `json:"isViable"`
	HeldPowerUp     *int   `json:"heldPowerUp,omitempty"`
}

func (a Animal) Position() Point { return Point{X: a.X, Y: a.Y} }

// Zookeeper is an adversary record.
type Zookeeper struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

func (z Zookeeper) Position() Point { return Point{X: z.X, Y: z.Y} }

// Snapshot is one tick of world state.
type Snapshot struct {
	Tick       int         `json:"tick"`
	Cells      []Cell      `json:"cells"`
	Animals    []Animal    `json:"animals"`
	Zookeepers []Zookeeper `json:"zookeepers"`
}

// FindAnimal returns the animal whose id or nickname equals who.
func (s *Snapshot) FindAnimal(who string) (Animal, bool) {
	if s == nil || who == "" {
		return Animal{}, false
	}
	for _, a := range s.Animals {
		if a.ID == who || a.Nickname == who {
			return a, true
		}
	}
	return Animal{}, false
}

// Clone performs a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	out := &Snapshot{Tick: s.Tick}
	if len(s.Cells) > 0 {
		out.Cells = make([]Cell, len(s.Cells))
		copy(out.Cells, s.Cells)
	}
	if len(s.Animals) > 0 {
		out.Animals = make([]Animal, len(s.Animals))
		copy(out.Animals, s.Animals)
		for i := range out.Animals {
			if p := s.Animals[i].HeldPowerUp; p != nil {
				v := *p
				out.Animals[i].HeldPowerUp = &v
			}
		}
	}
	if len(s.Zookeepers) > 0 {
		out.Zookeepers = make([]Zookeeper, len(s.Zookeepers))
		copy(out.Zookeepers, s.Zookeepers)
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
