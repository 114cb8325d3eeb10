package circuit

import (
	"fmt"

	"github.com/vanderheijden86/gridloom/pkg/arch"
)

// Site is one placeable grid location. A hardblock site of height h covers
// rows y..y+h-1 of its column; the covered rows carry no site of their own.
type Site struct {
	X, Y     int
	Type     *arch.BlockType
	Capacity int

	occupants []*Block // indexed by sub-slot, nil when free
}

// Occupant returns the block in the given sub-slot, or nil.
func (s *Site) Occupant(sub int) *Block {
	if sub < 0 || sub >= len(s.occupants) {
		return nil
	}
	return s.occupants[sub]
}

// FreeSlot returns the first free sub-slot index.
func (s *Site) FreeSlot() (int, bool) {
	for i, b := range s.occupants {
		if b == nil {
			return i, true
		}
	}
	return 0, false
}

// Occupancy returns the number of occupied sub-slots.
func (s *Site) Occupancy() int {
	n := 0
	for _, b := range s.occupants {
		if b != nil {
			n++
		}
	}
	return n
}

// Grid is the square device: IO sites on the perimeter, CLB and
// column-patterned hardblock sites in the interior.
type Grid struct {
	Width  int
	Height int
	Arch   *arch.Architecture

	sites  []*Site
	at     [][]*Site // at[x][y]; nil where no site starts
	byType map[*arch.BlockType][]*Site
}

// NewGrid builds a size×size device for the architecture.
func NewGrid(a *arch.Architecture, size int) *Grid {
	g := &Grid{
		Width:  size,
		Height: size,
		Arch:   a,
		byType: make(map[*arch.BlockType][]*Site),
	}
	g.at = make([][]*Site, size)
	for x := range g.at {
		g.at[x] = make([]*Site, size)
	}

	ioType := ioBlockType(a)

	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			onXEdge := x == 0 || x == size-1
			onYEdge := y == 0 || y == size-1
			if onXEdge && onYEdge {
				continue // corners hold no sites
			}
			if onXEdge || onYEdge {
				if ioType != nil {
					g.addSite(&Site{X: x, Y: y, Type: ioType, Capacity: a.IOCapacity})
				}
				continue
			}
		}
	}

	// Interior columns: the first hardblock type whose pattern matches owns
	// the column; otherwise it is a CLB column.
	clbType := clbBlockType(a)
	for x := 1; x < size-1; x++ {
		owner := clbType
		for _, t := range a.HardBlockTypes() {
			if t.OccupiesColumn(x, size) {
				owner = t
				break
			}
		}
		if owner == nil {
			continue
		}
		for y := 1; y+owner.Height-1 <= size-2; y += owner.Height {
			g.addSite(&Site{X: x, Y: y, Type: owner, Capacity: 1})
		}
	}

	return g
}

func (g *Grid) addSite(s *Site) {
	s.occupants = make([]*Block, s.Capacity)
	g.sites = append(g.sites, s)
	g.at[s.X][s.Y] = s
	g.byType[s.Type] = append(g.byType[s.Type], s)
}

// SiteAt returns the site anchored at (x, y), or nil.
func (g *Grid) SiteAt(x, y int) *Site {
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return nil
	}
	return g.at[x][y]
}

// Sites returns every site on the device.
func (g *Grid) Sites() []*Site {
	return g.sites
}

// SitesOfType returns all sites for one block type, in column-major order.
func (g *Grid) SitesOfType(t *arch.BlockType) []*Site {
	return g.byType[t]
}

// CapacityOf returns the total block capacity for one type.
func (g *Grid) CapacityOf(t *arch.BlockType) int {
	n := 0
	for _, s := range g.byType[t] {
		n += s.Capacity
	}
	return n
}

// AutoSize returns the smallest square device size whose per-type capacity
// covers the given occupancy counts.
func AutoSize(a *arch.Architecture, occupancy map[*arch.BlockType]int) int {
	for size := 2; ; size++ {
		g := NewGrid(a, size)
		ok := true
		for t, n := range occupancy {
			if n > g.CapacityOf(t) {
				ok = false
				break
			}
		}
		if ok {
			return size
		}
	}
}

func ioBlockType(a *arch.Architecture) *arch.BlockType {
	for _, t := range a.BlockTypes() {
		if t.Category == arch.CategoryIO {
			return t
		}
	}
	return nil
}

func clbBlockType(a *arch.Architecture) *arch.BlockType {
	for _, t := range a.BlockTypes() {
		if t.Category == arch.CategoryCLB {
			return t
		}
	}
	return nil
}

func (s *Site) String() string {
	return fmt.Sprintf("%s(%d,%d)", s.Type.Name, s.X, s.Y)
}
