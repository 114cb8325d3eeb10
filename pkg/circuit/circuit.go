package circuit

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/vanderheijden86/gridloom/pkg/arch"
)

// Sentinel errors for placement operations.
var (
	// ErrTypeMismatch indicates a block was offered a site of another type.
	ErrTypeMismatch = errors.New("circuit: block type does not match site type")
	// ErrSiteOccupied indicates the requested sub-slot is already taken.
	ErrSiteOccupied = errors.New("circuit: site sub-slot already occupied")
	// ErrNoSiteInRange indicates the random-site search exhausted its retry
	// budget without finding a matching site.
	ErrNoSiteInRange = errors.New("circuit: no site of required type in range")
	// ErrIllegalPlacement indicates a placement invariant does not hold.
	ErrIllegalPlacement = errors.New("circuit: illegal placement")
)

// randomSiteAttempts bounds the random-site search so infeasible windows
// fail instead of spinning.
const randomSiteAttempts = 64

// Circuit is a netlist bound to an architecture and, once BuildGrid has
// run, to a device grid.
type Circuit struct {
	Name string
	Arch *arch.Architecture

	Blocks []*Block // global blocks, dense Index
	Nets   []*Net
	Grid   *Grid

	byName   map[string]*Block
	pinCount int
}

// New creates an empty circuit for the architecture.
func New(a *arch.Architecture, name string) *Circuit {
	return &Circuit{
		Name:   name,
		Arch:   a,
		byName: make(map[string]*Block),
	}
}

// AddBlock registers a global block and indexes its pins (and its
// descendants' pins) for the timing graph.
func (c *Circuit) AddBlock(b *Block) {
	b.Index = len(c.Blocks)
	c.Blocks = append(c.Blocks, b)
	c.byName[b.Name] = b
	c.indexPins(b)
}

func (c *Circuit) indexPins(b *Block) {
	b.Pins(func(p *Pin) {
		p.Index = c.pinCount
		c.pinCount++
	})
	for _, child := range b.Children {
		c.indexPins(child)
	}
}

// PinCount returns the number of pins indexed so far.
func (c *Circuit) PinCount() int {
	return c.pinCount
}

// BlockNamed looks a global block up by name.
func (c *Circuit) BlockNamed(name string) (*Block, bool) {
	b, ok := c.byName[name]
	return b, ok
}

// AddNet registers a net and back-links its pins.
func (c *Circuit) AddNet(n *Net) {
	n.Index = len(c.Nets)
	c.Nets = append(c.Nets, n)
	n.Pins(func(p *Pin) {
		p.Net = n
	})
}

// Occupancy counts global blocks per block type.
func (c *Circuit) Occupancy() map[*arch.BlockType]int {
	occ := make(map[*arch.BlockType]int)
	for _, b := range c.Blocks {
		occ[b.Type]++
	}
	return occ
}

// BuildGrid attaches a device grid. size 0 selects the smallest square
// device that fits the circuit.
func (c *Circuit) BuildGrid(size int) error {
	if size == 0 {
		size = AutoSize(c.Arch, c.Occupancy())
	}
	g := NewGrid(c.Arch, size)
	for t, n := range c.Occupancy() {
		if n > g.CapacityOf(t) {
			return fmt.Errorf("%w: %d blocks of type %s but capacity %d on %dx%d device",
				ErrIllegalPlacement, n, t.Name, g.CapacityOf(t), size, size)
		}
	}
	c.Grid = g
	return nil
}

// Place assigns a block to a site sub-slot.
func (c *Circuit) Place(b *Block, s *Site, sub int) error {
	if b.Type != s.Type {
		return fmt.Errorf("%w: %s on %s", ErrTypeMismatch, b.Name, s)
	}
	if sub < 0 || sub >= s.Capacity {
		return fmt.Errorf("%w: sub-slot %d of %s", ErrSiteOccupied, sub, s)
	}
	if s.occupants[sub] != nil && s.occupants[sub] != b {
		return fmt.Errorf("%w: %s sub %d held by %s", ErrSiteOccupied, s, sub, s.occupants[sub].Name)
	}
	c.Unplace(b)
	s.occupants[sub] = b
	b.Site = s
	b.SubBlock = sub
	return nil
}

// Unplace removes a block from its site, if any.
func (c *Circuit) Unplace(b *Block) {
	if b.Site == nil {
		return
	}
	b.Site.occupants[b.SubBlock] = nil
	b.Site = nil
	b.SubBlock = 0
}

// Swap exchanges the site assignments of two placed blocks of equal type.
func (c *Circuit) Swap(a, b *Block) {
	sa, suba := a.Site, a.SubBlock
	sb, subb := b.Site, b.SubBlock
	sa.occupants[suba] = b
	sb.occupants[subb] = a
	a.Site, a.SubBlock = sb, subb
	b.Site, b.SubBlock = sa, suba
}

// MoveTo moves a placed block to a free sub-slot of another site.
func (c *Circuit) MoveTo(b *Block, s *Site, sub int) error {
	return c.Place(b, s, sub)
}

// RandomSiteNear picks a site of the block's type uniformly within a
// Chebyshev window of the given radius around the block's current site.
// The search retries a bounded number of times and fails with
// ErrNoSiteInRange when the window contains no matching site anchor.
func (c *Circuit) RandomSiteNear(rng *rand.Rand, b *Block, radius int) (*Site, error) {
	if b.Site == nil {
		return nil, fmt.Errorf("%w: %s is unplaced", ErrIllegalPlacement, b.Name)
	}
	cx, cy := b.Site.X, b.Site.Y
	for i := 0; i < randomSiteAttempts; i++ {
		x := cx - radius + rng.Intn(2*radius+1)
		y := cy - radius + rng.Intn(2*radius+1)
		s := c.Grid.SiteAt(x, y)
		if s == nil || s.Type != b.Type || s == b.Site {
			continue
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: type %s around (%d,%d) radius %d", ErrNoSiteInRange, b.Type.Name, cx, cy, radius)
}

// CheckLegal verifies the placement invariants: every global block sits on
// a site of its own type, no sub-slot holds more than one block, and the
// back-references agree.
func (c *Circuit) CheckLegal() error {
	seen := make(map[*Site]map[int]*Block)
	for _, b := range c.Blocks {
		if b.Site == nil {
			return fmt.Errorf("%w: %s unplaced", ErrIllegalPlacement, b.Name)
		}
		if b.Site.Type != b.Type {
			return fmt.Errorf("%w: %s (type %s) on %s", ErrIllegalPlacement, b.Name, b.Type.Name, b.Site)
		}
		if b.Site.Occupant(b.SubBlock) != b {
			return fmt.Errorf("%w: %s not registered at %s sub %d", ErrIllegalPlacement, b.Name, b.Site, b.SubBlock)
		}
		slots, ok := seen[b.Site]
		if !ok {
			slots = make(map[int]*Block)
			seen[b.Site] = slots
		}
		if other, dup := slots[b.SubBlock]; dup {
			return fmt.Errorf("%w: %s and %s share %s sub %d", ErrIllegalPlacement, other.Name, b.Name, b.Site, b.SubBlock)
		}
		slots[b.SubBlock] = b
	}
	return nil
}

// TotalHPWL sums the half-perimeter wire length of every net.
func (c *Circuit) TotalHPWL() int {
	total := 0
	for _, n := range c.Nets {
		total += n.HPWL()
	}
	return total
}
