// Package circuit models a post-packing netlist placed onto a device grid:
// global blocks (IO pads, CLBs, hardblocks) with their internal block tree,
// pins, nets, and the sites the blocks occupy.
//
// Blocks and pins are allocated once from the netlist and referenced by
// dense indices; only site assignments mutate during placement.
package circuit

import (
	"fmt"

	"github.com/vanderheijden86/gridloom/pkg/arch"
)

// Block is one instance of a block type. Global blocks (IO/CLB/hardblock)
// carry a site assignment; intermediate and leaf blocks hang off their
// parent's mode decomposition.
type Block struct {
	// Index is dense over the circuit's global blocks, or -1 for
	// internal blocks.
	Index int
	Name  string
	Type  *arch.BlockType
	Mode  *arch.Mode

	Parent   *Block
	Children []*Block

	Inputs  []*Pin
	Outputs []*Pin

	// Site assignment; nil until placed. SubBlock selects the sub-slot
	// on sites with capacity > 1 (IO pads), 0 otherwise.
	Site     *Site
	SubBlock int
}

// Global reports whether the block occupies a device site itself.
func (b *Block) Global() bool {
	return b.Type.Category.Global()
}

// Position returns the block's site coordinates. Internal blocks inherit
// the position of their global ancestor. Calling Position on an unplaced
// block is a programming error.
func (b *Block) Position() (x, y int) {
	g := b
	for g.Site == nil && g.Parent != nil {
		g = g.Parent
	}
	if g.Site == nil {
		panic(fmt.Sprintf("circuit: block %s has no site", b.Name))
	}
	return g.Site.X, g.Site.Y
}

// GlobalAncestor walks up to the global block that owns this block.
func (b *Block) GlobalAncestor() *Block {
	g := b
	for g.Parent != nil {
		g = g.Parent
	}
	return g
}

// Pins calls fn for every pin of the block.
func (b *Block) Pins(fn func(*Pin)) {
	for _, p := range b.Inputs {
		fn(p)
	}
	for _, p := range b.Outputs {
		fn(p)
	}
}

// FindPin returns the pin for port[bit], searching inputs then outputs.
func (b *Block) FindPin(port string, bit int) (*Pin, bool) {
	for _, p := range b.Inputs {
		if p.Port == port && p.Bit == bit {
			return p, true
		}
	}
	for _, p := range b.Outputs {
		if p.Port == port && p.Bit == bit {
			return p, true
		}
	}
	return nil, false
}

// Pin is one bit of a port on one block.
type Pin struct {
	Owner  *Block
	Port   string
	Bit    int
	Output bool

	// Net is the net driving (for inputs) or driven by (for outputs)
	// this pin; nil for unconnected pins.
	Net *Net

	// Index is dense over all pins in the circuit, assigned at build
	// time; the timing graph keys its vertices on it.
	Index int
}

// String renders the pin as block.port[bit].
func (p *Pin) String() string {
	return fmt.Sprintf("%s.%s[%d]", p.Owner.Name, p.Port, p.Bit)
}

// NewBlock allocates a block of the given type with its pin set and records
// the selected mode. It does not create child blocks for the mode's
// children; Children stays empty.
func NewBlock(name string, t *arch.BlockType, mode *arch.Mode) *Block {
	b := &Block{
		Index: -1,
		Name:  name,
		Type:  t,
		Mode:  mode,
	}
	for _, port := range t.Inputs {
		for bit := 0; bit < port.Count; bit++ {
			b.Inputs = append(b.Inputs, &Pin{Owner: b, Port: port.Name, Bit: bit})
		}
	}
	for _, port := range t.Outputs {
		for bit := 0; bit < port.Count; bit++ {
			b.Outputs = append(b.Outputs, &Pin{Owner: b, Port: port.Name, Bit: bit, Output: true})
		}
	}
	return b
}
