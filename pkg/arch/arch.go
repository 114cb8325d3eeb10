// Package arch models an FPGA architecture: the catalogue of block types,
// their ports and modes, the intra-block delay tables, and the column
// pattern that lays hardblock types out on the device grid.
//
// An Architecture is built once by Load and is immutable afterwards; it is
// threaded by reference through the placer, router and timing graph. Block
// types are identified by a dense index so identity checks are integer
// comparisons.
package arch

import "fmt"

// Category classifies a block type.
type Category int

const (
	// CategoryIO marks the pad blocks on the device perimeter.
	CategoryIO Category = iota
	// CategoryCLB marks the default logic block filling interior columns.
	CategoryCLB
	// CategoryHardBlock marks column-patterned hard macros (DSP, RAM).
	CategoryHardBlock
	// CategoryIntermediate marks non-global container blocks inside a CLB.
	CategoryIntermediate
	// CategoryLeaf marks primitive blocks (LUT, FF) with pin-level timing.
	CategoryLeaf
)

// String returns the lower-case category name.
func (c Category) String() string {
	switch c {
	case CategoryIO:
		return "io"
	case CategoryCLB:
		return "clb"
	case CategoryHardBlock:
		return "hardblock"
	case CategoryIntermediate:
		return "intermediate"
	case CategoryLeaf:
		return "leaf"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Global reports whether blocks of this category occupy device sites.
func (c Category) Global() bool {
	return c == CategoryIO || c == CategoryCLB || c == CategoryHardBlock
}

// Port is a named port bundle with a multiplicity.
type Port struct {
	Name  string
	Count int
}

// ChildSpec names a child block type and how many instances a mode contains.
type ChildSpec struct {
	TypeName string
	Count    int
}

// Mode is one choice of internal decomposition for a block type.
// Leaf types carry a single unnamed mode with no children.
type Mode struct {
	Name     string
	Children []ChildSpec
}

// BlockType describes one kind of block. Height, Start and Repeat control
// the column pattern for hardblocks; IO and CLB always have height 1 and
// repeat 1.
type BlockType struct {
	Index    int
	Name     string
	Category Category
	Clocked  bool

	Height int
	Start  int
	Repeat int

	Inputs  []Port
	Outputs []Port
	Modes   []Mode
}

// InputCount returns the total number of input pins across all input ports.
func (t *BlockType) InputCount() int {
	n := 0
	for _, p := range t.Inputs {
		n += p.Count
	}
	return n
}

// OutputCount returns the total number of output pins across all output ports.
func (t *BlockType) OutputCount() int {
	n := 0
	for _, p := range t.Outputs {
		n += p.Count
	}
	return n
}

// ModeNamed returns the mode with the given name. Leaf types match the
// empty name.
func (t *BlockType) ModeNamed(name string) (*Mode, bool) {
	for i := range t.Modes {
		if t.Modes[i].Name == name {
			return &t.Modes[i], true
		}
	}
	return nil, false
}

// OccupiesColumn reports whether a hardblock type of this kind owns device
// column c. Column 0 and the last column are IO and never match.
func (t *BlockType) OccupiesColumn(c, width int) bool {
	if t.Category != CategoryHardBlock {
		return false
	}
	if c <= 0 || c >= width-1 {
		return false
	}
	d := c - 1 - t.Start
	return d >= 0 && d%t.Repeat == 0
}

// Architecture is the immutable context shared by every subsystem.
type Architecture struct {
	Name       string
	IOCapacity int

	// ClockSetupTime is the flip-flop setup time in picoseconds.
	ClockSetupTime float64

	blockTypes []*BlockType
	byName     map[string]*BlockType

	// delays holds the sparse intra-block delay table keyed per the
	// architecture file format ("a.p-b.q", "a-b.q", "a.p-b").
	delays map[string]float64
}

// BlockTypes returns all block types in index order.
func (a *Architecture) BlockTypes() []*BlockType {
	return a.blockTypes
}

// BlockType looks a type up by name.
func (a *Architecture) BlockType(name string) (*BlockType, bool) {
	t, ok := a.byName[name]
	return t, ok
}

// HardBlockTypes returns the hardblock types in index order.
func (a *Architecture) HardBlockTypes() []*BlockType {
	var out []*BlockType
	for _, t := range a.blockTypes {
		if t.Category == CategoryHardBlock {
			out = append(out, t)
		}
	}
	return out
}

// Delay returns the combinational delay in picoseconds from srcType.srcPort
// to sinkType.sinkPort, consulting the full key first and falling back to
// the source-setup and sink-setup forms. Missing entries are 0.
func (a *Architecture) Delay(srcType, srcPort, sinkType, sinkPort string) float64 {
	if d, ok := a.delays[srcType+"."+srcPort+"-"+sinkType+"."+sinkPort]; ok {
		return d
	}
	if d, ok := a.delays[srcType+"."+srcPort+"-"+sinkType]; ok {
		return d
	}
	if d, ok := a.delays[srcType+"-"+sinkType+"."+sinkPort]; ok {
		return d
	}
	return 0
}

// DelayEntry is like Delay but also reports whether the table has an
// entry for the pair at all; the timing graph only creates arcs for pairs
// the table mentions.
func (a *Architecture) DelayEntry(srcType, srcPort, sinkType, sinkPort string) (float64, bool) {
	if d, ok := a.delays[srcType+"."+srcPort+"-"+sinkType+"."+sinkPort]; ok {
		return d, true
	}
	if d, ok := a.delays[srcType+"."+srcPort+"-"+sinkType]; ok {
		return d, true
	}
	if d, ok := a.delays[srcType+"-"+sinkType+"."+sinkPort]; ok {
		return d, true
	}
	return 0, false
}
