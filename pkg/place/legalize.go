package place

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vanderheijden86/gridloom/pkg/arch"
	"github.com/vanderheijden86/gridloom/pkg/circuit"
)

// ErrNoRoom indicates the device cannot absorb the blocks of one type.
var ErrNoRoom = errors.New("place: not enough sites to legalize")

// Legalizer spreads continuous block coordinates onto legal sites, one
// block type at a time. It is a pure function of the continuous
// coordinates: identical input yields identical output.
type Legalizer struct {
	circuit *circuit.Circuit
}

// NewLegalizer builds a legalizer for the circuit's grid.
func NewLegalizer(c *circuit.Circuit) *Legalizer {
	return &Legalizer{circuit: c}
}

// legalBlock carries one block through binning and partitioning.
type legalBlock struct {
	block *circuit.Block
	x, y  float64
}

// tileGrid is the site-anchor lattice of one block type: columns at the
// type's x positions, rows at its y anchors (step = block height).
type tileGrid struct {
	cols  []int             // x coordinate per column index
	rows  []int             // y anchor per row index
	sites [][]*circuit.Site // [col][row]
}

// area is an inclusive tile-coordinate rectangle.
type area struct {
	c0, c1, r0, r1 int
}

// Legalize assigns every given block of type t to a site, spreading the
// continuous coordinates xs/ys (parallel to blocks). Previously assigned
// sites of these blocks are released first.
func (l *Legalizer) Legalize(t *arch.BlockType, blocks []*circuit.Block, xs, ys []float64) error {
	if len(blocks) == 0 {
		return nil
	}
	tiles := l.buildTiles(t)
	if len(tiles.cols) == 0 {
		return fmt.Errorf("%w: no sites of type %s", ErrNoRoom, t.Name)
	}

	for _, b := range blocks {
		l.circuit.Unplace(b)
	}

	// Bin every block to the nearest tile.
	bins := make([][][]legalBlock, len(tiles.cols))
	for c := range bins {
		bins[c] = make([][]legalBlock, len(tiles.rows))
	}
	for i, b := range blocks {
		c := nearestIndex(tiles.cols, xs[i])
		r := nearestIndex(tiles.rows, ys[i])
		bins[c][r] = append(bins[c][r], legalBlock{block: b, x: xs[i], y: ys[i]})
	}

	// Resolve overfull tiles: grow an area until its capacity covers its
	// occupancy, then bipartition the area's blocks back onto its tiles.
	for c := range tiles.cols {
		for r := range tiles.rows {
			if len(bins[c][r]) <= tileCapacity(tiles, c, r) {
				continue
			}
			a := area{c0: c, c1: c, r0: r, r1: r}
			for tiles.capacity(a) < tiles.occupancy(bins, a) {
				grown, ok := tiles.grow(bins, a)
				if !ok {
					return fmt.Errorf("%w: type %s occupancy %d exceeds device capacity",
						ErrNoRoom, t.Name, tiles.occupancy(bins, a))
				}
				a = grown
			}
			l.partition(tiles, bins, a, collectArea(bins, a))
		}
	}

	// Write the final per-tile assignment through to the circuit, sub-slots
	// in order of continuous coordinate.
	for c := range tiles.cols {
		for r := range tiles.rows {
			site := tiles.sites[c][r]
			group := bins[c][r]
			if site == nil {
				if len(group) > 0 {
					return fmt.Errorf("%w: %d blocks binned to a hole in the %s lattice", ErrNoRoom, len(group), t.Name)
				}
				continue
			}
			sortBlocks(group, true)
			if len(group) > site.Capacity {
				return fmt.Errorf("%w: tile %s left with %d blocks", ErrNoRoom, site, len(group))
			}
			for slot, lb := range group {
				if err := l.circuit.Place(lb.block, site, slot); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (l *Legalizer) buildTiles(t *arch.BlockType) tileGrid {
	sites := l.circuit.Grid.SitesOfType(t)
	colSet := make(map[int]bool)
	rowSet := make(map[int]bool)
	for _, s := range sites {
		colSet[s.X] = true
		rowSet[s.Y] = true
	}
	tiles := tileGrid{
		cols: sortedKeys(colSet),
		rows: sortedKeys(rowSet),
	}
	colIdx := make(map[int]int, len(tiles.cols))
	for i, x := range tiles.cols {
		colIdx[x] = i
	}
	rowIdx := make(map[int]int, len(tiles.rows))
	for i, y := range tiles.rows {
		rowIdx[y] = i
	}
	tiles.sites = make([][]*circuit.Site, len(tiles.cols))
	for c := range tiles.sites {
		tiles.sites[c] = make([]*circuit.Site, len(tiles.rows))
	}
	for _, s := range sites {
		tiles.sites[colIdx[s.X]][rowIdx[s.Y]] = s
	}
	return tiles
}

func tileCapacity(g tileGrid, c, r int) int {
	if s := g.sites[c][r]; s != nil {
		return s.Capacity
	}
	return 0
}

func (g tileGrid) capacity(a area) int {
	n := 0
	for c := a.c0; c <= a.c1; c++ {
		for r := a.r0; r <= a.r1; r++ {
			if s := g.sites[c][r]; s != nil {
				n += s.Capacity
			}
		}
	}
	return n
}

func (g tileGrid) occupancy(bins [][][]legalBlock, a area) int {
	n := 0
	for c := a.c0; c <= a.c1; c++ {
		for r := a.r0; r <= a.r1; r++ {
			n += len(bins[c][r])
		}
	}
	return n
}

// grow expands the area one tile step in the direction whose new strip has
// the lowest occupancy density. Returns false when the area already spans
// the whole tile grid.
func (g tileGrid) grow(bins [][][]legalBlock, a area) (area, bool) {
	type candidate struct {
		next  area
		strip area
	}
	var cands []candidate
	if a.c0 > 0 {
		cands = append(cands, candidate{
			next:  area{a.c0 - 1, a.c1, a.r0, a.r1},
			strip: area{a.c0 - 1, a.c0 - 1, a.r0, a.r1},
		})
	}
	if a.c1 < len(g.cols)-1 {
		cands = append(cands, candidate{
			next:  area{a.c0, a.c1 + 1, a.r0, a.r1},
			strip: area{a.c1 + 1, a.c1 + 1, a.r0, a.r1},
		})
	}
	if a.r0 > 0 {
		cands = append(cands, candidate{
			next:  area{a.c0, a.c1, a.r0 - 1, a.r1},
			strip: area{a.c0, a.c1, a.r0 - 1, a.r0 - 1},
		})
	}
	if a.r1 < len(g.rows)-1 {
		cands = append(cands, candidate{
			next:  area{a.c0, a.c1, a.r0, a.r1 + 1},
			strip: area{a.c0, a.c1, a.r1 + 1, a.r1 + 1},
		})
	}
	if len(cands) == 0 {
		return a, false
	}
	best := 0
	bestDensity := stripDensity(g, bins, cands[0].strip)
	for i := 1; i < len(cands); i++ {
		if d := stripDensity(g, bins, cands[i].strip); d < bestDensity {
			best, bestDensity = i, d
		}
	}
	return cands[best].next, true
}

func stripDensity(g tileGrid, bins [][][]legalBlock, strip area) float64 {
	capacity := g.capacity(strip)
	if capacity == 0 {
		return 1e9
	}
	return float64(g.occupancy(bins, strip)) / float64(capacity)
}

// partition recursively bipartitions the area along its longer axis,
// splitting blocks by their continuous coordinate so each half's occupancy
// fits its capacity. Single tiles terminate the recursion.
func (l *Legalizer) partition(g tileGrid, bins [][][]legalBlock, a area, blocks []legalBlock) {
	clearArea(bins, a)
	if a.c0 == a.c1 && a.r0 == a.r1 {
		bins[a.c0][a.r0] = blocks
		return
	}

	splitX := a.c1-a.c0 >= a.r1-a.r0
	var lo, hi area
	if splitX {
		mid := (a.c0 + a.c1) / 2
		lo = area{a.c0, mid, a.r0, a.r1}
		hi = area{mid + 1, a.c1, a.r0, a.r1}
	} else {
		mid := (a.r0 + a.r1) / 2
		lo = area{a.c0, a.c1, a.r0, mid}
		hi = area{a.c0, a.c1, mid + 1, a.r1}
	}

	capLo, capHi := g.capacity(lo), g.capacity(hi)
	sortBlocks(blocks, splitX)

	// Block counts follow the capacity split; on a remainder the lower
	// half gets the extra.
	n := len(blocks)
	k := 0
	if capLo+capHi > 0 {
		k = (n*capLo + capLo + capHi - 1) / (capLo + capHi)
	}
	if k > capLo {
		k = capLo
	}
	if n-k > capHi {
		k = n - capHi
	}

	l.partition(g, bins, lo, append([]legalBlock(nil), blocks[:k]...))
	l.partition(g, bins, hi, append([]legalBlock(nil), blocks[k:]...))
}

func collectArea(bins [][][]legalBlock, a area) []legalBlock {
	var out []legalBlock
	for c := a.c0; c <= a.c1; c++ {
		for r := a.r0; r <= a.r1; r++ {
			out = append(out, bins[c][r]...)
		}
	}
	return out
}

func clearArea(bins [][][]legalBlock, a area) {
	for c := a.c0; c <= a.c1; c++ {
		for r := a.r0; r <= a.r1; r++ {
			bins[c][r] = nil
		}
	}
}

// sortBlocks orders blocks by continuous coordinate along one axis, with
// the block index as deterministic tie-break.
func sortBlocks(blocks []legalBlock, byX bool) {
	sort.SliceStable(blocks, func(i, j int) bool {
		var a, b float64
		if byX {
			a, b = blocks[i].x, blocks[j].x
		} else {
			a, b = blocks[i].y, blocks[j].y
		}
		if a != b {
			return a < b
		}
		return blocks[i].block.Index < blocks[j].block.Index
	})
}

func nearestIndex(vals []int, v float64) int {
	i := sort.Search(len(vals), func(i int) bool { return float64(vals[i]) >= v })
	if i == 0 {
		return 0
	}
	if i == len(vals) {
		return len(vals) - 1
	}
	if v-float64(vals[i-1]) <= float64(vals[i])-v {
		return i - 1
	}
	return i
}

func sortedKeys(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
