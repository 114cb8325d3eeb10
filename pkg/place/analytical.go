package place

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/vanderheijden86/gridloom/pkg/arch"
	"github.com/vanderheijden86/gridloom/pkg/circuit"
	"github.com/vanderheijden86/gridloom/pkg/debug"
	"github.com/vanderheijden86/gridloom/pkg/metrics"
	"github.com/vanderheijden86/gridloom/pkg/timing"
)

// minSeparation floors the spring re-linearization distance so coincident
// blocks do not produce infinite weights.
const minSeparation = 0.01

// AnalyticalOptions tunes the bound-to-bound analytical placer.
type AnalyticalOptions struct {
	// MaxIterations caps the solve-legalize outer loop.
	MaxIterations int
	// Tolerance is the relative residual target of the CG solves.
	Tolerance float64
	// PseudoWeight scales the anchor springs; the effective weight grows
	// linearly with the outer iteration index.
	PseudoWeight float64
	// StopGap ends the loop once |legalHPWL - solvedHPWL| / legalHPWL
	// drops below it.
	StopGap float64
}

// DefaultAnalyticalOptions returns the standard tuning.
func DefaultAnalyticalOptions() AnalyticalOptions {
	return AnalyticalOptions{
		MaxIterations: 30,
		Tolerance:     1e-5,
		PseudoWeight:  0.03,
		StopGap:       0.02,
	}
}

// Analytical is the quadratic wire-length placer: it solves the
// bound-to-bound model for the movable (non-IO) blocks, legalizes the
// continuous solution, and iterates with pseudo-anchors pulling toward the
// last legal placement.
type Analytical struct {
	Options AnalyticalOptions
}

// Name implements Placer.
func (p *Analytical) Name() string { return "analytical" }

// Place runs the solve-legalize loop. IO blocks are fixed at their current
// sites and must already be placed; tg is unused (the analytical stage is
// wire-length driven).
func (p *Analytical) Place(c *circuit.Circuit, _ *timing.Graph) error {
	opts := p.Options
	if opts.MaxIterations == 0 {
		opts = DefaultAnalyticalOptions()
	}

	movable, index := movableBlocks(c)
	if len(movable) == 0 {
		return nil
	}
	for _, b := range c.Blocks {
		if b.Type.Category == arch.CategoryIO && b.Site == nil {
			return fmt.Errorf("%w: io block %s must be placed before analytical placement",
				circuit.ErrIllegalPlacement, b.Name)
		}
	}

	xs := make([]float64, len(movable))
	ys := make([]float64, len(movable))
	for i, b := range movable {
		if b.Site != nil {
			xs[i], ys[i] = float64(b.Site.X), float64(b.Site.Y)
		} else {
			xs[i], ys[i] = float64(c.Grid.Width)/2, float64(c.Grid.Height)/2
		}
	}

	legalizer := NewLegalizer(c)
	legalX := append([]float64(nil), xs...)
	legalY := append([]float64(nil), ys...)
	haveLegal := allPlaced(movable)
	if haveLegal {
		for i, b := range movable {
			legalX[i], legalY[i] = float64(b.Site.X), float64(b.Site.Y)
		}
	}

	for iter := 1; iter <= opts.MaxIterations; iter++ {
		sysX, sysY := p.buildSystems(c, movable, index, xs, ys)
		if haveLegal {
			w := opts.PseudoWeight * float64(iter)
			for i := range movable {
				sysX.addAnchor(i, legalX[i], w)
				sysY.addAnchor(i, legalY[i], w)
			}
		}

		done := metrics.Timer(metrics.LinearSolve)
		var g errgroup.Group
		g.Go(func() error { return sysX.solve(xs, opts.Tolerance, 0) })
		g.Go(func() error { return sysY.solve(ys, opts.Tolerance, 0) })
		if err := g.Wait(); err != nil {
			done()
			return fmt.Errorf("analytical placement iteration %d: %w", iter, err)
		}
		done()

		solvedHPWL := continuousHPWL(c, movable, index, xs, ys)

		if err := p.legalize(c, legalizer, movable, xs, ys); err != nil {
			return err
		}
		haveLegal = true
		for i, b := range movable {
			legalX[i], legalY[i] = float64(b.Site.X), float64(b.Site.Y)
		}
		legalHPWL := float64(c.TotalHPWL())

		debug.Log("analytical iter %d: solved hpwl %.1f legal hpwl %.1f", iter, solvedHPWL, legalHPWL)
		if legalHPWL == 0 {
			break
		}
		if math.Abs(legalHPWL-solvedHPWL)/legalHPWL < opts.StopGap {
			break
		}
	}

	return c.CheckLegal()
}

// buildSystems assembles the two bound-to-bound linear systems from the
// current continuous coordinates. X and Y are independent.
func (p *Analytical) buildSystems(c *circuit.Circuit, movable []*circuit.Block, index map[*circuit.Block]int, xs, ys []float64) (sysX, sysY *linearSystem) {
	defer metrics.Timer(metrics.BuildSystem)()
	sysX = newLinearSystem(len(movable))
	sysY = newLinearSystem(len(movable))

	for _, n := range c.Nets {
		entities := netEntities(n)
		if len(entities) < 2 {
			continue
		}
		weight := CrossingFactor(len(entities)) / float64(len(entities)-1)
		buildDim(sysX, entities, index, xs, weight, true)
		buildDim(sysY, entities, index, ys, weight, false)
	}
	return sysX, sysY
}

// buildDim adds one net's springs for one dimension: the two extreme
// blocks connect to each other and to every non-extreme block, each spring
// re-linearized by the current separation. Two-block nets reduce to a
// single spring.
func buildDim(sys *linearSystem, entities []*circuit.Block, index map[*circuit.Block]int, coords []float64, weight float64, xDim bool) {
	pos := func(b *circuit.Block) float64 {
		if i, ok := index[b]; ok {
			return coords[i]
		}
		x, y := b.Position()
		if xDim {
			return float64(x)
		}
		return float64(y)
	}

	if len(entities) == 2 {
		addB2BSpring(sys, entities[0], entities[1], index, pos, weight)
		return
	}

	lo, hi := entities[0], entities[0]
	for _, b := range entities[1:] {
		if pos(b) < pos(lo) {
			lo = b
		}
		if pos(b) > pos(hi) {
			hi = b
		}
	}
	addB2BSpring(sys, lo, hi, index, pos, weight)
	for _, b := range entities {
		if b == lo || b == hi {
			continue
		}
		addB2BSpring(sys, b, lo, index, pos, weight)
		addB2BSpring(sys, b, hi, index, pos, weight)
	}
}

func addB2BSpring(sys *linearSystem, a, b *circuit.Block, index map[*circuit.Block]int, pos func(*circuit.Block) float64, weight float64) {
	if a == b {
		return
	}
	sep := math.Abs(pos(a) - pos(b))
	if sep < minSeparation {
		sep = minSeparation
	}
	w := weight / sep

	ia, aMov := index[a]
	ib, bMov := index[b]
	switch {
	case aMov && bMov:
		sys.addSpring(ia, ib, w)
	case aMov:
		sys.addAnchor(ia, pos(b), w)
	case bMov:
		sys.addAnchor(ib, pos(a), w)
	}
}

// legalize spreads the continuous solution per block type; IO stays fixed.
func (p *Analytical) legalize(c *circuit.Circuit, l *Legalizer, movable []*circuit.Block, xs, ys []float64) error {
	defer metrics.Timer(metrics.Legalize)()
	byType := make(map[*arch.BlockType][]int)
	var typeOrder []*arch.BlockType
	for i, b := range movable {
		if _, ok := byType[b.Type]; !ok {
			typeOrder = append(typeOrder, b.Type)
		}
		byType[b.Type] = append(byType[b.Type], i)
	}
	for _, t := range typeOrder {
		idxs := byType[t]
		blocks := make([]*circuit.Block, len(idxs))
		tx := make([]float64, len(idxs))
		ty := make([]float64, len(idxs))
		for k, i := range idxs {
			blocks[k] = movable[i]
			tx[k] = xs[i]
			ty[k] = ys[i]
		}
		if err := l.Legalize(t, blocks, tx, ty); err != nil {
			return err
		}
	}
	return nil
}

// netEntities returns the distinct global blocks on a net.
func netEntities(n *circuit.Net) []*circuit.Block {
	var out []*circuit.Block
	seen := make(map[*circuit.Block]bool)
	n.Pins(func(p *circuit.Pin) {
		g := p.Owner.GlobalAncestor()
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	})
	return out
}

// continuousHPWL evaluates total HPWL with movable blocks at their
// continuous coordinates and fixed blocks at their sites.
func continuousHPWL(c *circuit.Circuit, movable []*circuit.Block, index map[*circuit.Block]int, xs, ys []float64) float64 {
	total := 0.0
	for _, n := range c.Nets {
		first := true
		var xmin, xmax, ymin, ymax float64
		n.Pins(func(p *circuit.Pin) {
			g := p.Owner.GlobalAncestor()
			var x, y float64
			if i, ok := index[g]; ok {
				x, y = xs[i], ys[i]
			} else {
				ix, iy := g.Position()
				x, y = float64(ix), float64(iy)
			}
			if first {
				xmin, xmax, ymin, ymax = x, x, y, y
				first = false
				return
			}
			xmin = math.Min(xmin, x)
			xmax = math.Max(xmax, x)
			ymin = math.Min(ymin, y)
			ymax = math.Max(ymax, y)
		})
		total += (xmax - xmin) + (ymax - ymin)
	}
	return total
}

// movableBlocks returns the non-IO global blocks and an index map over them.
func movableBlocks(c *circuit.Circuit) ([]*circuit.Block, map[*circuit.Block]int) {
	var out []*circuit.Block
	index := make(map[*circuit.Block]int)
	for _, b := range c.Blocks {
		if b.Type.Category == arch.CategoryIO {
			continue
		}
		index[b] = len(out)
		out = append(out, b)
	}
	return out, index
}

func allPlaced(blocks []*circuit.Block) bool {
	for _, b := range blocks {
		if b.Site == nil {
			return false
		}
	}
	return true
}
