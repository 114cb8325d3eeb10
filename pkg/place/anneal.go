package place

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/vanderheijden86/gridloom/pkg/circuit"
	"github.com/vanderheijden86/gridloom/pkg/debug"
	"github.com/vanderheijden86/gridloom/pkg/metrics"
	"github.com/vanderheijden86/gridloom/pkg/timing"
)

// AnnealerOptions tunes the simulated-annealing refiner.
type AnnealerOptions struct {
	// Lambda blends timing cost against bounding-box cost; 0 is pure
	// wire-length mode.
	Lambda float64
	// MovesPerBlock scales the inner loop: moves per temperature =
	// MovesPerBlock * number of blocks.
	MovesPerBlock float64
	// Seed drives the move generator.
	Seed int64
	// MaxCriticality and CriticalityExponent feed the per-iteration
	// criticality update when Lambda > 0.
	MaxCriticality      float64
	CriticalityExponent float64
}

// DefaultAnnealerOptions returns the standard tuning.
func DefaultAnnealerOptions() AnnealerOptions {
	return AnnealerOptions{
		Lambda:              0.5,
		MovesPerBlock:       10,
		Seed:                1,
		MaxCriticality:      0.99,
		CriticalityExponent: 8,
	}
}

// Annealer polishes a legal placement with the classic adaptive annealing
// schedule: the initial temperature comes from the standard deviation of
// sampled move costs, the cooling rate adapts to the acceptance rate, and
// the move window shrinks to hold acceptance near 0.44.
type Annealer struct {
	Options AnnealerOptions
}

// Name implements Placer.
func (a *Annealer) Name() string { return "SA" }

// annealState carries the mutable pieces of one annealing run.
type annealState struct {
	c      *circuit.Circuit
	tg     *timing.Graph
	bb     *BBCost
	rng    *rand.Rand
	lambda float64

	bbNorm     float64
	timingNorm float64
}

// Place runs the annealing schedule. The placement must already be legal;
// tg may be nil, forcing pure wire-length mode.
func (a *Annealer) Place(c *circuit.Circuit, tg *timing.Graph) error {
	opts := a.Options
	if opts.MovesPerBlock == 0 {
		opts = DefaultAnnealerOptions()
	}
	if err := c.CheckLegal(); err != nil {
		return err
	}
	if len(c.Blocks) < 2 || len(c.Nets) == 0 {
		return nil
	}
	if tg == nil {
		opts.Lambda = 0
	}

	st := &annealState{
		c:      c,
		tg:     tg,
		bb:     NewBBCost(c),
		rng:    rand.New(rand.NewSource(opts.Seed)),
		lambda: opts.Lambda,
	}
	st.refreshNorms(opts)

	distance := c.Grid.Width
	movesPerTemp := int(opts.MovesPerBlock * float64(len(c.Blocks)))
	if movesPerTemp < 1 {
		movesPerTemp = 1
	}

	temperature := st.initialTemperature(movesPerTemp, distance)
	debug.Log("anneal: initial temperature %.4f", temperature)

	for {
		done := metrics.Timer(metrics.AnnealSweep)
		accepted := 0
		for m := 0; m < movesPerTemp; m++ {
			if st.tryMove(distance, temperature) {
				accepted++
			}
		}
		done()

		rate := float64(accepted) / float64(movesPerTemp)
		temperature *= coolingRate(rate)

		// Shrink or grow the window to hold acceptance near 0.44.
		distance = int(float64(distance) * (1 - 0.44 + rate))
		if distance < 1 {
			distance = 1
		}
		if distance > c.Grid.Width {
			distance = c.Grid.Width
		}

		st.refreshNorms(opts)
		debug.Log("anneal: T %.5f rate %.2f dist %d bb %.1f", temperature, rate, distance, st.bb.Total())

		if temperature < 0.005*st.bb.Total()/float64(len(c.Nets)) {
			break
		}
	}

	return c.CheckLegal()
}

// refreshNorms recomputes the cost normalization factors and, in
// timing-driven mode, the per-edge criticalities.
func (st *annealState) refreshNorms(opts AnnealerOptions) {
	st.bbNorm = st.bb.Total()
	if st.bbNorm <= 0 {
		st.bbNorm = 1
	}
	if st.lambda > 0 {
		st.tg.EstimateWireDelays()
		st.tg.UpdateArrivalRequired()
		st.tg.UpdateCriticalities(opts.MaxCriticality, opts.CriticalityExponent)
		st.timingNorm = st.tg.TotalCost()
		if st.timingNorm <= 0 {
			st.timingNorm = 1
		}
	}
}

// initialTemperature samples one sweep of always-reverted moves and
// returns 20 times the standard deviation of their cost deltas.
func (st *annealState) initialTemperature(moves, distance int) float64 {
	deltas := make([]float64, 0, moves)
	for m := 0; m < moves; m++ {
		mv, ok := st.propose(distance)
		if !ok {
			continue
		}
		delta := st.applyAndCost(mv)
		st.revert(mv)
		deltas = append(deltas, delta)
	}
	if len(deltas) < 2 {
		return 1
	}
	return 20 * stat.StdDev(deltas, nil)
}

// move describes one attempted swap or relocation.
type move struct {
	block    *circuit.Block
	other    *circuit.Block // nil for a move into a free slot
	fromSite *circuit.Site
	fromSub  int
	toSite   *circuit.Site
	toSub    int
	nets     []*circuit.Net

	// newDelays holds the recomputed wire delays of the affected timing
	// arcs, written through only on acceptance.
	edges     []*timing.Edge
	newDelays []float64
}

// propose picks a random block and a random target site within the
// Chebyshev window.
func (st *annealState) propose(distance int) (*move, bool) {
	b := st.c.Blocks[st.rng.Intn(len(st.c.Blocks))]
	target, err := st.c.RandomSiteNear(st.rng, b, distance)
	if err != nil {
		// No site of the block's type in the window; skip the attempt.
		return nil, false
	}

	mv := &move{
		block:    b,
		fromSite: b.Site,
		fromSub:  b.SubBlock,
		toSite:   target,
	}
	if sub, free := target.FreeSlot(); free {
		mv.toSub = sub
	} else {
		sub := st.rng.Intn(target.Capacity)
		mv.other = target.Occupant(sub)
		mv.toSub = sub
	}
	mv.nets = AffectedNets(mv.block, mv.other)
	return mv, true
}

// applyAndCost executes the move and returns the blended cost delta.
func (st *annealState) applyAndCost(mv *move) float64 {
	var oldTiming float64
	if st.lambda > 0 {
		mv.edges = mv.edges[:0]
		mv.newDelays = mv.newDelays[:0]
		for _, n := range mv.nets {
			for _, e := range st.tg.WireEdges(n) {
				mv.edges = append(mv.edges, e)
				oldTiming += e.Criticality * e.Delay
			}
		}
	}

	st.apply(mv)

	bbDelta := st.bb.Recompute(mv.nets)

	delta := (1 - st.lambda) * bbDelta / st.bbNorm
	if st.lambda > 0 {
		newTiming := 0.0
		for _, e := range mv.edges {
			sx, sy := e.From.Pin.Owner.Position()
			tx, ty := e.To.Pin.Owner.Position()
			d := (math.Abs(float64(sx-tx)) + math.Abs(float64(sy-ty))) * st.tg.WireDelayPerUnit
			mv.newDelays = append(mv.newDelays, d)
			newTiming += e.Criticality * d
		}
		delta += st.lambda * (newTiming - oldTiming) / st.timingNorm
	}
	return delta
}

func (st *annealState) apply(mv *move) {
	if mv.other != nil {
		st.c.Swap(mv.block, mv.other)
		return
	}
	// Place never fails here: the slot was observed free and types match.
	if err := st.c.Place(mv.block, mv.toSite, mv.toSub); err != nil {
		panic(err)
	}
}

func (st *annealState) revert(mv *move) {
	if mv.other != nil {
		st.c.Swap(mv.block, mv.other)
	} else if err := st.c.Place(mv.block, mv.fromSite, mv.fromSub); err != nil {
		panic(err)
	}
	st.bb.Recompute(mv.nets)
}

// commit writes the recomputed wire delays through to the timing graph.
func (st *annealState) commit(mv *move) {
	for i, e := range mv.edges {
		e.Delay = mv.newDelays[i]
	}
}

// tryMove proposes, evaluates and accepts or reverts one move.
func (st *annealState) tryMove(distance int, temperature float64) bool {
	mv, ok := st.propose(distance)
	if !ok {
		return false
	}
	delta := st.applyAndCost(mv)

	accept := delta <= 0
	if !accept && temperature > 0 {
		accept = st.rng.Float64() < math.Exp(-delta/temperature)
	}
	if !accept {
		st.revert(mv)
		return false
	}
	if st.lambda > 0 {
		st.commit(mv)
	}
	return true
}

// coolingRate is the classic acceptance-rate-adaptive schedule.
func coolingRate(rate float64) float64 {
	switch {
	case rate > 0.96:
		return 0.5
	case rate > 0.8:
		return 0.9
	case rate > 0.15:
		return 0.95
	default:
		return 0.8
	}
}
