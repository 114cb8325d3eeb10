// Package timing maintains the timing graph of a circuit: a DAG over pins
// whose edges carry fixed intra-block delays from the architecture and
// mutable inter-block wire delays, from which arrival times, required
// times, slacks and criticalities are derived.
//
// The DAG is assembled in a gonum directed graph so the topological order
// comes from topo.Sort; propagation itself runs over dense vertex slices.
package timing

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/vanderheijden86/gridloom/pkg/circuit"
)

// ErrCombinationalLoop indicates the netlist contains a combinational cycle.
var ErrCombinationalLoop = errors.New("timing: combinational loop")

// DefaultWireDelayPerUnit is the placement-estimate wire delay in
// picoseconds per grid unit of Manhattan distance.
const DefaultWireDelayPerUnit = 100.0

// Vertex is one pin in the timing graph.
type Vertex struct {
	Pin      *circuit.Pin
	Arrival  float64
	Required float64

	in  []*Edge
	out []*Edge
	id  int64
}

// Edge is a timing arc. Wire edges correspond one-to-one with net
// connections (driver pin to one sink pin) and their delay is mutable;
// intra-block edges carry a fixed architecture delay.
type Edge struct {
	From, To *Vertex

	// Delay in picoseconds. For wire edges this is rewritten by
	// EstimateWireDelays / SetWireDelay.
	Delay float64

	// Wire marks inter-block edges; Net and SinkIndex identify the
	// connection a wire edge models.
	Wire      bool
	Net       *circuit.Net
	SinkIndex int

	Slack       float64
	Criticality float64
}

// Graph is the timing graph for one circuit.
type Graph struct {
	Circuit *circuit.Circuit

	// WireDelayPerUnit scales Manhattan distance into estimated wire
	// delay before routing.
	WireDelayPerUnit float64

	vertices []*Vertex
	order    []*Vertex // topological, sources first
	edges    []*Edge
	wire     map[*circuit.Net][]*Edge // per-net wire edges, sink order

	byPin    map[int]*Vertex
	maxDelay float64
}

// New builds the timing graph for the circuit: intra-block combinational
// arcs from the architecture delay tables, and one wire arc per net
// connection. Clocked blocks break timing paths: their inputs are path
// endpoints and their outputs are path start points.
func New(c *circuit.Circuit) (*Graph, error) {
	tg := &Graph{
		Circuit:          c,
		WireDelayPerUnit: DefaultWireDelayPerUnit,
		wire:             make(map[*circuit.Net][]*Edge),
		byPin:            make(map[int]*Vertex),
	}

	g := simple.NewDirectedGraph()

	for _, b := range c.Blocks {
		tg.addBlockArcs(g, b)
	}
	for _, n := range c.Nets {
		from := tg.vertex(g, n.Source)
		for i, sink := range n.Sinks {
			e := &Edge{From: from, To: tg.vertex(g, sink), Wire: true, Net: n, SinkIndex: i}
			tg.link(g, e)
			tg.wire[n] = append(tg.wire[n], e)
		}
	}

	sorted, err := topo.Sort(g)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCombinationalLoop, err)
	}
	tg.order = make([]*Vertex, 0, len(sorted))
	for _, n := range sorted {
		tg.order = append(tg.order, tg.vertices[n.ID()])
	}

	return tg, nil
}

// addBlockArcs adds the intra-block arcs of one block and recurses into
// its children. An arc exists wherever the architecture delay table has an
// entry for the (source port, sink port) pair. Clocked blocks get no
// input-to-output arc.
func (tg *Graph) addBlockArcs(g *simple.DirectedGraph, b *circuit.Block) {
	if !b.Type.Clocked {
		for _, in := range b.Inputs {
			for _, out := range b.Outputs {
				d, ok := tg.Circuit.Arch.DelayEntry(b.Type.Name, in.Port, b.Type.Name, out.Port)
				if !ok {
					continue
				}
				tg.link(g, &Edge{From: tg.vertex(g, in), To: tg.vertex(g, out), Delay: d})
			}
		}
	}
	for _, child := range b.Children {
		tg.addBlockArcs(g, child)
	}
}

func (tg *Graph) vertex(g *simple.DirectedGraph, p *circuit.Pin) *Vertex {
	if v, ok := tg.byPin[p.Index]; ok {
		return v
	}
	n := g.NewNode()
	g.AddNode(n)
	v := &Vertex{Pin: p, id: n.ID()}
	tg.byPin[p.Index] = v
	// vertices is indexed by gonum node id, which is dense from 0.
	tg.vertices = append(tg.vertices, v)
	return v
}

func (tg *Graph) link(g *simple.DirectedGraph, e *Edge) {
	e.From.out = append(e.From.out, e)
	e.To.in = append(e.To.in, e)
	tg.edges = append(tg.edges, e)
	g.SetEdge(g.NewEdge(simple.Node(e.From.id), simple.Node(e.To.id)))
}

// Edges returns all timing arcs.
func (tg *Graph) Edges() []*Edge {
	return tg.edges
}

// WireEdges returns the wire arcs of one net in sink order.
func (tg *Graph) WireEdges(n *circuit.Net) []*Edge {
	return tg.wire[n]
}

// EstimateWireDelays recomputes every wire arc from the current site
// assignment: Manhattan distance times WireDelayPerUnit.
func (tg *Graph) EstimateWireDelays() {
	for _, edges := range tg.wire {
		for _, e := range edges {
			sx, sy := e.From.Pin.Owner.Position()
			tx, ty := e.To.Pin.Owner.Position()
			dist := math.Abs(float64(sx-tx)) + math.Abs(float64(sy-ty))
			e.Delay = dist * tg.WireDelayPerUnit
		}
	}
}

// SetWireDelay overwrites one connection's wire delay; the router calls
// this with the summed segment delay of the assigned path.
func (tg *Graph) SetWireDelay(n *circuit.Net, sinkIndex int, delay float64) {
	tg.wire[n][sinkIndex].Delay = delay
}

// UpdateArrivalRequired recomputes arrival and required times in two
// linear passes over the topological order, then per-edge slacks.
func (tg *Graph) UpdateArrivalRequired() {
	for _, v := range tg.order {
		if len(v.in) == 0 {
			v.Arrival = 0
			continue
		}
		a := math.Inf(-1)
		for _, e := range v.in {
			if t := e.From.Arrival + e.Delay; t > a {
				a = t
			}
		}
		v.Arrival = a
	}

	tg.maxDelay = 0
	for _, v := range tg.order {
		if len(v.out) == 0 && v.Arrival > tg.maxDelay {
			tg.maxDelay = v.Arrival
		}
	}

	for i := len(tg.order) - 1; i >= 0; i-- {
		v := tg.order[i]
		if len(v.out) == 0 {
			v.Required = tg.maxDelay
			continue
		}
		r := math.Inf(1)
		for _, e := range v.out {
			if t := e.To.Required - e.Delay; t < r {
				r = t
			}
		}
		v.Required = r
	}

	for _, e := range tg.edges {
		e.Slack = e.To.Required - e.From.Arrival - e.Delay
	}
}

// MaxDelay returns the critical-path delay from the last
// UpdateArrivalRequired pass.
func (tg *Graph) MaxDelay() float64 {
	return tg.maxDelay
}

// UpdateCriticalities derives per-edge criticality from slack:
// min(maxCrit, (1 - slack/maxDelay)^exponent). With a zero max delay every
// criticality is zero.
func (tg *Graph) UpdateCriticalities(maxCrit, exponent float64) {
	if tg.maxDelay <= 0 {
		for _, e := range tg.edges {
			e.Criticality = 0
		}
		return
	}
	for _, e := range tg.edges {
		crit := math.Pow(1-e.Slack/tg.maxDelay, exponent)
		if crit > maxCrit {
			crit = maxCrit
		}
		if crit < 0 {
			crit = 0
		}
		e.Criticality = crit
	}
}

// TotalCost sums delay times criticality over every arc, the surrogate
// timing-quality objective the annealer blends with wire length.
func (tg *Graph) TotalCost() float64 {
	total := 0.0
	for _, e := range tg.edges {
		total += e.Delay * e.Criticality
	}
	return total
}
