// Package route implements the routing subsystem: the static
// routing-resource graph (RRG) and the negotiated-congestion
// (Pathfinder-style) timing-driven connection router.
//
// The RRG is built once per placement run and is immutable; all per-node
// routing state lives in a parallel dense array owned by the Router, so
// the graph itself can be shared.
package route

import (
	"fmt"
	"math"

	"github.com/vanderheijden86/gridloom/pkg/circuit"
)

// NodeKind classifies routing-resource nodes.
type NodeKind int

const (
	KindSource NodeKind = iota
	KindOpin
	KindChanX
	KindChanY
	KindIpin
	KindSink
)

// String returns the conventional upper-case kind name.
func (k NodeKind) String() string {
	switch k {
	case KindSource:
		return "SOURCE"
	case KindOpin:
		return "OPIN"
	case KindChanX:
		return "CHANX"
	case KindChanY:
		return "CHANY"
	case KindIpin:
		return "IPIN"
	case KindSink:
		return "SINK"
	default:
		return fmt.Sprintf("KIND(%d)", int(k))
	}
}

// Wire reports whether the kind is a channel segment.
func (k NodeKind) Wire() bool {
	return k == KindChanX || k == KindChanY
}

// Node is one immutable routing resource.
type Node struct {
	ID       int
	Kind     NodeKind
	X, Y     int
	Capacity int
	BaseCost float64

	// Length and TLinear are meaningful for wire nodes only.
	Length  int
	TLinear float64

	Children []int

	// Block back-references the global block for SOURCE/OPIN/IPIN/SINK
	// nodes; nil for wires.
	Block *circuit.Block
	// Pin back-references the pin for OPIN nodes.
	Pin *circuit.Pin
}

// Base costs per node kind; wire base costs are rescaled after
// construction so one unit of distance costs BaseCostPerDistance.
const (
	sourceBaseCost = 1.0
	opinBaseCost   = 1.0
	ipinBaseCost   = 0.95
	sinkBaseCost   = 0.0
)

// Graph is the routing-resource graph of one placed circuit.
type Graph struct {
	Nodes []*Node

	// BaseCostPerDistance is the average wire delay per distance unit:
	// sum of t_linear over sum of length across all wires.
	BaseCostPerDistance float64

	sourceOf map[*circuit.Block]int
	sinkOf   map[*circuit.Block]int
	opinOf   map[int]int // pin.Index -> OPIN node
}

// GraphOptions sizes the routing fabric.
type GraphOptions struct {
	// ChannelWidth is the number of tracks per channel.
	ChannelWidth int
	// WireDelay is the per-segment linear delay in picoseconds.
	WireDelay float64
}

// DefaultGraphOptions returns the standard fabric sizing.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{
		ChannelWidth: 8,
		WireDelay:    80,
	}
}

// BuildGraph constructs the RRG for the circuit's device grid: one SOURCE
// and one SINK per placed global block, OPIN/IPIN nodes per pin, and a
// unit-length track fabric in which each track connects to the same track
// of its neighbouring segments and of the crossing channel in its tile.
func BuildGraph(c *circuit.Circuit, opts GraphOptions) *Graph {
	if opts.ChannelWidth == 0 {
		opts = DefaultGraphOptions()
	}
	g := &Graph{
		sourceOf: make(map[*circuit.Block]int),
		sinkOf:   make(map[*circuit.Block]int),
		opinOf:   make(map[int]int),
	}

	w, h := c.Grid.Width, c.Grid.Height
	tracks := opts.ChannelWidth

	// Wire lattice: chanX[x][y][t] and chanY[x][y][t] ids.
	chanX := make([][][]int, w)
	chanY := make([][][]int, w)
	for x := 0; x < w; x++ {
		chanX[x] = make([][]int, h)
		chanY[x] = make([][]int, h)
		for y := 0; y < h; y++ {
			chanX[x][y] = make([]int, tracks)
			chanY[x][y] = make([]int, tracks)
			for t := 0; t < tracks; t++ {
				chanX[x][y][t] = g.addNode(&Node{
					Kind: KindChanX, X: x, Y: y, Capacity: 1,
					Length: 1, TLinear: opts.WireDelay,
				})
				chanY[x][y][t] = g.addNode(&Node{
					Kind: KindChanY, X: x, Y: y, Capacity: 1,
					Length: 1, TLinear: opts.WireDelay,
				})
			}
		}
	}

	// Track-to-track connectivity: same track along a channel, plus the
	// X/Y crossover within a tile.
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			for t := 0; t < tracks; t++ {
				cx := g.Nodes[chanX[x][y][t]]
				if x > 0 {
					cx.Children = append(cx.Children, chanX[x-1][y][t])
				}
				if x < w-1 {
					cx.Children = append(cx.Children, chanX[x+1][y][t])
				}
				cx.Children = append(cx.Children, chanY[x][y][t])

				cy := g.Nodes[chanY[x][y][t]]
				if y > 0 {
					cy.Children = append(cy.Children, chanY[x][y-1][t])
				}
				if y < h-1 {
					cy.Children = append(cy.Children, chanY[x][y+1][t])
				}
				cy.Children = append(cy.Children, chanX[x][y][t])
			}
		}
	}

	// Block access nodes.
	for _, b := range c.Blocks {
		x, y := b.Position()

		src := g.addNode(&Node{
			Kind: KindSource, X: x, Y: y,
			Capacity: len(b.Outputs), BaseCost: sourceBaseCost,
			Block: b,
		})
		g.sourceOf[b] = src

		snk := g.addNode(&Node{
			Kind: KindSink, X: x, Y: y,
			Capacity: len(b.Inputs), BaseCost: sinkBaseCost,
			Block: b,
		})
		g.sinkOf[b] = snk

		for _, p := range b.Outputs {
			opin := g.addNode(&Node{
				Kind: KindOpin, X: x, Y: y,
				Capacity: 1, BaseCost: opinBaseCost,
				Block: b, Pin: p,
			})
			g.opinOf[p.Index] = opin
			g.Nodes[src].Children = append(g.Nodes[src].Children, opin)
			for t := 0; t < tracks; t++ {
				g.Nodes[opin].Children = append(g.Nodes[opin].Children, chanX[x][y][t], chanY[x][y][t])
			}
		}

		for range b.Inputs {
			ipin := g.addNode(&Node{
				Kind: KindIpin, X: x, Y: y,
				Capacity: 1, BaseCost: ipinBaseCost,
				Block: b,
			})
			g.Nodes[ipin].Children = append(g.Nodes[ipin].Children, snk)
			for t := 0; t < tracks; t++ {
				g.Nodes[chanX[x][y][t]].Children = append(g.Nodes[chanX[x][y][t]].Children, ipin)
				g.Nodes[chanY[x][y][t]].Children = append(g.Nodes[chanY[x][y][t]].Children, ipin)
			}
		}
	}

	g.rescaleWireCosts()
	return g
}

func (g *Graph) addNode(n *Node) int {
	n.ID = len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	return n.ID
}

// rescaleWireCosts computes BaseCostPerDistance as the average wire delay
// per distance unit and sets every wire's base cost to its
// distance-equivalent.
func (g *Graph) rescaleWireCosts() {
	var sumDelay, sumLength float64
	for _, n := range g.Nodes {
		if n.Kind.Wire() {
			sumDelay += n.TLinear
			sumLength += float64(n.Length)
		}
	}
	if sumLength == 0 {
		g.BaseCostPerDistance = 1
		return
	}
	g.BaseCostPerDistance = sumDelay / sumLength
	for _, n := range g.Nodes {
		if n.Kind.Wire() {
			n.BaseCost = g.BaseCostPerDistance * float64(n.Length)
		}
	}
}

// SourceOf returns the SOURCE node id for a placed block.
func (g *Graph) SourceOf(b *circuit.Block) int {
	return g.sourceOf[b]
}

// SinkOf returns the SINK node id for a placed block.
func (g *Graph) SinkOf(b *circuit.Block) int {
	return g.sinkOf[b]
}

// OpinOf returns the OPIN node id for an output pin.
func (g *Graph) OpinOf(p *circuit.Pin) int {
	return g.opinOf[p.Index]
}

// IpinBaseCost exposes the IPIN base cost for the router's lower bound.
func (g *Graph) IpinBaseCost() float64 {
	return ipinBaseCost
}

// ExpectedDistance returns the Manhattan distance between two nodes in
// RRG coordinates, the router's cheap distance-to-target estimate.
func (g *Graph) ExpectedDistance(from, to *Node) float64 {
	return math.Abs(float64(from.X-to.X)) + math.Abs(float64(from.Y-to.Y))
}
