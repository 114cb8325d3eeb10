package route

import (
	"github.com/vanderheijden86/gridloom/pkg/circuit"
)

// Connection is one driver-to-sink pair of a net. It owns its route: the
// ordered RRG node ids from the net's SOURCE to this sink's SINK.
type Connection struct {
	Net       *circuit.Net
	SinkIndex int

	SourceNode int
	SinkNode   int

	Route       []int
	Criticality float64

	// Expansion bounding box: the net's bounding box inflated by the
	// router's margin.
	XMin, XMax, YMin, YMax int

	// Net geometry captured at router construction, used by the bias
	// cost term.
	CenterX, CenterY float64
	HPWL             float64
}

// inBox reports whether a node lies inside the connection's expansion box.
func (c *Connection) inBox(n *Node) bool {
	return n.X >= c.XMin && n.X <= c.XMax && n.Y >= c.YMin && n.Y <= c.YMax
}

// opinOnRoute returns the OPIN node id on the current route, or -1.
func (c *Connection) opinOnRoute(g *Graph) int {
	for _, id := range c.Route {
		if g.Nodes[id].Kind == KindOpin {
			return id
		}
	}
	return -1
}

// queueEntry is one pending expansion, keyed by the lower-bound total
// path cost. Decrease-key is by reinsertion; stale entries are skipped on
// pop.
type queueEntry struct {
	node int
	cost float64
}

// entryHeap is a min-heap of queue entries.
type entryHeap []queueEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].cost < h[j].cost }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(queueEntry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
