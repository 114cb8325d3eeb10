package route

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/vanderheijden86/gridloom/pkg/circuit"
	"github.com/vanderheijden86/gridloom/pkg/debug"
	"github.com/vanderheijden86/gridloom/pkg/metrics"
	"github.com/vanderheijden86/gridloom/pkg/timing"
)

// ErrUnreachableSink indicates the priority queue drained before a
// connection's sink was reached; the fabric cannot connect the pair.
var ErrUnreachableSink = errors.New("route: sink unreachable")

// Cost-model constants.
const (
	// sourceUseFactor discounts nodes already used by the same net.
	sourceUseFactor = 10.0
	// biasBeta scales the pull toward the net center.
	biasBeta = 0.5
	// maxPercentCritical caps how many connections may sit above the
	// reroute-criticality threshold.
	maxPercentCritical = 3.0
)

// Options tunes the negotiated-congestion router.
type Options struct {
	// TimingDriven enables criticality-weighted costs and the
	// delay-improvement convergence test.
	TimingDriven bool
	// MaxTrials bounds the negotiation iterations.
	MaxTrials int
	// FixOpins is the iteration from which every net is pinned to a
	// single OPIN.
	FixOpins int

	PresFacInit float64
	PresFacMult float64
	AccFac      float64

	// RerouteCriticality is the starting threshold above which clean
	// connections are still ripped up and rerouted.
	RerouteCriticality float64

	MaxCriticality      float64
	CriticalityExponent float64

	// AlphaWireLength and AlphaTiming weight the directed-search lower
	// bound; their sum is not constrained.
	AlphaWireLength float64
	AlphaTiming     float64

	// BBMargin inflates each connection's net bounding box.
	BBMargin int
}

// DefaultOptions returns the standard router tuning.
func DefaultOptions() Options {
	return Options{
		TimingDriven:        true,
		MaxTrials:           100,
		FixOpins:            4,
		PresFacInit:         0.6,
		PresFacMult:         2.0,
		AccFac:              1.0,
		RerouteCriticality:  0.85,
		MaxCriticality:      0.99,
		CriticalityExponent: 1.0,
		AlphaWireLength:     0.75,
		AlphaTiming:         0.75,
		BBMargin:            3,
	}
}

// nodeState is the mutable per-node routing data, parallel to the RRG's
// node array.
type nodeState struct {
	occupation int
	presCost   float64
	accCost    float64

	// sources is the multiset of nets currently routing through the
	// node; occupation is the number of distinct nets in it.
	sources map[*circuit.Net]int

	// Dijkstra scratch, valid only while touched.
	touched     bool
	prev        int
	partialCost float64
	lowerBound  float64
}

// Result reports the outcome of a routing run.
type Result struct {
	Success    bool
	Iterations int
	MaxDelay   float64
	WireLength int

	// OverusedNodes lists congested node ids when routing failed.
	OverusedNodes []int
}

// Router runs the Pathfinder negotiation over one RRG. It owns all
// mutable routing state.
type Router struct {
	Options Options

	rrg     *Graph
	circuit *circuit.Circuit
	timing  *timing.Graph

	conns    []*Connection
	netConns map[*circuit.Net][]*Connection
	netOpin  map[*circuit.Net]int // bound OPIN node id, -1 when unbound

	states  []nodeState
	touched []int
	queue   entryHeap

	presFac float64

	// forcedReroute marks connections ripped up by OPIN fixing.
	forcedReroute map[*Connection]bool
}

// NewRouter prepares connections for every net of the placed circuit.
// tg may be nil when opts.TimingDriven is false.
func NewRouter(g *Graph, c *circuit.Circuit, tg *timing.Graph, opts Options) *Router {
	if opts.MaxTrials == 0 {
		opts = DefaultOptions()
	}
	r := &Router{
		Options:       opts,
		rrg:           g,
		circuit:       c,
		timing:        tg,
		netConns:      make(map[*circuit.Net][]*Connection),
		netOpin:       make(map[*circuit.Net]int),
		states:        make([]nodeState, len(g.Nodes)),
		forcedReroute: make(map[*Connection]bool),
	}
	for i := range r.states {
		r.states[i].presCost = 1
		r.states[i].accCost = 1
		r.states[i].prev = -1
	}

	for _, n := range c.Nets {
		r.netOpin[n] = -1
		xmin, xmax, ymin, ymax := n.BoundingBox()
		cx, cy := n.Center()
		hpwl := float64(n.HPWL())
		if hpwl == 0 {
			hpwl = 1
		}
		driver := n.Source.Owner.GlobalAncestor()
		for i, sink := range n.Sinks {
			conn := &Connection{
				Net:        n,
				SinkIndex:  i,
				SourceNode: g.SourceOf(driver),
				SinkNode:   g.SinkOf(sink.Owner.GlobalAncestor()),
				XMin:       xmin - opts.BBMargin,
				XMax:       xmax + opts.BBMargin,
				YMin:       ymin - opts.BBMargin,
				YMax:       ymax + opts.BBMargin,
				CenterX:    cx,
				CenterY:    cy,
				HPWL:       hpwl,
			}
			r.conns = append(r.conns, conn)
			r.netConns[n] = append(r.netConns[n], conn)
		}
	}

	// Fan-out descending, deterministic tie-break.
	sort.SliceStable(r.conns, func(i, j int) bool {
		fi, fj := r.conns[i].Net.Fanout(), r.conns[j].Net.Fanout()
		if fi != fj {
			return fi > fj
		}
		if r.conns[i].Net.Index != r.conns[j].Net.Index {
			return r.conns[i].Net.Index < r.conns[j].Net.Index
		}
		return r.conns[i].SinkIndex < r.conns[j].SinkIndex
	})

	return r
}

// Connections returns the router's connections in routing order.
func (r *Router) Connections() []*Connection {
	return r.conns
}

// Occupation returns the current occupation count of one RRG node.
func (r *Router) Occupation(id int) int {
	return r.states[id].occupation
}

// Route runs the negotiation loop until every connection is clean or
// MaxTrials is exhausted. Exhaustion is not an error: the result carries
// the congestion report.
func (r *Router) Route() (*Result, error) {
	if len(r.conns) == 0 {
		return &Result{Success: true}, nil
	}

	r.presFac = r.Options.PresFacInit
	rerouteCrit := r.Options.RerouteCriticality
	prevMaxDelay := math.Inf(1)

	for itry := 1; itry <= r.Options.MaxTrials; itry++ {
		done := metrics.Timer(metrics.RouteIteration)

		if r.Options.TimingDriven {
			r.updateCriticalities()
			rerouteCrit = r.SetRerouteCriticality(r.Options.RerouteCriticality)
		}
		if itry >= r.Options.FixOpins {
			r.fixOpins()
		}

		for _, conn := range r.conns {
			needsRoute := itry == 1 ||
				r.forcedReroute[conn] ||
				r.congested(conn) ||
				(r.Options.TimingDriven && conn.Criticality > rerouteCrit)
			if !needsRoute {
				continue
			}
			delete(r.forcedReroute, conn)
			r.Ripup(conn)
			if err := r.routeConnection(conn); err != nil {
				return nil, fmt.Errorf("iteration %d net %s sink %d: %w",
					itry, conn.Net.Name, conn.SinkIndex, err)
			}
			r.Add(conn)
		}

		overused := r.overusedNodes()
		maxDelay := r.refreshDelays()
		done()

		debug.Log("route iter %d: overused %d max delay %.1f", itry, len(overused), maxDelay)

		if len(overused) == 0 {
			improved := r.Options.TimingDriven && maxDelay < prevMaxDelay-1e-9
			if !improved {
				return r.result(itry, maxDelay, nil), nil
			}
		}
		prevMaxDelay = maxDelay

		r.updateCongestionCosts()
	}

	overused := r.overusedNodes()
	return r.result(r.Options.MaxTrials, r.refreshDelays(), overused), nil
}

func (r *Router) result(iters int, maxDelay float64, overused []int) *Result {
	wires := 0
	for id, st := range r.states {
		if r.rrg.Nodes[id].Kind.Wire() && st.occupation > 0 {
			wires += st.occupation * r.rrg.Nodes[id].Length
		}
	}
	return &Result{
		Success:       len(overused) == 0,
		Iterations:    iters,
		MaxDelay:      maxDelay,
		WireLength:    wires,
		OverusedNodes: overused,
	}
}

// updateCriticalities pulls fresh per-connection criticalities from the
// timing graph: min(maxCrit, (1 - slack/maxDelay)^exp).
func (r *Router) updateCriticalities() {
	defer metrics.Timer(metrics.TimingUpdate)()
	r.timing.UpdateArrivalRequired()
	maxDelay := r.timing.MaxDelay()
	for _, conn := range r.conns {
		if maxDelay <= 0 {
			conn.Criticality = 0
			continue
		}
		e := r.timing.WireEdges(conn.Net)[conn.SinkIndex]
		crit := math.Pow(1-e.Slack/maxDelay, r.Options.CriticalityExponent)
		if crit > r.Options.MaxCriticality {
			crit = r.Options.MaxCriticality
		}
		if crit < 0 {
			crit = 0
		}
		conn.Criticality = crit
	}
}

// SetRerouteCriticality raises the threshold from start until no more
// than maxPercentCritical percent of connections sit above it, and
// returns the resulting threshold.
func (r *Router) SetRerouteCriticality(start float64) float64 {
	limit := int(math.Ceil(maxPercentCritical / 100 * float64(len(r.conns))))
	crit := start
	for r.countAbove(crit) > limit {
		crit *= 1.01
	}
	return crit
}

func (r *Router) countAbove(crit float64) int {
	n := 0
	for _, conn := range r.conns {
		if conn.Criticality > crit {
			n++
		}
	}
	return n
}

// fixOpins binds every still-unbound net to the OPIN its connections use
// most, then rips up the connections routed through any other OPIN.
func (r *Router) fixOpins() {
	for _, n := range r.circuit.Nets {
		if r.netOpin[n] != -1 {
			continue
		}
		usage := make(map[int]int)
		for _, conn := range r.netConns[n] {
			if opin := conn.opinOnRoute(r.rrg); opin != -1 {
				usage[opin]++
			}
		}
		best := -1
		for opin, count := range usage {
			if !r.opinFree(opin, n) {
				continue
			}
			if best == -1 || count > usage[best] || (count == usage[best] && opin < best) {
				best = opin
			}
		}
		if best == -1 {
			continue
		}
		r.netOpin[n] = best
		for _, conn := range r.netConns[n] {
			if opin := conn.opinOnRoute(r.rrg); opin != best {
				r.Ripup(conn)
				r.forcedReroute[conn] = true
			}
		}
	}
}

// opinFree reports whether no other net routes through the OPIN.
func (r *Router) opinFree(opin int, n *circuit.Net) bool {
	for src := range r.states[opin].sources {
		if src != n {
			return false
		}
	}
	return true
}

// congested reports whether any node on the route is over capacity.
func (r *Router) congested(conn *Connection) bool {
	if len(conn.Route) == 0 {
		return true
	}
	for _, id := range conn.Route {
		if r.states[id].occupation > r.rrg.Nodes[id].Capacity {
			return true
		}
	}
	return false
}

// Ripup removes the connection's net from every node on its route and
// refreshes the present costs.
func (r *Router) Ripup(conn *Connection) {
	for _, id := range conn.Route {
		st := &r.states[id]
		if st.sources == nil {
			continue
		}
		if count, ok := st.sources[conn.Net]; ok {
			if count <= 1 {
				delete(st.sources, conn.Net)
			} else {
				st.sources[conn.Net] = count - 1
			}
		}
		st.occupation = len(st.sources)
		r.refreshPresCost(id)
	}
	conn.Route = conn.Route[:0]
}

// Add inserts the connection's net into every node on its route and
// refreshes the present costs.
func (r *Router) Add(conn *Connection) {
	for _, id := range conn.Route {
		st := &r.states[id]
		if st.sources == nil {
			st.sources = make(map[*circuit.Net]int)
		}
		st.sources[conn.Net]++
		st.occupation = len(st.sources)
		r.refreshPresCost(id)
	}
}

func (r *Router) refreshPresCost(id int) {
	st := &r.states[id]
	over := st.occupation + 1 - r.rrg.Nodes[id].Capacity
	if over <= 0 {
		st.presCost = 1
	} else {
		st.presCost = 1 + float64(over)*r.presFac
	}
}

// updateCongestionCosts is the end-of-iteration Pathfinder update:
// present costs scale with the raised presFac, historical costs
// accumulate overuse.
func (r *Router) updateCongestionCosts() {
	r.presFac *= r.Options.PresFacMult
	for id := range r.states {
		st := &r.states[id]
		overuse := st.occupation - r.rrg.Nodes[id].Capacity
		switch {
		case overuse == 0:
			st.presCost = 1 + r.presFac
		case overuse > 0:
			st.presCost = 1 + float64(overuse+1)*r.presFac
			st.accCost += float64(overuse) * r.Options.AccFac
		default:
			st.presCost = 1
		}
	}
}

func (r *Router) overusedNodes() []int {
	var out []int
	for id, st := range r.states {
		if st.occupation > r.rrg.Nodes[id].Capacity {
			out = append(out, id)
		}
	}
	return out
}

// refreshDelays writes the actual wire delay of every routed connection
// into the timing graph and returns the resulting max delay. Without
// timing it returns 0.
func (r *Router) refreshDelays() float64 {
	if r.timing == nil {
		return 0
	}
	for _, conn := range r.conns {
		delay := 0.0
		for _, id := range conn.Route {
			delay += r.rrg.Nodes[id].TLinear
		}
		r.timing.SetWireDelay(conn.Net, conn.SinkIndex, delay)
	}
	r.timing.UpdateArrivalRequired()
	return r.timing.MaxDelay()
}

// routeConnection runs the directed search for one connection.
func (r *Router) routeConnection(conn *Connection) error {
	defer metrics.Timer(metrics.RouteConnection)()
	r.resetScratch()

	crit := conn.Criticality
	if !r.Options.TimingDriven {
		crit = 0
	}

	src := conn.SourceNode
	r.touch(src)
	r.states[src].partialCost = 0
	r.states[src].lowerBound = 0
	r.queue = r.queue[:0]
	heap.Push(&r.queue, queueEntry{node: src, cost: 0})

	for r.queue.Len() > 0 {
		entry := heap.Pop(&r.queue).(queueEntry)
		id := entry.node
		// Stale reinserted entries relax lazily: skip anything beaten
		// since it was pushed.
		if entry.cost > r.states[id].lowerBound {
			continue
		}
		if id == conn.SinkNode {
			r.traceRoute(conn)
			return nil
		}
		r.expand(conn, id, crit)
	}

	return fmt.Errorf("%w: from node %d to node %d", ErrUnreachableSink, conn.SourceNode, conn.SinkNode)
}

// expand relaxes every admissible child of the popped node.
func (r *Router) expand(conn *Connection, id int, crit float64) {
	parent := r.rrg.Nodes[id]
	sink := r.rrg.Nodes[conn.SinkNode]

	for _, childID := range parent.Children {
		child := r.rrg.Nodes[childID]

		switch child.Kind {
		case KindChanX, KindChanY:
			if !conn.inBox(child) {
				continue
			}
		case KindOpin:
			bound := r.netOpin[conn.Net]
			if bound == -1 {
				if r.states[childID].occupation > 0 && !r.usedBy(childID, conn.Net) {
					continue
				}
			} else if childID != bound {
				continue
			}
		case KindIpin:
			if child.Children[0] != conn.SinkNode {
				continue
			}
		case KindSink:
			// always admissible
		case KindSource:
			continue
		}

		nodeCost := r.nodeCost(conn, childID)
		newPartial := r.states[id].partialCost + (1-crit)*nodeCost + crit*child.TLinear

		st := &r.states[childID]
		if st.touched && newPartial >= st.partialCost {
			continue
		}

		lower := newPartial
		if child.Kind.Wire() {
			dist := r.rrg.ExpectedDistance(child, sink)
			uses := r.sourceUses(childID, conn.Net)
			lower = newPartial +
				r.Options.AlphaWireLength*(1-crit)*(dist*r.rrg.BaseCostPerDistance/(1+float64(uses))+r.rrg.IpinBaseCost()) +
				r.Options.AlphaTiming*crit*dist*r.rrg.BaseCostPerDistance
		}

		r.touch(childID)
		st.partialCost = newPartial
		st.lowerBound = lower
		st.prev = id
		heap.Push(&r.queue, queueEntry{node: childID, cost: lower})
	}
}

// nodeCost is the congestion-weighted cost of entering a node, with the
// same-net discount and the net-center bias.
func (r *Router) nodeCost(conn *Connection, id int) float64 {
	n := r.rrg.Nodes[id]
	st := &r.states[id]

	pres := st.presCost
	uses := r.sourceUses(id, conn.Net)
	if uses > 0 {
		// The net already owns the node: only true sharing with other
		// nets is penalized.
		pres = 1 + float64(len(st.sources)-n.Capacity)*r.presFac
		if pres < 1 {
			pres = 1
		}
	}

	fanout := float64(conn.Net.Fanout())
	if fanout < 1 {
		fanout = 1
	}
	bias := biasBeta * n.BaseCost / fanout *
		(math.Abs(float64(n.X)-conn.CenterX) + math.Abs(float64(n.Y)-conn.CenterY)) / conn.HPWL

	return n.BaseCost*st.accCost*pres/(1+sourceUseFactor*float64(uses)) + bias
}

func (r *Router) sourceUses(id int, n *circuit.Net) int {
	if r.states[id].sources == nil {
		return 0
	}
	return r.states[id].sources[n]
}

func (r *Router) usedBy(id int, n *circuit.Net) bool {
	return r.sourceUses(id, n) > 0
}

// traceRoute follows prev pointers from the sink back to the source.
func (r *Router) traceRoute(conn *Connection) {
	var rev []int
	for id := conn.SinkNode; id != -1; id = r.states[id].prev {
		rev = append(rev, id)
	}
	conn.Route = conn.Route[:0]
	for i := len(rev) - 1; i >= 0; i-- {
		conn.Route = append(conn.Route, rev[i])
	}
}

func (r *Router) touch(id int) {
	st := &r.states[id]
	if st.touched {
		return
	}
	st.touched = true
	r.touched = append(r.touched, id)
}

// resetScratch clears Dijkstra state for the nodes touched by the
// previous search, O(touched) rather than O(|graph|).
func (r *Router) resetScratch() {
	for _, id := range r.touched {
		st := &r.states[id]
		st.touched = false
		st.prev = -1
		st.partialCost = 0
		st.lowerBound = 0
	}
	r.touched = r.touched[:0]
}
