package route_test

import (
	"math"
	"testing"

	"github.com/vanderheijden86/gridloom/pkg/arch"
	"github.com/vanderheijden86/gridloom/pkg/circuit"
	"github.com/vanderheijden86/gridloom/pkg/place"
	"github.com/vanderheijden86/gridloom/pkg/route"
	"github.com/vanderheijden86/gridloom/pkg/timing"
)

const testArch = `{
  "io_capacity": 2,
  "blocks": {
    "io": {
      "globalCategory": "IO",
      "ports": {"input": {"outpad": 1}, "output": {"inpad": 1}}
    },
    "clb": {
      "globalCategory": "CLB",
      "ports": {"input": {"in": 4}, "output": {"out": 1}}
    }
  },
  "delays": {
    "clb.in-clb.out": 250
  }
}`

// meshCircuit builds nCLB logic blocks: the first nCLB-1 form a chain from
// an input pad to an output pad, and the last drives a fanout net to every
// chain block. Everything is randomly placed.
func meshCircuit(tb testing.TB, nCLB int, seed int64) *circuit.Circuit {
	tb.Helper()
	a, err := arch.Parse([]byte(testArch))
	if err != nil {
		tb.Fatalf("Parse: %v", err)
	}
	c := circuit.New(a, "mesh")
	ioType, _ := a.BlockType("io")
	clb, _ := a.BlockType("clb")

	in := circuit.NewBlock("in", ioType, &ioType.Modes[0])
	out := circuit.NewBlock("out", ioType, &ioType.Modes[0])
	c.AddBlock(in)
	c.AddBlock(out)

	blocks := make([]*circuit.Block, nCLB)
	for i := 0; i < nCLB; i++ {
		blocks[i] = circuit.NewBlock("c"+string(rune('a'+i%26))+string(rune('0'+i/26)), clb, &clb.Modes[0])
		c.AddBlock(blocks[i])
	}

	// Chain through all but the last block: in -> c0 -> ... -> out. The
	// last block broadcasts to every chain block instead, giving the
	// router one high-fanout net.
	chain := blocks[:nCLB-1]
	fan := blocks[nCLB-1]

	c.AddNet(&circuit.Net{Name: "nin", Source: in.Outputs[0], Sinks: []*circuit.Pin{chain[0].Inputs[0]}})
	for i := 1; i < len(chain); i++ {
		c.AddNet(&circuit.Net{
			Name:   "nc" + chain[i].Name,
			Source: chain[i-1].Outputs[0],
			Sinks:  []*circuit.Pin{chain[i].Inputs[0]},
		})
	}
	c.AddNet(&circuit.Net{Name: "nout", Source: chain[len(chain)-1].Outputs[0], Sinks: []*circuit.Pin{out.Inputs[0]}})

	var sinks []*circuit.Pin
	for _, b := range chain {
		sinks = append(sinks, b.Inputs[1])
	}
	c.AddNet(&circuit.Net{Name: "nfan", Source: fan.Outputs[0], Sinks: sinks})

	if err := c.BuildGrid(0); err != nil {
		tb.Fatalf("BuildGrid: %v", err)
	}
	rnd := &place.Random{Seed: seed}
	if err := rnd.Place(c, nil); err != nil {
		tb.Fatalf("random init: %v", err)
	}
	return c
}

func routed(tb testing.TB, c *circuit.Circuit, td bool) (*route.Router, *route.Result, *route.Graph) {
	tb.Helper()
	tg, err := timing.New(c)
	if err != nil {
		tb.Fatalf("timing.New: %v", err)
	}
	tg.EstimateWireDelays()
	tg.UpdateArrivalRequired()

	rrg := route.BuildGraph(c, route.DefaultGraphOptions())
	opts := route.DefaultOptions()
	opts.TimingDriven = td
	r := route.NewRouter(rrg, c, tg, opts)
	result, err := r.Route()
	if err != nil {
		tb.Fatalf("Route: %v", err)
	}
	return r, result, rrg
}

func TestRouteConvergesWithoutTiming(t *testing.T) {
	c := meshCircuit(t, 10, 1)
	_, result, _ := routed(t, c, false)

	if !result.Success {
		t.Fatalf("routing failed: %d overused nodes", len(result.OverusedNodes))
	}
	if result.MaxDelay < 0 {
		t.Errorf("negative max delay %v", result.MaxDelay)
	}
	if result.WireLength <= 0 {
		t.Errorf("wire length %d, want > 0", result.WireLength)
	}
}

func TestRouteConvergesTimingDriven(t *testing.T) {
	c := meshCircuit(t, 8, 3)
	_, result, _ := routed(t, c, true)

	if !result.Success {
		t.Fatalf("routing failed: %d overused nodes", len(result.OverusedNodes))
	}
	if result.MaxDelay <= 0 {
		t.Errorf("max delay %v, want > 0", result.MaxDelay)
	}
}

func TestRoutesAreSimplePaths(t *testing.T) {
	c := meshCircuit(t, 6, 2)
	r, result, rrg := routed(t, c, false)
	if !result.Success {
		t.Fatal("routing failed")
	}

	for _, conn := range r.Connections() {
		if len(conn.Route) < 2 {
			t.Fatalf("net %s sink %d: route too short", conn.Net.Name, conn.SinkIndex)
		}
		if conn.Route[0] != conn.SourceNode {
			t.Errorf("route does not start at source")
		}
		if conn.Route[len(conn.Route)-1] != conn.SinkNode {
			t.Errorf("route does not end at sink")
		}
		seen := make(map[int]bool)
		for i, id := range conn.Route {
			if seen[id] {
				t.Errorf("net %s sink %d revisits node %d", conn.Net.Name, conn.SinkIndex, id)
			}
			seen[id] = true
			if i > 0 && !hasChild(rrg, conn.Route[i-1], id) {
				t.Errorf("net %s sink %d: %d -> %d is not an RRG edge", conn.Net.Name, conn.SinkIndex, conn.Route[i-1], id)
			}
		}
	}
}

func hasChild(g *route.Graph, parent, child int) bool {
	for _, id := range g.Nodes[parent].Children {
		if id == child {
			return true
		}
	}
	return false
}

func TestNoNodeOverCapacityAfterSuccess(t *testing.T) {
	c := meshCircuit(t, 8, 4)
	r, result, rrg := routed(t, c, false)
	if !result.Success {
		t.Fatal("routing failed")
	}
	for id, n := range rrg.Nodes {
		if r.Occupation(id) > n.Capacity {
			t.Errorf("node %d (%s) occupation %d > capacity %d", id, n.Kind, r.Occupation(id), n.Capacity)
		}
	}
}

func TestOpinUniquenessPerNet(t *testing.T) {
	c := meshCircuit(t, 8, 5)
	r, result, rrg := routed(t, c, false)
	if !result.Success {
		t.Fatal("routing failed")
	}

	opins := make(map[string]map[int]bool)
	for _, conn := range r.Connections() {
		for _, id := range conn.Route {
			if rrg.Nodes[id].Kind == route.KindOpin {
				if opins[conn.Net.Name] == nil {
					opins[conn.Net.Name] = make(map[int]bool)
				}
				opins[conn.Net.Name][id] = true
			}
		}
	}
	for net, set := range opins {
		if len(set) != 1 {
			t.Errorf("net %s uses %d OPINs, want exactly 1", net, len(set))
		}
	}
}

func TestRipupAddLeavesOccupationUnchanged(t *testing.T) {
	c := meshCircuit(t, 6, 6)
	r, result, rrg := routed(t, c, false)
	if !result.Success {
		t.Fatal("routing failed")
	}

	before := make([]int, len(rrg.Nodes))
	for id := range rrg.Nodes {
		before[id] = r.Occupation(id)
	}

	conn := r.Connections()[0]
	saved := append([]int(nil), conn.Route...)
	r.Ripup(conn)
	conn.Route = saved
	r.Add(conn)

	for id := range rrg.Nodes {
		if got := r.Occupation(id); got != before[id] {
			t.Errorf("node %d occupation %d, want %d", id, got, before[id])
		}
	}
}

func TestRerouteCriticalitySelfLimiting(t *testing.T) {
	c := meshCircuit(t, 10, 7)
	tg, err := timing.New(c)
	if err != nil {
		t.Fatalf("timing.New: %v", err)
	}
	tg.EstimateWireDelays()
	tg.UpdateArrivalRequired()

	rrg := route.BuildGraph(c, route.DefaultGraphOptions())
	r := route.NewRouter(rrg, c, tg, route.DefaultOptions())

	// Force an adversarial criticality distribution.
	for i, conn := range r.Connections() {
		conn.Criticality = 0.9 + 0.001*float64(i%100)
	}

	crit := r.SetRerouteCriticality(0.85)
	limit := int(math.Ceil(0.03 * float64(len(r.Connections()))))
	over := 0
	for _, conn := range r.Connections() {
		if conn.Criticality > crit {
			over++
		}
	}
	if over > limit {
		t.Errorf("%d connections above threshold %v, limit %d", over, crit, limit)
	}
}

func TestEmptyCircuitRoutesImmediately(t *testing.T) {
	a, err := arch.Parse([]byte(testArch))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c := circuit.New(a, "empty")
	if err := c.BuildGrid(2); err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	rrg := route.BuildGraph(c, route.DefaultGraphOptions())
	r := route.NewRouter(rrg, c, nil, route.DefaultOptions())
	result, err := r.Route()
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !result.Success || result.WireLength != 0 {
		t.Errorf("empty circuit: %+v", result)
	}
}
