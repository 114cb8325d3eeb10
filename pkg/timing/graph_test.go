package timing_test

import (
	"testing"

	"github.com/vanderheijden86/gridloom/pkg/arch"
	"github.com/vanderheijden86/gridloom/pkg/circuit"
	"github.com/vanderheijden86/gridloom/pkg/timing"
)

const testArch = `{
  "io_capacity": 1,
  "blocks": {
    "io": {
      "globalCategory": "IO",
      "ports": {"input": {"outpad": 1}, "output": {"inpad": 1}}
    },
    "clb": {
      "globalCategory": "CLB",
      "ports": {"input": {"in": 2}, "output": {"out": 1}}
    }
  },
  "delays": {
    "clb.in-clb.out": 250
  }
}`

// chainCircuit builds in -> clb -> out on one row of a 6x6 device.
func chainCircuit(t *testing.T) *circuit.Circuit {
	t.Helper()
	a, err := arch.Parse([]byte(testArch))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c := circuit.New(a, "chain")

	ioType, _ := a.BlockType("io")
	clbType, _ := a.BlockType("clb")

	in := circuit.NewBlock("in", ioType, &ioType.Modes[0])
	mid := circuit.NewBlock("mid", clbType, &clbType.Modes[0])
	out := circuit.NewBlock("out", ioType, &ioType.Modes[0])
	c.AddBlock(in)
	c.AddBlock(mid)
	c.AddBlock(out)

	c.AddNet(&circuit.Net{Name: "a", Source: in.Outputs[0], Sinks: []*circuit.Pin{mid.Inputs[0]}})
	c.AddNet(&circuit.Net{Name: "b", Source: mid.Outputs[0], Sinks: []*circuit.Pin{out.Inputs[0]}})

	if err := c.BuildGrid(6); err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	place := func(b *circuit.Block, x, y int) {
		t.Helper()
		s := c.Grid.SiteAt(x, y)
		if s == nil {
			t.Fatalf("no site at (%d,%d)", x, y)
		}
		if err := c.Place(b, s, 0); err != nil {
			t.Fatalf("Place %s: %v", b.Name, err)
		}
	}
	place(in, 0, 2)
	place(mid, 2, 2)
	place(out, 5, 2)
	return c
}

func TestArrivalRequiredChain(t *testing.T) {
	c := chainCircuit(t)
	tg, err := timing.New(c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tg.EstimateWireDelays()
	tg.UpdateArrivalRequired()

	// in(0,2) -> mid(2,2): distance 2; mid -> out(5,2): distance 3.
	// Estimated wire delay is distance * 100, the intra-clb arc adds 250.
	want := 200.0 + 250 + 300
	if got := tg.MaxDelay(); got != want {
		t.Errorf("MaxDelay = %v, want %v", got, want)
	}

	// Edge laws: arrival(sink) >= arrival(src) + delay and
	// required(src) <= required(sink) - delay, slack >= 0 everywhere on a
	// single-path graph.
	for _, e := range tg.Edges() {
		if e.To.Arrival < e.From.Arrival+e.Delay-1e-9 {
			t.Errorf("arrival law violated on edge %v->%v", e.From.Pin, e.To.Pin)
		}
		if e.From.Required > e.To.Required-e.Delay+1e-9 {
			t.Errorf("required law violated on edge %v->%v", e.From.Pin, e.To.Pin)
		}
		if e.Slack < -1e-9 {
			t.Errorf("negative slack %v on edge %v->%v", e.Slack, e.From.Pin, e.To.Pin)
		}
	}
}

func TestRepeatedUpdateIsIdempotent(t *testing.T) {
	c := chainCircuit(t)
	tg, err := timing.New(c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tg.EstimateWireDelays()

	tg.UpdateArrivalRequired()
	first := snapshot(tg)
	tg.UpdateArrivalRequired()
	second := snapshot(tg)

	if len(first) != len(second) {
		t.Fatalf("edge count changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("edge %d slack changed between identical passes: %v vs %v", i, first[i], second[i])
		}
	}
}

func snapshot(tg *timing.Graph) []float64 {
	var out []float64
	for _, e := range tg.Edges() {
		out = append(out, e.Slack)
	}
	return out
}

func TestCriticalityBoundsAndCost(t *testing.T) {
	c := chainCircuit(t)
	tg, err := timing.New(c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tg.EstimateWireDelays()
	tg.UpdateArrivalRequired()
	tg.UpdateCriticalities(0.99, 1)

	for _, e := range tg.Edges() {
		if e.Criticality < 0 || e.Criticality > 0.99 {
			t.Errorf("criticality %v out of [0, 0.99]", e.Criticality)
		}
	}

	// The connected chain is the critical path (crit capped at 0.99);
	// the unconnected clb input contributes a slack-200 arc.
	critical := 0.99 * (200 + 250 + 300)
	idle := 250 * (1 - 200.0/750.0)
	want := critical + idle
	if got := tg.TotalCost(); !almost(got, want) {
		t.Errorf("TotalCost = %v, want %v", got, want)
	}
}

func TestActualWireDelayOverride(t *testing.T) {
	c := chainCircuit(t)
	tg, err := timing.New(c)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tg.EstimateWireDelays()

	n := c.Nets[0]
	tg.SetWireDelay(n, 0, 1234)
	if got := tg.WireEdges(n)[0].Delay; got != 1234 {
		t.Errorf("wire delay = %v, want 1234", got)
	}

	// Re-estimating restores the placement-based value.
	tg.EstimateWireDelays()
	if got := tg.WireEdges(n)[0].Delay; got != 200 {
		t.Errorf("re-estimated wire delay = %v, want 200", got)
	}
}

func almost(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-6
}
