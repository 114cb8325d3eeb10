package netlist_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/vanderheijden86/gridloom/pkg/arch"
	"github.com/vanderheijden86/gridloom/pkg/netlist"
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
      "clocked": true,
      "ports": {"input": {"in": 4}, "output": {"out": 1}}
    }
  },
  "delays": {}
}`

const testNet = `# two pads around one logic block
.global clk

.input in0
pinlist: n_in0

.input in1
pinlist: n_in1

.clb c0
pinlist: n_in0 n_in1 open open n_c0 clk

.output out0
pinlist: n_c0
`

func testArchitecture(t *testing.T) *arch.Architecture {
	t.Helper()
	a, err := arch.Parse([]byte(testArch))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return a
}

func TestParseNet(t *testing.T) {
	a := testArchitecture(t)
	c, err := netlist.ParseNet(strings.NewReader(testNet), a, "two_pads")
	if err != nil {
		t.Fatalf("ParseNet: %v", err)
	}

	if len(c.Blocks) != 4 {
		t.Fatalf("blocks = %d, want 4", len(c.Blocks))
	}
	if len(c.Nets) != 3 {
		t.Fatalf("nets = %d, want 3 (clk is global)", len(c.Nets))
	}

	c0, ok := c.BlockNamed("c0")
	if !ok {
		t.Fatal("block c0 missing")
	}
	if c0.Type.Name != "clb" {
		t.Errorf("c0 type %s, want clb", c0.Type.Name)
	}
	if c0.Inputs[0].Net == nil || c0.Inputs[0].Net.Name != "n_in0" {
		t.Errorf("c0.in[0] net = %v, want n_in0", c0.Inputs[0].Net)
	}
	if c0.Inputs[2].Net != nil {
		t.Errorf("open pin connected to %v", c0.Inputs[2].Net)
	}

	// The net driven by c0 fans out to the output pad only.
	var found bool
	for _, n := range c.Nets {
		if n.Name == "n_c0" {
			found = true
			if n.Source.Owner != c0 || n.Fanout() != 1 {
				t.Errorf("n_c0 = %v fanout %d", n.Source, n.Fanout())
			}
		}
	}
	if !found {
		t.Error("net n_c0 missing")
	}
}

func TestParseNetErrors(t *testing.T) {
	a := testArchitecture(t)
	cases := []struct {
		name string
		net  string
		want error
	}{
		{
			name: "pad pin count",
			net:  ".input a\npinlist: n1 n2\n",
			want: netlist.ErrBadNetFile,
		},
		{
			name: "clb pin count",
			net:  ".clb a\npinlist: n1 n2\n",
			want: netlist.ErrBadNetFile,
		},
		{
			name: "unknown directive",
			net:  ".latch a\n",
			want: netlist.ErrBadNetFile,
		},
		{
			name: "missing driver",
			net:  ".output a\npinlist: ghost\n",
			want: netlist.ErrMissingDriver,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := netlist.ParseNet(strings.NewReader(tc.net), a, "bad")
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPlacementRoundTrip(t *testing.T) {
	a := testArchitecture(t)
	c, err := netlist.ParseNet(strings.NewReader(testNet), a, "two_pads")
	if err != nil {
		t.Fatalf("ParseNet: %v", err)
	}
	if err := c.BuildGrid(0); err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}

	// Hand-place everything on the first free slot of each type's sites.
	for _, b := range c.Blocks {
		placed := false
		for _, s := range c.Grid.SitesOfType(b.Type) {
			if sub, free := s.FreeSlot(); free {
				if err := c.Place(b, s, sub); err != nil {
					t.Fatalf("Place: %v", err)
				}
				placed = true
				break
			}
		}
		if !placed {
			t.Fatalf("no free site for %s", b.Name)
		}
	}

	var buf strings.Builder
	if err := netlist.WritePlacement(&buf, c, "two_pads.net"); err != nil {
		t.Fatalf("WritePlacement: %v", err)
	}

	// Read it back into a fresh circuit.
	c2, err := netlist.ParseNet(strings.NewReader(testNet), a, "two_pads")
	if err != nil {
		t.Fatalf("ParseNet: %v", err)
	}
	if err := netlist.ReadPlacement(strings.NewReader(buf.String()), c2); err != nil {
		t.Fatalf("ReadPlacement: %v", err)
	}

	for i, b := range c.Blocks {
		b2 := c2.Blocks[i]
		if b.Site.X != b2.Site.X || b.Site.Y != b2.Site.Y || b.SubBlock != b2.SubBlock {
			t.Errorf("block %s: (%d,%d,%d) vs (%d,%d,%d)", b.Name,
				b.Site.X, b.Site.Y, b.SubBlock, b2.Site.X, b2.Site.Y, b2.SubBlock)
		}
	}
}

func TestReadPlacementErrors(t *testing.T) {
	a := testArchitecture(t)
	c, err := netlist.ParseNet(strings.NewReader(testNet), a, "two_pads")
	if err != nil {
		t.Fatalf("ParseNet: %v", err)
	}

	bad := "Array size: 6 x 6 logic blocks\nghost 1 1 0\n"
	if err := netlist.ReadPlacement(strings.NewReader(bad), c); !errors.Is(err, netlist.ErrBadPlaceFile) {
		t.Errorf("err = %v, want ErrBadPlaceFile", err)
	}
}
