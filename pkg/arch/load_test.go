package arch_test

import (
	"errors"
	"testing"

	"github.com/vanderheijden86/gridloom/pkg/arch"
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
      "ports": {"input": {"in": 4}, "output": {"out": 1}},
      "children": {"ble": 1}
    },
    "ble": {
      "leaf": true,
      "clocked": true,
      "ports": {"input": {"in": 4}, "output": {"out": 1}}
    },
    "mult": {
      "globalCategory": "hardblock",
      "height": 2,
      "start": 2,
      "repeat": 4,
      "ports": {"input": {"a": 2}, "output": {"p": 1}}
    }
  },
  "delays": {
    "clock_setup_time": 80,
    "clb.in-clb.out": 250,
    "io.inpad-clb.in": 120,
    "clb.out-io": 90
  }
}`

func mustParse(t *testing.T) *arch.Architecture {
	t.Helper()
	a, err := arch.Parse([]byte(testArch))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return a
}

func TestParseBlockTypes(t *testing.T) {
	a := mustParse(t)

	if a.IOCapacity != 2 {
		t.Errorf("IOCapacity = %d, want 2", a.IOCapacity)
	}
	if a.ClockSetupTime != 80 {
		t.Errorf("ClockSetupTime = %v, want 80", a.ClockSetupTime)
	}

	io, ok := a.BlockType("io")
	if !ok {
		t.Fatal("io type missing")
	}
	if io.Category != arch.CategoryIO || io.Height != 1 || io.Repeat != 1 {
		t.Errorf("io = %+v, want IO height 1 repeat 1", io)
	}

	clb, ok := a.BlockType("clb")
	if !ok {
		t.Fatal("clb type missing")
	}
	if clb.InputCount() != 4 || clb.OutputCount() != 1 {
		t.Errorf("clb pins = %d in %d out, want 4/1", clb.InputCount(), clb.OutputCount())
	}
	if len(clb.Modes) != 1 || len(clb.Modes[0].Children) != 1 {
		t.Errorf("clb modes = %+v, want one unnamed mode with ble child", clb.Modes)
	}

	ble, ok := a.BlockType("ble")
	if !ok {
		t.Fatal("ble type missing")
	}
	if ble.Category != arch.CategoryLeaf || !ble.Clocked {
		t.Errorf("ble = %+v, want clocked leaf", ble)
	}

	mult, ok := a.BlockType("mult")
	if !ok {
		t.Fatal("mult type missing")
	}
	if mult.Category != arch.CategoryHardBlock || mult.Height != 2 || mult.Start != 2 || mult.Repeat != 4 {
		t.Errorf("mult = %+v, want hardblock height 2 start 2 repeat 4", mult)
	}
}

func TestTypeIndicesAreDeterministic(t *testing.T) {
	a := mustParse(t)
	b := mustParse(t)
	for i, ta := range a.BlockTypes() {
		if tb := b.BlockTypes()[i]; ta.Name != tb.Name || ta.Index != i {
			t.Errorf("index %d: %s vs %s", i, ta.Name, tb.Name)
		}
	}
}

func TestDelayLookup(t *testing.T) {
	a := mustParse(t)

	if d := a.Delay("clb", "in", "clb", "out"); d != 250 {
		t.Errorf("full key delay = %v, want 250", d)
	}
	// Source-setup form: "clb.out-io" matches any io sink port.
	if d := a.Delay("clb", "out", "io", "outpad"); d != 90 {
		t.Errorf("source-setup delay = %v, want 90", d)
	}
	if _, ok := a.DelayEntry("ble", "in", "ble", "out"); ok {
		t.Error("expected no delay entry for ble.in-ble.out")
	}
}

func TestOccupiesColumn(t *testing.T) {
	a := mustParse(t)
	mult, _ := a.BlockType("mult")

	// start 2, repeat 4 on a width-12 device: columns 3, 7.
	want := map[int]bool{3: true, 7: true}
	for c := 0; c < 12; c++ {
		if got := mult.OccupiesColumn(c, 12); got != want[c] {
			t.Errorf("OccupiesColumn(%d) = %v, want %v", c, got, want[c])
		}
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		json string
		want error
	}{
		{
			name: "zero io capacity",
			json: `{"io_capacity": 0, "blocks": {}}`,
			want: arch.ErrBadArchitecture,
		},
		{
			name: "unknown category",
			json: `{"io_capacity": 1, "blocks": {"x": {"globalCategory": "dsp", "ports": {}}}}`,
			want: arch.ErrBadArchitecture,
		},
		{
			name: "leaf with children",
			json: `{"io_capacity": 1, "blocks": {"x": {"leaf": true, "children": {"y": 1}, "ports": {}}}}`,
			want: arch.ErrBadArchitecture,
		},
		{
			name: "dangling child reference",
			json: `{"io_capacity": 1, "blocks": {"x": {"children": {"ghost": 1}, "ports": {}}}}`,
			want: arch.ErrUnknownBlockType,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := arch.Parse([]byte(tc.json))
			if !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}
