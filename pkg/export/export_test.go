package export_test

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vanderheijden86/gridloom/pkg/arch"
	"github.com/vanderheijden86/gridloom/pkg/circuit"
	"github.com/vanderheijden86/gridloom/pkg/export"
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
  "delays": {}
}`

func placedCircuit(t *testing.T) *circuit.Circuit {
	t.Helper()
	a, err := arch.Parse([]byte(testArch))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c := circuit.New(a, "snap")
	io, _ := a.BlockType("io")
	clb, _ := a.BlockType("clb")

	in := circuit.NewBlock("in", io, &io.Modes[0])
	mid := circuit.NewBlock("mid", clb, &clb.Modes[0])
	c.AddBlock(in)
	c.AddBlock(mid)
	c.AddNet(&circuit.Net{Name: "n", Source: in.Outputs[0], Sinks: []*circuit.Pin{mid.Inputs[0]}})

	if err := c.BuildGrid(4); err != nil {
		t.Fatalf("BuildGrid: %v", err)
	}
	if err := c.Place(in, c.Grid.SiteAt(0, 1), 0); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if err := c.Place(mid, c.Grid.SiteAt(1, 1), 0); err != nil {
		t.Fatalf("Place: %v", err)
	}
	return c
}

func TestSaveSnapshotSVG(t *testing.T) {
	c := placedCircuit(t)
	path := filepath.Join(t.TempDir(), "place.svg")
	if err := export.SaveSnapshot(c, export.SnapshotOptions{Path: path, Nets: true}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	body := string(data)
	if !strings.Contains(body, "<svg") || !strings.Contains(body, "<rect") {
		t.Error("snapshot does not look like an SVG grid")
	}
	if !strings.Contains(body, "<line") {
		t.Error("net fly-lines missing")
	}
}

func TestSaveSnapshotInfersFormat(t *testing.T) {
	c := placedCircuit(t)
	path := filepath.Join(t.TempDir(), "place")
	if err := export.SaveSnapshot(c, export.SnapshotOptions{Path: path}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if _, err := os.Stat(path + ".svg"); err != nil {
		t.Errorf("expected %s.svg: %v", path, err)
	}
}

func TestRunStatsSave(t *testing.T) {
	rs := export.NewRunStats("snap", 4, 1)
	rs.Record(export.IterationStat{Stage: "analytical", Iteration: 1, HPWL: 10, Cost: 12})
	rs.Record(export.IterationStat{Stage: "route", Iteration: 3, HPWL: 10, Cost: 9, MaxDelay: 450, Overused: 0})

	path := filepath.Join(t.TempDir(), "stats.sqlite3")
	if err := rs.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var runs, iters int
	if err := db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs); err != nil {
		t.Fatalf("count runs: %v", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM iterations`).Scan(&iters); err != nil {
		t.Fatalf("count iterations: %v", err)
	}
	if runs != 1 || iters != 2 {
		t.Errorf("runs = %d iterations = %d, want 1/2", runs, iters)
	}

	var stage string
	var maxDelay float64
	err = db.QueryRow(`SELECT stage, max_delay FROM iterations WHERE stage = 'route'`).Scan(&stage, &maxDelay)
	if err != nil {
		t.Fatalf("select route row: %v", err)
	}
	if maxDelay != 450 {
		t.Errorf("max_delay = %v, want 450", maxDelay)
	}
}
