package flow_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/vanderheijden86/gridloom/internal/flow"
	"github.com/vanderheijden86/gridloom/pkg/config"
	"github.com/vanderheijden86/gridloom/pkg/route"
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

const testNet = `.input in0
pinlist: n_in0

.clb c0
pinlist: n_in0 open open open n_c0

.clb c1
pinlist: n_c0 open open open n_c1

.output out0
pinlist: n_c1
`

func writeFixtures(t *testing.T) (archPath, netPath string) {
	t.Helper()
	dir := t.TempDir()
	archPath = filepath.Join(dir, "arch.json")
	netPath = filepath.Join(dir, "design.net")
	if err := os.WriteFile(archPath, []byte(testArch), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(netPath, []byte(testNet), 0o644); err != nil {
		t.Fatal(err)
	}
	return archPath, netPath
}

func TestPlaceAndRouteEndToEnd(t *testing.T) {
	archPath, netPath := writeFixtures(t)
	out := filepath.Join(t.TempDir(), "design.place")

	var summary bytes.Buffer
	err := flow.Run(flow.Options{
		ArchPath:   archPath,
		NetPath:    netPath,
		OutputPath: out,
		Random:     true,
		Seed:       1,
		Route:      true,
		Router:     route.DefaultOptions(),
		Out:        &summary,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read placement: %v", err)
	}
	if !bytes.Contains(data, []byte("Array size:")) {
		t.Error("placement file missing device header")
	}
	if !bytes.Contains(summary.Bytes(), []byte("routing converged")) {
		t.Errorf("summary = %q, want routing convergence", summary.String())
	}
}

func TestRandomSeedDeterminism(t *testing.T) {
	archPath, netPath := writeFixtures(t)

	run := func(out string) []byte {
		var summary bytes.Buffer
		err := flow.Run(flow.Options{
			ArchPath:   archPath,
			NetPath:    netPath,
			OutputPath: out,
			Random:     true,
			Seed:       1,
			Placers:    []config.PlacerSpec{{Name: "random"}},
			Out:        &summary,
		})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	dir := t.TempDir()
	first := run(filepath.Join(dir, "a.place"))
	second := run(filepath.Join(dir, "b.place"))
	if !bytes.Equal(first, second) {
		t.Error("identical seeds produced different place files")
	}
}

func TestEmptyCircuit(t *testing.T) {
	dir := t.TempDir()
	archPath := filepath.Join(dir, "arch.json")
	netPath := filepath.Join(dir, "empty.net")
	if err := os.WriteFile(archPath, []byte(testArch), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(netPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	var summary bytes.Buffer
	err := flow.Run(flow.Options{
		ArchPath: archPath,
		NetPath:  netPath,
		Route:    true,
		Out:      &summary,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Contains(summary.Bytes(), []byte("empty")) {
		t.Errorf("summary = %q", summary.String())
	}
	if !bytes.Contains(summary.Bytes(), []byte("2x2")) {
		t.Errorf("summary = %q, want minimal 2x2 device", summary.String())
	}
}

func TestUnknownPlacer(t *testing.T) {
	archPath, netPath := writeFixtures(t)
	err := flow.Run(flow.Options{
		ArchPath: archPath,
		NetPath:  netPath,
		Placers:  []config.PlacerSpec{{Name: "quantum"}},
		Out:      os.Stderr,
	})
	if err == nil {
		t.Fatal("expected error for unknown placer")
	}
}

func TestStatsAndSnapshotOutputs(t *testing.T) {
	archPath, netPath := writeFixtures(t)
	dir := t.TempDir()
	svg := filepath.Join(dir, "place.svg")
	db := filepath.Join(dir, "stats.sqlite3")

	err := flow.Run(flow.Options{
		ArchPath: archPath,
		NetPath:  netPath,
		Random:   true,
		SVGPath:  svg,
		StatsDB:  db,
		Out:      os.Stderr,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(svg); err != nil {
		t.Errorf("snapshot missing: %v", err)
	}
	if _, err := os.Stat(db); err != nil {
		t.Errorf("stats db missing: %v", err)
	}
}
