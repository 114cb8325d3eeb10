package config_test

import (
	"path/filepath"
	"testing"

	"github.com/vanderheijden86/gridloom/pkg/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if len(cfg.Placers) != 2 || cfg.Placers[0].Name != "analytical" || cfg.Placers[1].Name != "SA" {
		t.Errorf("default placers = %+v", cfg.Placers)
	}
}

func TestRoundTrip(t *testing.T) {
	td := true
	cfg := config.Config{
		Architecture: "k4_n4.json",
		Placers: []config.PlacerSpec{
			{Name: "analytical", Options: map[string]string{"iterations": "20"}},
			{Name: "SA", Options: map[string]string{"lambda": "0.3"}},
		},
		Router: config.RouterConfig{
			TimingDriven: &td,
			MaxTrials:    50,
			ChannelWidth: 12,
		},
	}

	path := filepath.Join(t.TempDir(), "gridloom.yaml")
	if err := config.Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.Architecture != cfg.Architecture {
		t.Errorf("architecture = %q", got.Architecture)
	}
	if len(got.Placers) != 2 || got.Placers[0].Options["iterations"] != "20" {
		t.Errorf("placers = %+v", got.Placers)
	}
	if got.Router.TimingDriven == nil || !*got.Router.TimingDriven {
		t.Error("timing_driven lost")
	}
	if got.Router.MaxTrials != 50 || got.Router.ChannelWidth != 12 {
		t.Errorf("router = %+v", got.Router)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
