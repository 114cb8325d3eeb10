package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/vanderheijden86/gridloom/internal/flow"
	"github.com/vanderheijden86/gridloom/pkg/config"
	"github.com/vanderheijden86/gridloom/pkg/debug"
	"github.com/vanderheijden86/gridloom/pkg/metrics"
	"github.com/vanderheijden86/gridloom/pkg/route"
	"github.com/vanderheijden86/gridloom/pkg/version"
)

// placerList collects repeatable --placer flags of the form
// name[:key=value,key=value].
type placerList []config.PlacerSpec

func (p *placerList) String() string {
	var names []string
	for _, spec := range *p {
		names = append(names, spec.Name)
	}
	return strings.Join(names, ",")
}

func (p *placerList) Set(value string) error {
	name, optStr, _ := strings.Cut(value, ":")
	spec := config.PlacerSpec{Name: name}
	if optStr != "" {
		spec.Options = make(map[string]string)
		for _, pair := range strings.Split(optStr, ",") {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("malformed placer option %q (want key=value)", pair)
			}
			spec.Options[k] = v
		}
	}
	*p = append(*p, spec)
	return nil
}

func main() {
	archPath := flag.String("architecture", "", "Architecture description JSON file")
	netPath := flag.String("net", "", "Net file to place and route")
	placePath := flag.String("place", "", "Existing placement file to start from")
	output := flag.String("output", "", "Placement file destination")
	svgPath := flag.String("svg", "", "Write a placement snapshot (svg or png by extension)")
	statsDB := flag.String("stats-db", "", "Append run statistics to a SQLite database")
	configPath := flag.String("config", "", "YAML preset with architecture, placers and router tuning")

	random := flag.Bool("random", false, "Randomize the initial placement with a fixed seed")
	seed := flag.Int64("seed", 1, "Base seed for the random placer and the annealer")
	doRoute := flag.Bool("route", false, "Route after placement")
	timingDriven := flag.Bool("td", true, "Timing-driven routing")
	maxTrials := flag.Int("max-trials", 0, "Router iteration cap (0 uses the default)")
	channelWidth := flag.Int("channel-width", 0, "Tracks per routing channel (0 uses the default)")

	cpuProfile := flag.String("cpu-profile", "", "Write CPU profile to file")
	showMetrics := flag.Bool("metrics", false, "Print timing metrics after the run")
	versionFlag := flag.Bool("version", false, "Show version")

	var placers placerList
	flag.Var(&placers, "placer", "Placer stage: random, analytical or SA, with optional :key=value,... (repeatable)")

	flag.Parse()

	if *versionFlag {
		fmt.Printf("gridloom %s\n", version.Version)
		os.Exit(0)
	}

	// CPU profiling support
	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	opts := flow.Options{
		ArchPath:     *archPath,
		NetPath:      *netPath,
		PlacePath:    *placePath,
		OutputPath:   *output,
		SVGPath:      *svgPath,
		StatsDB:      *statsDB,
		Random:       *random,
		Seed:         *seed,
		Placers:      placers,
		Route:        *doRoute,
		ChannelWidth: *channelWidth,
		Out:          os.Stdout,
	}

	opts.Router = route.DefaultOptions()
	opts.Router.TimingDriven = *timingDriven
	if *maxTrials > 0 {
		opts.Router.MaxTrials = *maxTrials
	}

	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if opts.ArchPath == "" {
			opts.ArchPath = cfg.Architecture
		}
		if len(opts.Placers) == 0 {
			opts.Placers = cfg.Placers
		}
		if cfg.Router.TimingDriven != nil {
			opts.Router.TimingDriven = *cfg.Router.TimingDriven
		}
		if cfg.Router.MaxTrials > 0 {
			opts.Router.MaxTrials = cfg.Router.MaxTrials
		}
		if cfg.Router.ChannelWidth > 0 && opts.ChannelWidth == 0 {
			opts.ChannelWidth = cfg.Router.ChannelWidth
		}
	}

	if opts.ArchPath == "" || opts.NetPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: gridloom --architecture <arch.json> --net <design.net> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := flow.Run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *showMetrics || debug.Enabled() {
		metrics.WriteReport(os.Stderr)
	}
}
