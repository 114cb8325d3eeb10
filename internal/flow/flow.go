// Package flow drives a complete place-and-route run: load architecture
// and netlist, run the placer sequence, route, and emit the results.
package flow

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/vanderheijden86/gridloom/pkg/arch"
	"github.com/vanderheijden86/gridloom/pkg/circuit"
	"github.com/vanderheijden86/gridloom/pkg/config"
	"github.com/vanderheijden86/gridloom/pkg/debug"
	"github.com/vanderheijden86/gridloom/pkg/export"
	"github.com/vanderheijden86/gridloom/pkg/metrics"
	"github.com/vanderheijden86/gridloom/pkg/netlist"
	"github.com/vanderheijden86/gridloom/pkg/place"
	"github.com/vanderheijden86/gridloom/pkg/route"
	"github.com/vanderheijden86/gridloom/pkg/timing"
)

// ErrUnknownPlacer indicates a --placer name outside the recognized set.
var ErrUnknownPlacer = errors.New("flow: unknown placer")

// Options configures one run.
type Options struct {
	ArchPath  string
	NetPath   string
	PlacePath string // optional starting placement

	OutputPath string // placement file destination
	SVGPath    string // optional snapshot (svg or png by extension)
	StatsDB    string // optional SQLite statistics destination

	Random  bool  // randomize initial placement with the fixed seed
	Seed    int64 // base seed, default 1
	Placers []config.PlacerSpec

	Route        bool
	Router       route.Options
	ChannelWidth int

	// Out receives the run summary; stderr-style diagnostics go through
	// pkg/debug.
	Out io.Writer
}

// Run executes the pipeline.
func Run(opts Options) error {
	if opts.Seed == 0 {
		opts.Seed = 1
	}

	a, err := loadArch(opts.ArchPath)
	if err != nil {
		return err
	}

	c, err := netlist.LoadNet(opts.NetPath, a)
	if err != nil {
		return err
	}

	if opts.PlacePath != "" {
		if err := netlist.LoadPlacement(opts.PlacePath, c); err != nil {
			return err
		}
	} else if err := c.BuildGrid(0); err != nil {
		return err
	}

	stats := export.NewRunStats(c.Name, c.Grid.Width, opts.Seed)

	// Empty circuits fall straight through: nothing to place or route.
	if len(c.Blocks) == 0 {
		fmt.Fprintf(opts.Out, "circuit %s: empty, %dx%d device, cost 0\n", c.Name, c.Grid.Width, c.Grid.Height)
		return emit(c, stats, opts)
	}

	tg, err := timing.New(c)
	if err != nil {
		return err
	}

	placers := opts.Placers
	if len(placers) == 0 {
		placers = config.DefaultConfig().Placers
	}
	if opts.Random {
		placers = append([]config.PlacerSpec{{Name: "random"}}, placers...)
	}

	// The analytical placer and the annealer refine an existing
	// placement; seed one when the netlist came in unplaced.
	if opts.PlacePath == "" && (len(placers) == 0 || placers[0].Name != "random") {
		placers = append([]config.PlacerSpec{{Name: "random"}}, placers...)
	}

	for _, spec := range placers {
		p, err := buildPlacer(spec, opts.Seed)
		if err != nil {
			return err
		}
		debug.Section("placer " + p.Name())
		if err := p.Place(c, tg); err != nil {
			return fmt.Errorf("placer %s: %w", p.Name(), err)
		}
		if err := c.CheckLegal(); err != nil {
			return fmt.Errorf("placer %s left an illegal placement: %w", p.Name(), err)
		}
		tg.EstimateWireDelays()
		tg.UpdateArrivalRequired()
		stats.Record(export.IterationStat{
			Stage:    p.Name(),
			HPWL:     float64(c.TotalHPWL()),
			Cost:     place.NewBBCost(c).Total(),
			MaxDelay: tg.MaxDelay(),
		})
		fmt.Fprintf(opts.Out, "placer %-10s hpwl %6d  estimated delay %8.1f ps\n",
			p.Name(), c.TotalHPWL(), tg.MaxDelay())
	}

	if opts.Route {
		if err := runRouter(c, tg, stats, opts); err != nil {
			return err
		}
	}

	return emit(c, stats, opts)
}

func loadArch(path string) (*arch.Architecture, error) {
	defer metrics.Timer(metrics.ArchLoad)()
	return arch.Load(path)
}

func runRouter(c *circuit.Circuit, tg *timing.Graph, stats *export.RunStats, opts Options) error {
	gopts := route.DefaultGraphOptions()
	if opts.ChannelWidth > 0 {
		gopts.ChannelWidth = opts.ChannelWidth
	}
	rrg := route.BuildGraph(c, gopts)

	ropts := opts.Router
	if ropts.MaxTrials == 0 {
		ropts = route.DefaultOptions()
	}

	tg.EstimateWireDelays()
	tg.UpdateArrivalRequired()

	router := route.NewRouter(rrg, c, tg, ropts)
	result, err := router.Route()
	if err != nil {
		return err
	}

	stats.Record(export.IterationStat{
		Stage:     "route",
		Iteration: result.Iterations,
		HPWL:      float64(c.TotalHPWL()),
		Cost:      float64(result.WireLength),
		MaxDelay:  result.MaxDelay,
		Overused:  len(result.OverusedNodes),
	})

	if result.Success {
		fmt.Fprintf(opts.Out, "routing converged in %d iterations: wire length %d, max delay %.1f ps\n",
			result.Iterations, result.WireLength, result.MaxDelay)
	} else {
		fmt.Fprintf(opts.Out, "routing failed after %d iterations: %d overused nodes remain\n",
			result.Iterations, len(result.OverusedNodes))
		for i, id := range result.OverusedNodes {
			if i >= 20 {
				fmt.Fprintf(opts.Out, "  ... and %d more\n", len(result.OverusedNodes)-20)
				break
			}
			n := rrg.Nodes[id]
			fmt.Fprintf(opts.Out, "  %s at (%d,%d)\n", n.Kind, n.X, n.Y)
		}
	}
	return nil
}

func emit(c *circuit.Circuit, stats *export.RunStats, opts Options) error {
	if opts.OutputPath != "" {
		if err := netlist.SavePlacement(opts.OutputPath, c, opts.NetPath); err != nil {
			return err
		}
	}
	if opts.SVGPath != "" {
		if err := export.SaveSnapshot(c, export.SnapshotOptions{Path: opts.SVGPath, Nets: true}); err != nil {
			return err
		}
	}
	if opts.StatsDB != "" {
		if err := stats.Save(opts.StatsDB); err != nil {
			return err
		}
	}
	return nil
}

// buildPlacer resolves one --placer spec.
func buildPlacer(spec config.PlacerSpec, seed int64) (place.Placer, error) {
	switch spec.Name {
	case "random":
		p := &place.Random{Seed: seed}
		if v, ok := spec.Options["seed"]; ok {
			s, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("placer random: seed: %w", err)
			}
			p.Seed = s
		}
		return p, nil

	case "analytical":
		o := place.DefaultAnalyticalOptions()
		for k, v := range spec.Options {
			var err error
			switch k {
			case "iterations":
				o.MaxIterations, err = strconv.Atoi(v)
			case "tolerance":
				o.Tolerance, err = strconv.ParseFloat(v, 64)
			case "pseudo_weight":
				o.PseudoWeight, err = strconv.ParseFloat(v, 64)
			case "stop_gap":
				o.StopGap, err = strconv.ParseFloat(v, 64)
			default:
				err = fmt.Errorf("unknown option %q", k)
			}
			if err != nil {
				return nil, fmt.Errorf("placer analytical: %s: %w", k, err)
			}
		}
		return &place.Analytical{Options: o}, nil

	case "SA":
		o := place.DefaultAnnealerOptions()
		o.Seed = seed
		for k, v := range spec.Options {
			var err error
			switch k {
			case "lambda":
				o.Lambda, err = strconv.ParseFloat(v, 64)
			case "moves_per_block":
				o.MovesPerBlock, err = strconv.ParseFloat(v, 64)
			case "seed":
				o.Seed, err = strconv.ParseInt(v, 10, 64)
			default:
				err = fmt.Errorf("unknown option %q", k)
			}
			if err != nil {
				return nil, fmt.Errorf("placer SA: %s: %w", k, err)
			}
		}
		return &place.Annealer{Options: o}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPlacer, spec.Name)
}
