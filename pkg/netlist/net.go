// Package netlist reads VPR-style net files into circuit models and reads
// and writes placement files.
package netlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vanderheijden86/gridloom/pkg/arch"
	"github.com/vanderheijden86/gridloom/pkg/circuit"
	"github.com/vanderheijden86/gridloom/pkg/debug"
	"github.com/vanderheijden86/gridloom/pkg/metrics"
)

// Sentinel errors for netlist loading.
var (
	// ErrBadNetFile indicates a syntax or consistency problem in a net file.
	ErrBadNetFile = errors.New("netlist: invalid net file")
	// ErrMissingDriver indicates a net with sinks but no driver pin.
	ErrMissingDriver = errors.New("netlist: net has no driver")
)

// netBuilder accumulates driver and sink pins per net name.
type netBuilder struct {
	driver *circuit.Pin
	sinks  []*circuit.Pin
	order  int
}

// LoadNet reads a net file from disk.
func LoadNet(path string, a *arch.Architecture) (*circuit.Circuit, error) {
	defer metrics.Timer(metrics.NetlistLoad)()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("netlist: open %s: %w", path, err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	c, err := ParseNet(f, a, name)
	if err != nil {
		return nil, fmt.Errorf("netlist: %s: %w", path, err)
	}
	return c, nil
}

// ParseNet reads a VPR-style net file: ".input" and ".output" pad blocks
// with a single-net pinlist, ".clb" blocks whose pinlist covers input port
// bits, output port bits and (for clocked types) the clock, and ".global"
// nets which are excluded from routing.
func ParseNet(r io.Reader, a *arch.Architecture, name string) (*circuit.Circuit, error) {
	c := circuit.New(a, name)

	ioType, clbType := padAndLogicTypes(a)
	if ioType == nil {
		return nil, fmt.Errorf("%w: architecture has no IO block type", ErrBadNetFile)
	}

	nets := make(map[string]*netBuilder)
	globals := make(map[string]bool)
	builder := func(net string) *netBuilder {
		nb, ok := nets[net]
		if !ok {
			nb = &netBuilder{order: len(nets)}
			nets[net] = nb
		}
		return nb
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var pendingKind, pendingName string
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch {
		case fields[0] == ".global":
			if len(fields) != 2 {
				return nil, fmt.Errorf("%w: line %d: .global wants one net", ErrBadNetFile, lineNo)
			}
			globals[fields[1]] = true

		case fields[0] == ".input" || fields[0] == ".output" || fields[0] == ".clb":
			if len(fields) != 2 {
				return nil, fmt.Errorf("%w: line %d: %s wants a block name", ErrBadNetFile, lineNo, fields[0])
			}
			if pendingKind != "" {
				return nil, fmt.Errorf("%w: line %d: %s %s has no pinlist", ErrBadNetFile, lineNo, pendingKind, pendingName)
			}
			pendingKind, pendingName = fields[0], fields[1]

		case fields[0] == "pinlist:":
			if pendingKind == "" {
				return nil, fmt.Errorf("%w: line %d: pinlist without a block", ErrBadNetFile, lineNo)
			}
			pins := fields[1:]
			var err error
			switch pendingKind {
			case ".input":
				err = addPad(c, ioType, pendingName, pins, true, builder)
			case ".output":
				err = addPad(c, ioType, pendingName, pins, false, builder)
			case ".clb":
				if clbType == nil {
					err = fmt.Errorf("architecture has no CLB block type")
				} else {
					err = addLogicBlock(c, clbType, pendingName, pins, globals, builder)
				}
			}
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrBadNetFile, lineNo, err)
			}
			pendingKind, pendingName = "", ""

		case fields[0] == "subblock:":
			// Sub-block annotations describe internal packing already
			// captured by the block type's mode; nothing to do.

		default:
			return nil, fmt.Errorf("%w: line %d: unknown directive %q", ErrBadNetFile, lineNo, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("netlist: read: %w", err)
	}
	if pendingKind != "" {
		return nil, fmt.Errorf("%w: %s %s has no pinlist", ErrBadNetFile, pendingKind, pendingName)
	}

	if err := buildNets(c, nets, globals); err != nil {
		return nil, err
	}
	debug.Log("netlist %s: %d blocks, %d nets", name, len(c.Blocks), len(c.Nets))
	return c, nil
}

func addPad(c *circuit.Circuit, t *arch.BlockType, name string, pins []string, drives bool, builder func(string) *netBuilder) error {
	if len(pins) != 1 {
		return fmt.Errorf("pad %s wants exactly one net, got %d", name, len(pins))
	}
	b := circuit.NewBlock(name, t, &t.Modes[0])
	c.AddBlock(b)
	if drives {
		if len(b.Outputs) == 0 {
			return fmt.Errorf("pad type %s has no output pins", t.Name)
		}
		builder(pins[0]).driver = b.Outputs[0]
		return nil
	}
	if len(b.Inputs) == 0 {
		return fmt.Errorf("pad type %s has no input pins", t.Name)
	}
	nb := builder(pins[0])
	nb.sinks = append(nb.sinks, b.Inputs[0])
	return nil
}

// addLogicBlock maps the pinlist positionally: input port bits in port
// order, then output port bits, then the clock for clocked types. "open"
// leaves a pin unconnected.
func addLogicBlock(c *circuit.Circuit, t *arch.BlockType, name string, pins []string, globals map[string]bool, builder func(string) *netBuilder) error {
	b := circuit.NewBlock(name, t, &t.Modes[0])
	c.AddBlock(b)

	want := len(b.Inputs) + len(b.Outputs)
	if t.Clocked {
		want++
	}
	if len(pins) != want {
		return fmt.Errorf("block %s wants %d pins, got %d", name, want, len(pins))
	}

	for i, p := range b.Inputs {
		net := pins[i]
		if net == "open" || globals[net] {
			continue
		}
		nb := builder(net)
		nb.sinks = append(nb.sinks, p)
	}
	for i, p := range b.Outputs {
		net := pins[len(b.Inputs)+i]
		if net == "open" {
			continue
		}
		builder(net).driver = p
	}
	// The trailing clock net, when present, is global by construction.
	return nil
}

// buildNets materializes the accumulated nets in file order, skipping
// globals and dangling nets without sinks.
func buildNets(c *circuit.Circuit, nets map[string]*netBuilder, globals map[string]bool) error {
	names := make([]string, 0, len(nets))
	for name := range nets {
		names = append(names, name)
	}
	// File order keeps net indices stable run to run.
	sort.Slice(names, func(i, j int) bool {
		return nets[names[i]].order < nets[names[j]].order
	})

	for _, name := range names {
		nb := nets[name]
		if globals[name] || len(nb.sinks) == 0 {
			continue
		}
		if nb.driver == nil {
			return fmt.Errorf("%w: %s", ErrMissingDriver, name)
		}
		c.AddNet(&circuit.Net{Name: name, Source: nb.driver, Sinks: nb.sinks})
	}
	return nil
}

// padAndLogicTypes returns the IO and CLB block types of the architecture.
func padAndLogicTypes(a *arch.Architecture) (ioType, clbType *arch.BlockType) {
	for _, t := range a.BlockTypes() {
		switch t.Category {
		case arch.CategoryIO:
			if ioType == nil {
				ioType = t
			}
		case arch.CategoryCLB:
			if clbType == nil {
				clbType = t
			}
		}
	}
	return ioType, clbType
}
