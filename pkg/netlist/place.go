package netlist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/vanderheijden86/gridloom/pkg/circuit"
)

// ErrBadPlaceFile indicates a syntax or consistency problem in a place file.
var ErrBadPlaceFile = errors.New("netlist: invalid place file")

// WritePlacement emits the placement in the standard text format: a header
// recording the device size, then one line per global block:
//
//	<name> <x> <y> <subblock>  # <block-index>
func WritePlacement(w io.Writer, c *circuit.Circuit, netFile string) error {
	if c.Grid == nil {
		return fmt.Errorf("%w: circuit has no grid", circuit.ErrIllegalPlacement)
	}
	fmt.Fprintf(w, "Netlist file: %s\n", netFile)
	fmt.Fprintf(w, "Array size: %d x %d logic blocks\n\n", c.Grid.Width, c.Grid.Height)
	fmt.Fprintf(w, "#block name\tx\ty\tsubblk\tblock number\n")
	fmt.Fprintf(w, "#----------\t--\t--\t------\t------------\n")
	for _, b := range c.Blocks {
		if b.Site == nil {
			return fmt.Errorf("%w: block %s unplaced", circuit.ErrIllegalPlacement, b.Name)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t#%d\n", b.Name, b.Site.X, b.Site.Y, b.SubBlock, b.Index)
	}
	return nil
}

// SavePlacement writes the placement to a file.
func SavePlacement(path string, c *circuit.Circuit, netFile string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("netlist: create %s: %w", path, err)
	}
	defer f.Close()
	bw := bufio.NewWriter(f)
	if err := WritePlacement(bw, c, netFile); err != nil {
		return err
	}
	return bw.Flush()
}

// LoadPlacement reads a place file and applies it to the circuit,
// building the grid at the header's device size first.
func LoadPlacement(path string, c *circuit.Circuit) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("netlist: open %s: %w", path, err)
	}
	defer f.Close()
	if err := ReadPlacement(f, c); err != nil {
		return fmt.Errorf("netlist: %s: %w", path, err)
	}
	return nil
}

// ReadPlacement parses placement lines and places each named block.
func ReadPlacement(r io.Reader, c *circuit.Circuit) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	sized := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "Netlist file:") {
			continue
		}
		if strings.HasPrefix(line, "Array size:") {
			fields := strings.Fields(line)
			// "Array size: W x H logic blocks"
			if len(fields) < 5 {
				return fmt.Errorf("%w: line %d: malformed array size", ErrBadPlaceFile, lineNo)
			}
			width, err := strconv.Atoi(fields[2])
			if err != nil {
				return fmt.Errorf("%w: line %d: %v", ErrBadPlaceFile, lineNo, err)
			}
			if err := c.BuildGrid(width); err != nil {
				return err
			}
			sized = true
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 4 {
			return fmt.Errorf("%w: line %d: want <name> <x> <y> <subblock>", ErrBadPlaceFile, lineNo)
		}
		if !sized {
			return fmt.Errorf("%w: line %d: block before array size header", ErrBadPlaceFile, lineNo)
		}
		b, ok := c.BlockNamed(fields[0])
		if !ok {
			return fmt.Errorf("%w: line %d: unknown block %q", ErrBadPlaceFile, lineNo, fields[0])
		}
		x, err1 := strconv.Atoi(fields[1])
		y, err2 := strconv.Atoi(fields[2])
		sub, err3 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil || err3 != nil {
			return fmt.Errorf("%w: line %d: malformed coordinates", ErrBadPlaceFile, lineNo)
		}
		site := c.Grid.SiteAt(x, y)
		if site == nil {
			return fmt.Errorf("%w: line %d: no site at (%d,%d)", ErrBadPlaceFile, lineNo, x, y)
		}
		if err := c.Place(b, site, sub); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("netlist: read: %w", err)
	}
	if !sized {
		return fmt.Errorf("%w: missing array size header", ErrBadPlaceFile)
	}
	return c.CheckLegal()
}
