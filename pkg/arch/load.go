package arch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// Sentinel errors surfaced by the loader.
var (
	// ErrBadArchitecture indicates the file decoded but fails validation.
	ErrBadArchitecture = errors.New("arch: invalid architecture")
	// ErrUnknownBlockType indicates a reference to a type the file never defines.
	ErrUnknownBlockType = errors.New("arch: unknown block type")
)

// blockDef mirrors the on-disk block definition.
type blockDef struct {
	Leaf           bool               `json:"leaf"`
	Clocked        bool               `json:"clocked"`
	GlobalCategory string             `json:"globalCategory"`
	Height         int                `json:"height"`
	Start          int                `json:"start"`
	Repeat         int                `json:"repeat"`
	Ports          portsDef           `json:"ports"`
	Modes          map[string]modeDef `json:"modes"`
	Children       map[string]int     `json:"children"`
}

type portsDef struct {
	Input  map[string]int `json:"input"`
	Output map[string]int `json:"output"`
}

type modeDef struct {
	Children map[string]int `json:"children"`
}

// archFile mirrors the top level of an architecture JSON file.
type archFile struct {
	IOCapacity int                 `json:"io_capacity"`
	Blocks     map[string]blockDef `json:"blocks"`
	Delays     map[string]float64  `json:"delays"`
}

// Load reads and validates an architecture description from path.
func Load(path string) (*Architecture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("arch: read %s: %w", path, err)
	}
	a, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("arch: %s: %w", path, err)
	}
	a.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return a, nil
}

// Parse decodes an architecture description from raw JSON.
func Parse(data []byte) (*Architecture, error) {
	var file archFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return build(file)
}

func build(file archFile) (*Architecture, error) {
	if file.IOCapacity <= 0 {
		return nil, fmt.Errorf("%w: io_capacity must be positive, got %d", ErrBadArchitecture, file.IOCapacity)
	}

	a := &Architecture{
		IOCapacity: file.IOCapacity,
		byName:     make(map[string]*BlockType, len(file.Blocks)),
		delays:     make(map[string]float64, len(file.Delays)),
	}

	// Assign dense indices in name order so the same file always yields the
	// same type indices.
	names := make([]string, 0, len(file.Blocks))
	for name := range file.Blocks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := file.Blocks[name]
		t, err := buildType(name, def)
		if err != nil {
			return nil, err
		}
		t.Index = len(a.blockTypes)
		a.blockTypes = append(a.blockTypes, t)
		a.byName[name] = t
	}

	// Child references must resolve.
	for _, t := range a.blockTypes {
		for _, m := range t.Modes {
			for _, c := range m.Children {
				if _, ok := a.byName[c.TypeName]; !ok {
					return nil, fmt.Errorf("%w: %s mode %q references %q", ErrUnknownBlockType, t.Name, m.Name, c.TypeName)
				}
			}
		}
	}

	for key, ps := range file.Delays {
		if key == "clock_setup_time" {
			a.ClockSetupTime = ps
			continue
		}
		a.delays[key] = ps
	}

	return a, nil
}

func buildType(name string, def blockDef) (*BlockType, error) {
	t := &BlockType{
		Name:    name,
		Clocked: def.Clocked,
		Height:  def.Height,
		Start:   def.Start,
		Repeat:  def.Repeat,
	}

	switch {
	case def.Leaf:
		t.Category = CategoryLeaf
	case def.GlobalCategory == "IO":
		t.Category = CategoryIO
	case def.GlobalCategory == "CLB":
		t.Category = CategoryCLB
	case def.GlobalCategory == "hardblock":
		t.Category = CategoryHardBlock
	case def.GlobalCategory == "":
		t.Category = CategoryIntermediate
	default:
		return nil, fmt.Errorf("%w: block %s has unknown globalCategory %q", ErrBadArchitecture, name, def.GlobalCategory)
	}

	// IO and CLB occupy single rows in every column of their kind;
	// hardblocks default to a dense single-column pattern.
	if t.Height == 0 {
		t.Height = 1
	}
	if t.Repeat == 0 {
		t.Repeat = 1
	}
	if t.Category.Global() && (t.Height < 1 || t.Repeat < 1) {
		return nil, fmt.Errorf("%w: block %s has height %d repeat %d", ErrBadArchitecture, name, t.Height, t.Repeat)
	}
	if (t.Category == CategoryIO || t.Category == CategoryCLB) && (t.Height != 1 || t.Repeat != 1) {
		return nil, fmt.Errorf("%w: block %s: io/clb must have height 1 repeat 1", ErrBadArchitecture, name)
	}

	t.Inputs = sortedPorts(def.Ports.Input)
	t.Outputs = sortedPorts(def.Ports.Output)

	switch {
	case def.Leaf:
		if len(def.Modes) != 0 || len(def.Children) != 0 {
			return nil, fmt.Errorf("%w: leaf block %s may not declare children", ErrBadArchitecture, name)
		}
		t.Modes = []Mode{{}}
	case len(def.Modes) > 0:
		modeNames := make([]string, 0, len(def.Modes))
		for m := range def.Modes {
			modeNames = append(modeNames, m)
		}
		sort.Strings(modeNames)
		for _, m := range modeNames {
			t.Modes = append(t.Modes, Mode{Name: m, Children: sortedChildren(def.Modes[m].Children)})
		}
	default:
		// A single unnamed mode, possibly with direct children.
		t.Modes = []Mode{{Children: sortedChildren(def.Children)}}
	}

	return t, nil
}

func sortedPorts(m map[string]int) []Port {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	ports := make([]Port, 0, len(names))
	for _, name := range names {
		ports = append(ports, Port{Name: name, Count: m[name]})
	}
	return ports
}

func sortedChildren(m map[string]int) []ChildSpec {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	children := make([]ChildSpec, 0, len(names))
	for _, name := range names {
		children = append(children, ChildSpec{TypeName: name, Count: m[name]})
	}
	return children
}
