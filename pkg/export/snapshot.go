// Package export renders placement snapshots (SVG or PNG) and writes run
// statistics to a SQLite database for offline analysis.
package export

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"git.sr.ht/~sbinet/gg"
	svg "github.com/ajstarks/svgo"
	"golang.org/x/image/font/basicfont"

	"github.com/vanderheijden86/gridloom/pkg/arch"
	"github.com/vanderheijden86/gridloom/pkg/circuit"
	"github.com/vanderheijden86/gridloom/pkg/metrics"
)

// SnapshotOptions controls placement snapshot export behaviour.
type SnapshotOptions struct {
	Path   string // Output path; format inferred from extension when Format empty
	Format string // "svg" or "png" (case-insensitive). If empty, inferred from Path.
	Title  string // Optional title rendered above the grid
	Nets   bool   // Draw a fly-line from each net's driver to every sink
}

const (
	tilePx   = 28
	marginPx = 40
	headerPx = 28
)

var (
	colorBackdrop = color.RGBA{0xf9, 0xfa, 0xfb, 0xff}
	colorGridLine = color.RGBA{0xd0, 0xd4, 0xd8, 0xff}
	colorIO       = color.RGBA{0xff, 0xf3, 0xe0, 0xff}
	colorCLB      = color.RGBA{0xc8, 0xe6, 0xc9, 0xff}
	colorHard     = color.RGBA{0xbb, 0xde, 0xfb, 0xff}
	colorOccupied = color.RGBA{0x22, 0x22, 0x22, 0xff}
	colorNetLine  = color.RGBA{0x6b, 0x80, 0xbf, 0x90}
	colorText     = color.RGBA{0x11, 0x11, 0x11, 0xff}
)

func siteColor(t *arch.BlockType) color.RGBA {
	switch t.Category {
	case arch.CategoryIO:
		return colorIO
	case arch.CategoryHardBlock:
		return colorHard
	default:
		return colorCLB
	}
}

// SaveSnapshot renders the current placement of the circuit.
func SaveSnapshot(c *circuit.Circuit, opts SnapshotOptions) error {
	defer metrics.Timer(metrics.SnapshotRender)()
	if c.Grid == nil {
		return fmt.Errorf("export: circuit has no grid")
	}

	format := strings.ToLower(strings.TrimPrefix(opts.Format, "."))
	if format == "" {
		switch strings.ToLower(filepath.Ext(opts.Path)) {
		case ".png":
			format = "png"
		default:
			format = "svg"
			if opts.Path != "" && filepath.Ext(opts.Path) == "" {
				opts.Path = opts.Path + ".svg"
			}
		}
	}
	if format != "svg" && format != "png" {
		return fmt.Errorf("export: unsupported format %q (want svg or png)", format)
	}
	if opts.Path == "" {
		return fmt.Errorf("export: output path is required")
	}
	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("export: create parent dir: %w", err)
		}
	}

	switch format {
	case "svg":
		return renderSVG(c, opts)
	default:
		return renderPNG(c, opts)
	}
}

func canvasSize(c *circuit.Circuit) (w, h int) {
	w = c.Grid.Width*tilePx + 2*marginPx
	h = c.Grid.Height*tilePx + 2*marginPx + headerPx
	return w, h
}

// tileRect maps grid coordinates to canvas pixels; the y axis is flipped
// so row 0 draws at the bottom.
func tileRect(c *circuit.Circuit, x, y, height int) (px, py, pw, ph int) {
	px = marginPx + x*tilePx
	py = marginPx + headerPx + (c.Grid.Height-y-height)*tilePx
	return px, py, tilePx, height * tilePx
}

func renderSVG(c *circuit.Circuit, opts SnapshotOptions) error {
	f, err := os.Create(opts.Path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", opts.Path, err)
	}
	defer f.Close()

	w, h := canvasSize(c)
	canvas := svg.New(f)
	canvas.Start(w, h)
	canvas.Rect(0, 0, w, h, fill(colorBackdrop))

	title := opts.Title
	if title == "" {
		title = c.Name
	}
	canvas.Text(marginPx, marginPx-8, title, "font-family:monospace;font-size:14px;fill:"+hex(colorText))

	for _, s := range c.Grid.Sites() {
		px, py, pw, ph := tileRect(c, s.X, s.Y, s.Type.Height)
		canvas.Rect(px+1, py+1, pw-2, ph-2, fill(siteColor(s.Type))+";stroke:"+hex(colorGridLine))
		if s.Occupancy() > 0 {
			r := tilePx / 4
			canvas.Circle(px+pw/2, py+ph/2, r, fill(colorOccupied))
		}
	}

	if opts.Nets {
		for _, n := range c.Nets {
			sx, sy := n.Source.Owner.Position()
			x1, y1, pw, ph := tileRect(c, sx, sy, 1)
			for _, sink := range n.Sinks {
				tx, ty := sink.Owner.Position()
				x2, y2, _, _ := tileRect(c, tx, ty, 1)
				canvas.Line(x1+pw/2, y1+ph/2, x2+pw/2, y2+ph/2,
					"stroke:"+hex(colorNetLine)+";stroke-width:1")
			}
		}
	}

	canvas.End()
	return nil
}

func renderPNG(c *circuit.Circuit, opts SnapshotOptions) error {
	w, h := canvasSize(c)
	dc := gg.NewContext(w, h)
	dc.SetColor(colorBackdrop)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)

	title := opts.Title
	if title == "" {
		title = c.Name
	}
	dc.SetColor(colorText)
	dc.DrawString(title, float64(marginPx), float64(marginPx-8))

	for _, s := range c.Grid.Sites() {
		px, py, pw, ph := tileRect(c, s.X, s.Y, s.Type.Height)
		dc.SetColor(siteColor(s.Type))
		dc.DrawRectangle(float64(px+1), float64(py+1), float64(pw-2), float64(ph-2))
		dc.Fill()
		dc.SetColor(colorGridLine)
		dc.DrawRectangle(float64(px+1), float64(py+1), float64(pw-2), float64(ph-2))
		dc.Stroke()
		if s.Occupancy() > 0 {
			dc.SetColor(colorOccupied)
			dc.DrawCircle(float64(px+pw/2), float64(py+ph/2), float64(tilePx)/4)
			dc.Fill()
		}
	}

	if opts.Nets {
		dc.SetColor(colorNetLine)
		dc.SetLineWidth(1)
		for _, n := range c.Nets {
			sx, sy := n.Source.Owner.Position()
			x1, y1, pw, ph := tileRect(c, sx, sy, 1)
			for _, sink := range n.Sinks {
				tx, ty := sink.Owner.Position()
				x2, y2, _, _ := tileRect(c, tx, ty, 1)
				dc.DrawLine(float64(x1+pw/2), float64(y1+ph/2), float64(x2+pw/2), float64(y2+ph/2))
				dc.Stroke()
			}
		}
	}

	return dc.SavePNG(opts.Path)
}

func hex(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func fill(c color.RGBA) string {
	return "fill:" + hex(c)
}
