package circuit

// Net connects one driver pin to a set of sink pins.
type Net struct {
	Index  int
	Name   string
	Source *Pin
	Sinks  []*Pin
}

// Fanout returns the number of sink pins.
func (n *Net) Fanout() int {
	return len(n.Sinks)
}

// BoundingBox returns the half-perimeter bounding box of the net across the
// sites of its blocks. All blocks must be placed.
func (n *Net) BoundingBox() (xmin, xmax, ymin, ymax int) {
	x, y := n.Source.Owner.Position()
	xmin, xmax, ymin, ymax = x, x, y, y
	for _, s := range n.Sinks {
		x, y = s.Owner.Position()
		if x < xmin {
			xmin = x
		}
		if x > xmax {
			xmax = x
		}
		if y < ymin {
			ymin = y
		}
		if y > ymax {
			ymax = y
		}
	}
	return xmin, xmax, ymin, ymax
}

// HPWL returns the half-perimeter wire length of the net.
func (n *Net) HPWL() int {
	xmin, xmax, ymin, ymax := n.BoundingBox()
	return (xmax - xmin) + (ymax - ymin)
}

// Center returns the geometric center of the net's bounding box.
func (n *Net) Center() (cx, cy float64) {
	xmin, xmax, ymin, ymax := n.BoundingBox()
	return float64(xmin+xmax) / 2, float64(ymin+ymax) / 2
}

// Pins calls fn for the source pin and then every sink pin.
func (n *Net) Pins(fn func(*Pin)) {
	fn(n.Source)
	for _, s := range n.Sinks {
		fn(s)
	}
}
