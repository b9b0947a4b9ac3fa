package grid

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Heading is one of the four cardinal travel directions. +Y is north.
type Heading uint8

const (
	North Heading = iota
	East
	South
	West
)

// Headings lists all headings in clockwise order.
var Headings = [4]Heading{North, East, South, West}

var headingNames = [4]string{"N", "E", "S", "W"}

func (h Heading) String() string {
	if int(h) < len(headingNames) {
		return headingNames[h]
	}
	return fmt.Sprintf("Heading(%d)", h)
}

// ParseHeading accepts N/E/S/W or the full names, case-insensitively.
func ParseHeading(s string) (Heading, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "N", "NORTH":
		return North, nil
	case "E", "EAST":
		return East, nil
	case "S", "SOUTH":
		return South, nil
	case "W", "WEST":
		return West, nil
	}
	return 0, fmt.Errorf("unknown heading %q", s)
}

func (h Heading) MarshalJSON() ([]byte, error) { return json.Marshal(h.String()) }

func (h *Heading) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseHeading(s)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// Vec returns the unit step for h.
func (h Heading) Vec() (dx, dy int) {
	switch h {
	case North:
		return 0, 1
	case East:
		return 1, 0
	case South:
		return 0, -1
	default:
		return -1, 0
	}
}

// Left is the heading after a left turn.
func (h Heading) Left() Heading { return (h + 3) % 4 }

// Right is the heading after a right turn.
func (h Heading) Right() Heading { return (h + 1) % 4 }

// Opposite is the reversed heading.
func (h Heading) Opposite() Heading { return (h + 2) % 4 }

// Axis is an approach group of a signalised intersection.
type Axis uint8

const (
	AxisH Axis = iota // east-west traffic
	AxisV             // north-south traffic
)

func (a Axis) String() string {
	if a == AxisH {
		return "H"
	}
	return "V"
}

// Axis returns the approach group that h belongs to.
func (h Heading) Axis() Axis {
	if h == East || h == West {
		return AxisH
	}
	return AxisV
}

// Compatible reports whether two vehicles with these headings share a lane
// direction.
func Compatible(a, b Heading) bool { return a == b }

// HeadingSet is a bit set of legal headings.
type HeadingSet uint8

// SetOf builds a set from hs.
func SetOf(hs ...Heading) HeadingSet {
	var s HeadingSet
	for _, h := range hs {
		s = s.Add(h)
	}
	return s
}

func (s HeadingSet) Has(h Heading) bool { return s&(1<<h) != 0 }
func (s HeadingSet) Add(h Heading) HeadingSet { return s | 1<<h }
func (s HeadingSet) Empty() bool { return s == 0 }
func (s HeadingSet) Union(o HeadingSet) HeadingSet { return s | o }

// List returns the members in clockwise order from north.
func (s HeadingSet) List() []Heading {
	var out []Heading
	for _, h := range Headings {
		if s.Has(h) {
			out = append(out, h)
		}
	}
	return out
}

func (s HeadingSet) String() string {
	var b strings.Builder
	for _, h := range s.List() {
		b.WriteString(h.String())
	}
	return b.String()
}
