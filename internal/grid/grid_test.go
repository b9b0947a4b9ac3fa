package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// crossroads is a 12x12 grid with one two-way street on each axis meeting in
// a 2x2 junction at (5..6, 5..6).
func crossroads(t *testing.T) *Grid {
	t.Helper()
	g, err := NewBuilder(12, 12).
		HStreet(5, 0, 11, East, West).
		VStreet(5, 0, 11, South, North).
		Signal(6, 6, 0).
		Build()
	require.NoError(t, err)
	return g
}

func TestBuilderGroupsJunction(t *testing.T) {
	g := crossroads(t)

	require.Len(t, g.Junctions(), 1)
	j := g.Junctions()[0]
	assert.Equal(t, Coord{5, 5}, j.Anchor)
	assert.Len(t, j.Cells, 4)
	assert.Equal(t, 0, j.Controller)
	assert.Equal(t, 1, g.Controllers())
	cx, cy := j.Center()
	assert.Equal(t, 5.5, cx)
	assert.Equal(t, 5.5, cy)

	cell, ok := g.Cell(Coord{6, 5})
	require.True(t, ok)
	assert.Equal(t, Intersection, cell.Role)
	assert.True(t, cell.Headings.Has(East))
	assert.True(t, cell.Headings.Has(North))
	assert.Equal(t, 0, cell.Junction)

	got, ok := g.JunctionByAnchor(Coord{5, 5})
	require.True(t, ok)
	assert.Equal(t, j.ID, got.ID)
	_, ok = g.JunctionByAnchor(Coord{6, 6})
	assert.False(t, ok)
}

func TestMaxSpeedLimit(t *testing.T) {
	g, err := NewBuilder(10, 5).HStreet(2, 0, 9, East).Limit(4, 2, 2.5).Build()
	require.NoError(t, err)
	assert.Equal(t, 2.5, g.MaxSpeedLimit())
}

func TestCellQueries(t *testing.T) {
	g := crossroads(t)

	assert.True(t, g.Legal(Coord{3, 5}, East))
	assert.False(t, g.Legal(Coord{3, 5}, West))
	assert.True(t, g.Legal(Coord{3, 6}, West))
	assert.False(t, g.Drivable(Coord{0, 0}))
	assert.False(t, g.Legal(Coord{-1, 5}, East))
	assert.Equal(t, DefaultSpeedLimit, g.SpeedLimit(Coord{3, 5}))
	assert.Zero(t, g.SpeedLimit(Coord{0, 0}))
	assert.Equal(t, DefaultSpeedLimit, g.MaxSpeedLimit())

	assert.True(t, g.OnEdge(Coord{11, 5}, East))
	assert.False(t, g.OnEdge(Coord{10, 5}, East))
	assert.Equal(t, 5, g.EdgeDistance(Coord{3, 5}, South))
	assert.Equal(t, 8, g.EdgeDistance(Coord{3, 5}, East))
}

func TestNextJunctionAndStopLine(t *testing.T) {
	g := crossroads(t)

	j, dist, ok := g.NextJunction(Coord{0, 5}, East, 10)
	require.True(t, ok)
	assert.Equal(t, 0, j.ID)
	assert.Equal(t, 5, dist)

	_, _, ok = g.NextJunction(Coord{0, 5}, East, 4)
	assert.False(t, ok)
	_, _, ok = g.NextJunction(Coord{8, 5}, East, 10)
	assert.False(t, ok, "junction is behind")

	assert.True(t, g.IsStopLine(Coord{4, 5}, East))
	assert.False(t, g.IsStopLine(Coord{3, 5}, East))
	assert.True(t, g.IsStopLine(Coord{7, 6}, West))
	assert.False(t, g.IsStopLine(Coord{5, 5}, East), "intersection cells are never stop lines")
}

func TestPivotAndExitCells(t *testing.T) {
	g := crossroads(t)

	exit, ok := g.ExitCell(Coord{5, 5}, East)
	require.True(t, ok)
	assert.Equal(t, Coord{7, 5}, exit)

	// Eastbound right turn pivots in the first cell carrying South.
	pivot, ok := g.PivotCell(Coord{4, 5}, East, South)
	require.True(t, ok)
	assert.Equal(t, Coord{5, 5}, pivot)

	// Eastbound left turn crosses to the northbound column.
	pivot, ok = g.PivotCell(Coord{4, 5}, East, North)
	require.True(t, ok)
	assert.Equal(t, Coord{6, 5}, pivot)
	exit, ok = g.ExitCell(pivot, North)
	require.True(t, ok)
	assert.Equal(t, Coord{6, 7}, exit)

	// Westbound traffic never carries East, so no pivot for a U-turn.
	_, ok = g.PivotCell(Coord{7, 6}, West, East)
	assert.False(t, ok)
}

func TestLaneIndex(t *testing.T) {
	g, err := NewBuilder(10, 10).HStreet(2, 0, 9, East, East, East).Build()
	require.NoError(t, err)

	// Lane 0 of an eastbound street is the southernmost row, which is the
	// right-hand side.
	assert.Equal(t, 0, g.LaneIndex(Coord{4, 2}, East, RightSide))
	assert.Equal(t, 2, g.LaneIndex(Coord{4, 2}, East, LeftSide))
	assert.Equal(t, 1, g.LaneIndex(Coord{4, 3}, East, LeftSide))
	assert.Equal(t, 0, g.LaneIndex(Coord{4, 4}, East, LeftSide))
	assert.Equal(t, Coord{4, 3}, Lateral(Coord{4, 2}, East, LeftSide))
	assert.Equal(t, Coord{4, 1}, Lateral(Coord{4, 2}, East, RightSide))
}

func TestRayStopsAtEdge(t *testing.T) {
	g := crossroads(t)
	var seen []int
	n := g.Ray(Coord{9, 5}, East, 10, func(k int, _ Cell) bool {
		seen = append(seen, k)
		return true
	})
	assert.Equal(t, 3, n)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestNewGridRejectsMalformedData(t *testing.T) {
	tests := []struct {
		name string
		data GridData
	}{
		{"empty size", GridData{Width: 0, Height: 4}},
		{"out of bounds", GridData{Width: 2, Height: 2, Cells: []CellData{{X: 2, Y: 0, Role: Road, Headings: []Heading{East}}}}},
		{"duplicate", GridData{Width: 2, Height: 2, Cells: []CellData{
			{X: 0, Y: 0, Role: Road, Headings: []Heading{East}},
			{X: 0, Y: 0, Role: Road, Headings: []Heading{East}},
		}}},
		{"road without headings", GridData{Width: 2, Height: 2, Cells: []CellData{{X: 0, Y: 0, Role: Road}}}},
		{"non-road with headings", GridData{Width: 2, Height: 2, Cells: []CellData{{X: 0, Y: 0, Role: NonRoad, Headings: []Heading{East}}}}},
		{"negative limit", GridData{Width: 2, Height: 2, Cells: []CellData{{X: 0, Y: 0, Role: Road, Headings: []Heading{East}, SpeedLimit: -1}}}},
		{"signal on road", GridData{Width: 2, Height: 2,
			Cells:         []CellData{{X: 0, Y: 0, Role: Road, Headings: []Heading{East}}},
			Intersections: []IntersectionData{{X: 0, Y: 0, Controller: 0}},
		}},
		{"sign out of bounds", GridData{Width: 2, Height: 2, Signs: []SignData{{X: 5, Y: 5}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGrid(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestConflictingControllers(t *testing.T) {
	_, err := NewBuilder(12, 12).
		HStreet(5, 0, 11, East, West).
		VStreet(5, 0, 11, South, North).
		Signal(5, 5, 0).
		Signal(6, 6, 1).
		Build()
	assert.Error(t, err)
}

func TestDataRebuildsSameGrid(t *testing.T) {
	g := crossroads(t)
	again, err := NewGrid(g.Data())
	require.NoError(t, err)
	assert.Equal(t, g.Junctions(), again.Junctions())
	assert.Equal(t, g.Controllers(), again.Controllers())
}

func TestOccupancyKeepsIDsSorted(t *testing.T) {
	g := crossroads(t)
	o := NewOccupancy(g)
	c := Coord{3, 5}
	o.Add(c, 7)
	o.Add(c, 2)
	o.Add(c, 7)
	o.Add(Coord{-1, 0}, 1)
	assert.Equal(t, []int{2, 7}, o.At(c))

	o.Move(c, Coord{4, 5}, 2)
	assert.Equal(t, []int{7}, o.At(c))
	assert.True(t, o.Occupied(Coord{4, 5}))

	o.Reset()
	assert.False(t, o.Occupied(c))
	assert.Nil(t, o.At(Coord{99, 99}))
}

func TestHeadingTurns(t *testing.T) {
	assert.Equal(t, North, East.Left())
	assert.Equal(t, South, East.Right())
	assert.Equal(t, West, East.Opposite())
	assert.Equal(t, AxisV, North.Axis())

	h, err := ParseHeading("west")
	require.NoError(t, err)
	assert.Equal(t, West, h)
	_, err = ParseHeading("up")
	assert.Error(t, err)
}
