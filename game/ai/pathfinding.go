package ai

import (
	"container/heap"
	"math"
)

// Point is a 2D grid cell coordinate.
type Point struct {
	X, Y int
}

// NavGrid is a walkability grid laid over the arena floor (XY plane).
type NavGrid struct {
	Width, Height int
	CellSize      float64
	Origin        Vector3 // world position of the corner of cell (0,0)
	blocked       []bool
}

// NewNavGrid creates a fully walkable grid.
func NewNavGrid(width, height int, cellSize float64, origin Vector3) *NavGrid {
	if cellSize <= 0 {
		cellSize = 1
	}
	return &NavGrid{
		Width:    width,
		Height:   height,
		CellSize: cellSize,
		Origin:   origin,
		blocked:  make([]bool, width*height),
	}
}

// InBounds reports whether p is a cell of the grid.
func (g *NavGrid) InBounds(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.Width && p.Y < g.Height
}

// Walkable reports whether p is inside the grid and not blocked.
func (g *NavGrid) Walkable(p Point) bool {
	return g.InBounds(p) && !g.blocked[p.Y*g.Width+p.X]
}

// Block marks a single cell as impassable.
func (g *NavGrid) Block(p Point) {
	if g.InBounds(p) {
		g.blocked[p.Y*g.Width+p.X] = true
	}
}

// BlockRect marks every cell touched by the world-space rectangle [min,max] (XY only).
func (g *NavGrid) BlockRect(min, max Vector3) {
	lo := g.CellAt(min)
	hi := g.CellAt(max)
	for y := lo.Y; y <= hi.Y; y++ {
		for x := lo.X; x <= hi.X; x++ {
			g.Block(Point{x, y})
		}
	}
}

// CellAt returns the cell containing world position v.
func (g *NavGrid) CellAt(v Vector3) Point {
	return Point{
		X: int(math.Floor((v.X - g.Origin.X) / g.CellSize)),
		Y: int(math.Floor((v.Y - g.Origin.Y) / g.CellSize)),
	}
}

// CenterOf returns the world position of the center of p at height z.
func (g *NavGrid) CenterOf(p Point, z float64) Vector3 {
	return Vector3{
		X: g.Origin.X + (float64(p.X)+0.5)*g.CellSize,
		Y: g.Origin.Y + (float64(p.Y)+0.5)*g.CellSize,
		Z: z,
	}
}

// LineOfSight reports whether the straight segment between the centers of a
// and b crosses only walkable cells.
func (g *NavGrid) LineOfSight(a, b Point) bool {
	dx := float64(b.X - a.X)
	dy := float64(b.Y - a.Y)
	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy)) * 4))
	if steps == 0 {
		return g.Walkable(a)
	}
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := Point{
			X: int(math.Floor(float64(a.X) + 0.5 + dx*t)),
			Y: int(math.Floor(float64(a.Y) + 0.5 + dy*t)),
		}
		if p != a && !g.Walkable(p) {
			return false
		}
	}
	return true
}

type pathNode struct {
	pt     Point
	g, f   int
	parent *pathNode
	index  int
}

type openSet []*pathNode

func (o openSet) Len() int           { return len(o) }
func (o openSet) Less(i, j int) bool { return o[i].f < o[j].f }
func (o openSet) Swap(i, j int) {
	o[i], o[j] = o[j], o[i]
	o[i].index = i
	o[j].index = j
}
func (o *openSet) Push(x any) {
	n := x.(*pathNode)
	n.index = len(*o)
	*o = append(*o, n)
}
func (o *openSet) Pop() any {
	old := *o
	n := old[len(old)-1]
	*o = old[:len(old)-1]
	return n
}

var gridDirs = []Point{{0, 1}, {0, -1}, {1, 0}, {-1, 0}}

// AStar finds the shortest 4-connected path from `from` to `to`.
// The result excludes the start and includes the end; it is empty when
// from == to and nil when no path exists.
func AStar(g *NavGrid, from, to Point) []Point {
	if g == nil || !g.InBounds(from) || !g.Walkable(to) {
		return nil
	}
	if from == to {
		return []Point{}
	}

	heuristic := func(a, b Point) int {
		dx := a.X - b.X
		if dx < 0 {
			dx = -dx
		}
		dy := a.Y - b.Y
		if dy < 0 {
			dy = -dy
		}
		return dx + dy
	}

	closed := make(map[Point]bool)
	gScore := map[Point]int{from: 0}
	open := &openSet{}
	heap.Push(open, &pathNode{pt: from, f: heuristic(from, to)})

	for open.Len() > 0 {
		cur := heap.Pop(open).(*pathNode)
		if closed[cur.pt] {
			continue
		}
		closed[cur.pt] = true

		if cur.pt == to {
			var path []Point
			for n := cur; n.parent != nil; n = n.parent {
				path = append(path, n.pt)
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path
		}

		for _, d := range gridDirs {
			np := Point{cur.pt.X + d.X, cur.pt.Y + d.Y}
			if closed[np] || !g.Walkable(np) {
				continue
			}
			ng := cur.g + 1
			if prev, ok := gScore[np]; !ok || ng < prev {
				gScore[np] = ng
				heap.Push(open, &pathNode{pt: np, g: ng, f: ng + heuristic(np, to), parent: cur})
			}
		}
	}
	return nil
}

// GridOracle answers PathOracle queries with A* over a NavGrid.
// The returned waypoint is the farthest path cell still in straight line of
// sight from the start, so open ground yields the target itself.
type GridOracle struct {
	grid *NavGrid
}

// NewGridOracle wraps grid. A nil grid makes every query fail with ErrNavigationUnavailable.
func NewGridOracle(grid *NavGrid) *GridOracle {
	return &GridOracle{grid: grid}
}

// Grid returns the underlying grid.
func (o *GridOracle) Grid() *NavGrid { return o.grid }

func (o *GridOracle) NextWaypoint(from Vector3, target EntityRef) (Vector3, error) {
	if o == nil || o.grid == nil {
		return Vector3{}, ErrNavigationUnavailable
	}
	if target == nil {
		return Vector3{}, ErrNoPath
	}
	goalPos := target.Position()
	start := o.grid.CellAt(from)
	goal := o.grid.CellAt(goalPos)

	path := AStar(o.grid, start, goal)
	if path == nil {
		return Vector3{}, ErrNoPath
	}
	if len(path) == 0 {
		return goalPos, nil
	}

	next := path[0]
	for _, p := range path[1:] {
		if !o.grid.LineOfSight(start, p) {
			break
		}
		next = p
	}
	if next == goal {
		return goalPos, nil
	}
	return o.grid.CenterOf(next, from.Z), nil
}
