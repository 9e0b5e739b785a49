package resource

import (
	"errors"
	"fmt"
	"os"

	"github.com/kasuganosora/coopwave/server/game/ai"
	"gopkg.in/yaml.v3"
)

// Point2 is a floor position in world units.
type Point2 struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Rect is an axis-aligned floor rectangle in world units.
type Rect struct {
	MinX float64 `yaml:"minX" json:"min_x"`
	MinY float64 `yaml:"minY" json:"min_y"`
	MaxX float64 `yaml:"maxX" json:"max_x"`
	MaxY float64 `yaml:"maxY" json:"max_y"`
}

// Center returns the middle of r.
func (r Rect) Center() Point2 {
	return Point2{X: (r.MinX + r.MaxX) / 2, Y: (r.MinY + r.MaxY) / 2}
}

// Contains reports whether p lies inside r (edges included).
func (r Rect) Contains(p Point2) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

// ArenaLayout is the static description of an encounter floor: a grid of
// CellSize squares with rectangular obstacles, player starts and tracker
// spawn points.
type ArenaLayout struct {
	Name         string   `yaml:"name" json:"name"`
	CellSize     float64  `yaml:"cellSize" json:"cell_size"`
	Width        int      `yaml:"width" json:"width"`   // in cells
	Height       int      `yaml:"height" json:"height"` // in cells
	Obstacles    []Rect   `yaml:"obstacles" json:"obstacles"`
	PlayerStarts []Point2 `yaml:"playerStarts" json:"player_starts"`
	SpawnPoints  []Point2 `yaml:"spawnPoints" json:"spawn_points"`
}

// LoadArena reads and validates a YAML arena layout.
func LoadArena(path string) (*ArenaLayout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read arena layout: %w", err)
	}
	return ParseArena(data)
}

// ParseArena decodes and validates a YAML arena layout.
func ParseArena(data []byte) (*ArenaLayout, error) {
	var a ArenaLayout
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse arena layout: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid arena layout: %w", err)
	}
	return &a, nil
}

// Validate checks dimensions and that every start and spawn point is on open floor.
func (a *ArenaLayout) Validate() error {
	if a.CellSize <= 0 {
		return errors.New("cellSize must be positive")
	}
	if a.Width <= 0 || a.Height <= 0 {
		return fmt.Errorf("size %dx%d must be positive", a.Width, a.Height)
	}
	if len(a.PlayerStarts) == 0 {
		return errors.New("at least one player start is required")
	}
	if len(a.SpawnPoints) == 0 {
		return errors.New("at least one spawn point is required")
	}
	for i, r := range a.Obstacles {
		if r.MinX > r.MaxX || r.MinY > r.MaxY {
			return fmt.Errorf("obstacle %d: min must not exceed max", i)
		}
	}
	check := func(kind string, pts []Point2) error {
		for i, p := range pts {
			if !a.inside(p) {
				return fmt.Errorf("%s %d (%.0f,%.0f) is outside the arena", kind, i, p.X, p.Y)
			}
			for _, r := range a.Obstacles {
				if r.Contains(p) {
					return fmt.Errorf("%s %d (%.0f,%.0f) is inside an obstacle", kind, i, p.X, p.Y)
				}
			}
		}
		return nil
	}
	if err := check("player start", a.PlayerStarts); err != nil {
		return err
	}
	return check("spawn point", a.SpawnPoints)
}

// Size returns the arena extent in world units.
func (a *ArenaLayout) Size() (w, h float64) {
	return float64(a.Width) * a.CellSize, float64(a.Height) * a.CellSize
}

func (a *ArenaLayout) inside(p Point2) bool {
	w, h := a.Size()
	return p.X >= 0 && p.Y >= 0 && p.X < w && p.Y < h
}

// NavGrid builds the walkability grid: obstacle cells and the outer ring are blocked.
func (a *ArenaLayout) NavGrid() *ai.NavGrid {
	g := ai.NewNavGrid(a.Width, a.Height, a.CellSize, ai.Vector3{})
	for _, r := range a.Obstacles {
		g.BlockRect(ai.Vector3{X: r.MinX, Y: r.MinY}, ai.Vector3{X: r.MaxX, Y: r.MaxY})
	}
	return g
}

// DefaultArena is a 3000x3000 floor with a central pillar, used when no
// layout file is configured.
func DefaultArena() *ArenaLayout {
	return &ArenaLayout{
		Name:     "default",
		CellSize: 100,
		Width:    30,
		Height:   30,
		Obstacles: []Rect{
			{MinX: 1300, MinY: 1300, MaxX: 1699, MaxY: 1699},
		},
		PlayerStarts: []Point2{{X: 1500, Y: 500}, {X: 1400, Y: 500}, {X: 1600, Y: 500}},
		SpawnPoints:  []Point2{{X: 250, Y: 2750}, {X: 2750, Y: 2750}, {X: 1500, Y: 2850}},
	}
}
