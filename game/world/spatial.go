package world

import (
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/kasuganosora/coopwave/server/game/ai"
)

const (
	rtreeMinChildren = 25
	rtreeMaxChildren = 50
)

// spatialEntry is one pawn footprint in the R-tree.
type spatialEntry struct {
	ref    ai.EntityRef
	radius float64
	rect   rtreego.Rect
}

func (e *spatialEntry) Bounds() rtreego.Rect { return e.rect }

func footprint(center ai.Vector3, radius float64) rtreego.Rect {
	if radius <= 0 {
		radius = 1e-6
	}
	return rtreego.Point{center.X, center.Y}.ToRect(radius)
}

// spatialIndex answers sphere overlap queries over pawn footprints. It is
// rebuilt after every physics step and patched on spawn and removal.
type spatialIndex struct {
	tree    *rtreego.Rtree
	entries map[ai.EntityID]*spatialEntry
}

func newSpatialIndex() *spatialIndex {
	return &spatialIndex{
		tree:    rtreego.NewTree(2, rtreeMinChildren, rtreeMaxChildren),
		entries: make(map[ai.EntityID]*spatialEntry),
	}
}

func (s *spatialIndex) insert(ref ai.EntityRef, radius float64) {
	s.remove(ref.ID())
	e := &spatialEntry{ref: ref, radius: radius, rect: footprint(ref.Position(), radius)}
	s.entries[ref.ID()] = e
	s.tree.Insert(e)
}

func (s *spatialIndex) remove(id ai.EntityID) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	s.tree.Delete(e)
	delete(s.entries, id)
}

// rebuild bulk-loads a fresh tree from the current positions.
func (s *spatialIndex) rebuild() {
	objs := make([]rtreego.Spatial, 0, len(s.entries))
	for _, e := range s.entries {
		e.rect = footprint(e.ref.Position(), e.radius)
		objs = append(objs, e)
	}
	s.tree = rtreego.NewTree(2, rtreeMinChildren, rtreeMaxChildren, objs...)
}

// query returns every entry of the given categories whose footprint touches
// the sphere, ordered by ID.
func (s *spatialIndex) query(center ai.Vector3, radius float64, categories ai.Category, skip func(ai.EntityRef) bool) []ai.EntityRef {
	var out []ai.EntityRef
	for _, obj := range s.tree.SearchIntersect(footprint(center, radius)) {
		e := obj.(*spatialEntry)
		if !e.ref.Categories().Has(categories) {
			continue
		}
		if skip != nil && skip(e.ref) {
			continue
		}
		if !center.Within(e.ref.Position(), radius+e.radius) {
			continue
		}
		out = append(out, e.ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *spatialIndex) size() int { return len(s.entries) }
