package tour

import (
	"errors"
	"fmt"
)

// Graph lookup and validation errors.
var (
	ErrSceneNotFound    = errors.New("scene not found")
	ErrEmptyTour        = errors.New("tour has no scenes")
	ErrDanglingHotspot  = errors.New("hotspot targets a missing scene")
	ErrMultipleFirst    = errors.New("more than one scene is marked first")
	ErrDuplicateSceneID = errors.New("duplicate scene id")
)

// WarningKind classifies a data-quality warning.
type WarningKind string

const (
	WarnDanglingHotspot  WarningKind = "dangling_hotspot"
	WarnMultipleFirst    WarningKind = "multiple_first"
	WarnDuplicateSceneID WarningKind = "duplicate_scene_id"
)

// Warning is a non-fatal data-quality issue reported to the authoring UI.
// It never blocks viewing.
type Warning struct {
	Kind          WarningKind `json:"kind"`
	SceneID       string      `json:"scene_id"`
	HotspotIndex  int         `json:"hotspot_index"`
	TargetSceneID string      `json:"target_scene_id,omitempty"`
	Message       string      `json:"message"`
}

func (w Warning) Error() string {
	return w.Message
}

// Unwrap maps the warning onto its sentinel error.
func (w Warning) Unwrap() error {
	switch w.Kind {
	case WarnDanglingHotspot:
		return ErrDanglingHotspot
	case WarnMultipleFirst:
		return ErrMultipleFirst
	case WarnDuplicateSceneID:
		return ErrDuplicateSceneID
	}
	return nil
}

// Graph is a validated, read-only view over a tour's scenes and hotspots.
// It owns a private copy of the tour; callers cannot mutate it.
type Graph struct {
	tour *Tour
	byID map[string]int
}

// NewGraph builds a graph over a copy of t. When scene ids repeat, the
// first occurrence wins lookups. A nil tour yields an empty graph.
func NewGraph(t *Tour) *Graph {
	if t == nil {
		t = &Tour{}
	}
	g := &Graph{
		tour: t.clone(),
		byID: make(map[string]int, len(t.Scenes)),
	}
	for i, s := range g.tour.Scenes {
		if _, dup := g.byID[s.ID]; !dup {
			g.byID[s.ID] = i
		}
	}
	return g
}

// Tour returns a copy of the underlying tour.
func (g *Graph) Tour() *Tour {
	return g.tour.clone()
}

// TourID returns the id of the underlying tour.
func (g *Graph) TourID() string {
	return g.tour.ID
}

// Len returns the number of scenes.
func (g *Graph) Len() int {
	return len(g.tour.Scenes)
}

// Resolve returns the scene with the given id.
func (g *Graph) Resolve(id string) (*Scene, error) {
	i, ok := g.byID[id]
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: %q", ErrSceneNotFound, id)
	}
	s := g.tour.Scenes[i].clone()
	return &s, nil
}

// Has reports whether id resolves to a scene.
func (g *Graph) Has(id string) bool {
	_, ok := g.byID[id]
	return ok && id != ""
}

// First returns the scene flagged as first, or the first scene in authoring
// order when none is flagged. An empty tour returns ErrEmptyTour.
func (g *Graph) First() (*Scene, error) {
	if len(g.tour.Scenes) == 0 {
		return nil, ErrEmptyTour
	}
	for _, s := range g.tour.Scenes {
		if s.IsFirst {
			c := s.clone()
			return &c, nil
		}
	}
	c := g.tour.Scenes[0].clone()
	return &c, nil
}

// Neighbors returns the distinct resolvable hotspot targets of a scene, in
// authoring order. The scene itself is never included.
func (g *Graph) Neighbors(sceneID string) []string {
	i, ok := g.byID[sceneID]
	if !ok {
		return nil
	}
	seen := map[string]bool{sceneID: true}
	var out []string
	for _, h := range g.tour.Scenes[i].Hotspots {
		if seen[h.TargetSceneID] || !g.Has(h.TargetSceneID) {
			continue
		}
		seen[h.TargetSceneID] = true
		out = append(out, h.TargetSceneID)
	}
	return out
}

// Validate reports data-quality issues: hotspots whose target does not
// resolve (including targets cleared to ""), repeated scene ids, and more than
// one scene flagged first.
func (g *Graph) Validate() []Warning {
	var warnings []Warning

	firstSeen := ""
	ids := make(map[string]bool, len(g.tour.Scenes))
	for _, s := range g.tour.Scenes {
		if ids[s.ID] {
			warnings = append(warnings, Warning{
				Kind:         WarnDuplicateSceneID,
				SceneID:      s.ID,
				HotspotIndex: -1,
				Message:      fmt.Sprintf("scene id %q is used more than once", s.ID),
			})
		}
		ids[s.ID] = true

		if s.IsFirst {
			if firstSeen != "" {
				warnings = append(warnings, Warning{
					Kind:         WarnMultipleFirst,
					SceneID:      s.ID,
					HotspotIndex: -1,
					Message:      fmt.Sprintf("scene %q is marked first but %q already is", s.ID, firstSeen),
				})
			} else {
				firstSeen = s.ID
			}
		}

		for hi, h := range s.Hotspots {
			if g.Has(h.TargetSceneID) {
				continue
			}
			msg := fmt.Sprintf("hotspot %d in scene %q targets missing scene %q", hi, s.ID, h.TargetSceneID)
			if h.TargetSceneID == "" {
				msg = fmt.Sprintf("hotspot %d in scene %q has no target scene", hi, s.ID)
			}
			warnings = append(warnings, Warning{
				Kind:          WarnDanglingHotspot,
				SceneID:       s.ID,
				HotspotIndex:  hi,
				TargetSceneID: h.TargetSceneID,
				Message:       msg,
			})
		}
	}

	return warnings
}

// WithHotspots returns a new graph in which one scene's hotspot list is
// replaced. It is how live authoring edits reach a running viewer.
func (g *Graph) WithHotspots(sceneID string, hotspots []Hotspot) (*Graph, error) {
	i, ok := g.byID[sceneID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSceneNotFound, sceneID)
	}
	t := g.tour.clone()
	t.Scenes[i].Hotspots = make([]Hotspot, len(hotspots))
	copy(t.Scenes[i].Hotspots, hotspots)
	return NewGraph(t), nil
}
