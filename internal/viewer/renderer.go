package viewer

import (
	"sync"

	"github.com/onnwee/panotour/internal/assets"
	"github.com/onnwee/panotour/internal/tour"
)

// Marker is a hotspot as handed to the renderer.
type Marker struct {
	Index         int         `json:"index"`
	Anchor        tour.Anchor `json:"anchor"`
	TargetSceneID string      `json:"target_scene_id"`
	Label         string      `json:"label,omitempty"`
	ImageURL      string      `json:"image_url,omitempty"`
	Dangling      bool        `json:"dangling,omitempty"`
}

// PanoramaRenderer draws the current scene. The session calls it with its
// mutex held, so implementations must not call back into the session.
type PanoramaRenderer interface {
	LoadScene(sceneID string, res *assets.Resources) error
	SetOrientation(o Orientation)
	AddHotspot(m Marker)
	ClearHotspots()
	// OnLoad registers a callback fired after a scene finished loading.
	OnLoad(fn func(sceneID string))
	Destroy()
}

// SceneRecorder is a headless renderer. It keeps what it was asked to draw so
// the server can report it and tests can inspect it.
type SceneRecorder struct {
	mu          sync.Mutex
	sceneID     string
	res         *assets.Resources
	orientation Orientation
	markers     []Marker
	loads       []string
	onLoad      func(sceneID string)
	destroyed   bool
}

// NewSceneRecorder creates an empty recorder.
func NewSceneRecorder() *SceneRecorder {
	return &SceneRecorder{}
}

func (r *SceneRecorder) LoadScene(sceneID string, res *assets.Resources) error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.sceneID = sceneID
	r.res = res
	r.loads = append(r.loads, sceneID)
	onLoad := r.onLoad
	r.mu.Unlock()

	if onLoad != nil {
		onLoad(sceneID)
	}
	return nil
}

func (r *SceneRecorder) SetOrientation(o Orientation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orientation = o
}

func (r *SceneRecorder) AddHotspot(m Marker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers = append(r.markers, m)
}

func (r *SceneRecorder) ClearHotspots() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markers = nil
}

func (r *SceneRecorder) OnLoad(fn func(sceneID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLoad = fn
}

func (r *SceneRecorder) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed = true
	r.res = nil
	r.markers = nil
}

// Scene returns the id and resources of the scene on screen.
func (r *SceneRecorder) Scene() (string, *assets.Resources) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sceneID, r.res
}

// Orientation returns the last orientation set.
func (r *SceneRecorder) Orientation() Orientation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orientation
}

// Markers returns a copy of the drawn hotspot markers.
func (r *SceneRecorder) Markers() []Marker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Marker, len(r.markers))
	copy(out, r.markers)
	return out
}

// Loads returns every scene id passed to LoadScene, in order.
func (r *SceneRecorder) Loads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.loads))
	copy(out, r.loads)
	return out
}

// Destroyed reports whether Destroy was called.
func (r *SceneRecorder) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}
