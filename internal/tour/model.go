// Package tour provides the tour document model and the read-only scene graph
// that the panorama viewer navigates.
package tour

// AssetKind identifies how a scene's panorama is stored.
type AssetKind string

const (
	// AssetCube is six discrete cube-face images.
	AssetCube AssetKind = "cube"
	// AssetMultiRes is a multi-resolution tile pyramid described by a manifest.
	AssetMultiRes AssetKind = "multires"
)

// CubeFaceNames lists the cube faces in texture order.
var CubeFaceNames = [6]string{"px", "nx", "py", "ny", "pz", "nz"}

// AssetRef locates the renderable assets of a scene.
// It is immutable once the scene is created.
type AssetRef struct {
	Kind        AssetKind `json:"kind"`
	BaseURL     string    `json:"base_url,omitempty"`
	Faces       [6]string `json:"faces,omitempty"`
	ManifestURL string    `json:"manifest_url,omitempty"`
}

// Step is one day of the tour itinerary.
type Step struct {
	Day     string `json:"day"`
	Content string `json:"content"`
}

// Hotspot is a directed edge from one scene to another.
type Hotspot struct {
	Anchor        Anchor `json:"anchor"`
	TargetSceneID string `json:"target_scene_id"`
	Label         string `json:"label,omitempty"`
	ImageURL      string `json:"image_url,omitempty"`
}

// Scene is one 360° panorama node.
type Scene struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	IsFirst   bool      `json:"is_first"`
	Asset     AssetRef  `json:"asset"`
	AudioURL  string    `json:"audio_url,omitempty"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	Hotspots  []Hotspot `json:"hotspots"`
}

// Tour is the aggregate fetched from the Project API.
// Scenes keep authoring order.
type Tour struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	CoverImage    string  `json:"cover_image,omitempty"`
	Steps         []Step  `json:"steps"`
	DepartureDate string  `json:"departure_date,omitempty"`
	Price         string  `json:"price,omitempty"`
	Scenes        []Scene `json:"scenes"`
}

// clone returns a deep copy of the scene.
func (s Scene) clone() Scene {
	c := s
	if s.Hotspots != nil {
		c.Hotspots = make([]Hotspot, len(s.Hotspots))
		copy(c.Hotspots, s.Hotspots)
	}
	return c
}

// clone returns a deep copy of the tour.
func (t *Tour) clone() *Tour {
	c := *t
	if t.Steps != nil {
		c.Steps = make([]Step, len(t.Steps))
		copy(c.Steps, t.Steps)
	}
	c.Scenes = make([]Scene, len(t.Scenes))
	for i, s := range t.Scenes {
		c.Scenes[i] = s.clone()
	}
	return &c
}
