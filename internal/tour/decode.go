package tour

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/goccy/go-json"
)

// ErrMalformedTour indicates the Project API document could not be decoded.
var ErrMalformedTour = errors.New("malformed tour document")

// DecodeOptions controls how relative asset locations are resolved.
type DecodeOptions struct {
	// AssetBaseURL prefixes relative asset paths and derived cube face paths.
	AssetBaseURL string
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(b)
	return nil
}

type document struct {
	ProjectID     flexString `json:"projectId"`
	ID            flexString `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	CoverImage    string     `json:"coverImage"`
	Scenes        []sceneDoc `json:"scenes"`
	TourSteps     []stepDoc  `json:"tourSteps"`
	DepartureDate string     `json:"departureDate"`
	Price         flexString `json:"price"`
}

type stepDoc struct {
	Day     flexString `json:"day"`
	Content string     `json:"content"`
}

type sceneDoc struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	IsFirst             bool         `json:"isFirst"`
	OriginalImage       string       `json:"originalImage"`
	Original            string       `json:"original"`
	Faces               []string     `json:"faces"`
	MultiResManifestURL string       `json:"multiResManifestUrl"`
	TilesPath           string       `json:"tilesPath"`
	Audio               string       `json:"audio"`
	Hotspots            []hotspotDoc `json:"hotspots"`
}

type hotspotDoc struct {
	Pitch         *float64  `json:"pitch"`
	Yaw           *float64  `json:"yaw"`
	Position      []float64 `json:"position"`
	TargetSceneID string    `json:"targetSceneId"`
	Label         string    `json:"label"`
	ImageURL      string    `json:"imageUrl"`
	OriginalImage string    `json:"originalImage"`
}

// Decode reads a Project API tour document.
// Scenes without an id cannot be addressed by any hotspot and are dropped.
func Decode(r io.Reader, opts DecodeOptions) (*Tour, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTour, err)
	}

	id := string(doc.ProjectID)
	if id == "" {
		id = string(doc.ID)
	}

	t := &Tour{
		ID:            id,
		Title:         doc.Title,
		Description:   doc.Description,
		CoverImage:    resolveURL(opts.AssetBaseURL, doc.CoverImage),
		DepartureDate: doc.DepartureDate,
		Price:         string(doc.Price),
		Steps:         make([]Step, 0, len(doc.TourSteps)),
		Scenes:        make([]Scene, 0, len(doc.Scenes)),
	}
	for _, s := range doc.TourSteps {
		t.Steps = append(t.Steps, Step{Day: string(s.Day), Content: s.Content})
	}

	for i, sd := range doc.Scenes {
		if strings.TrimSpace(sd.ID) == "" {
			slog.Warn("dropping scene without id", "tour_id", id, "index", i)
			continue
		}
		t.Scenes = append(t.Scenes, decodeScene(id, sd, opts))
	}

	return t, nil
}

func decodeScene(tourID string, sd sceneDoc, opts DecodeOptions) Scene {
	s := Scene{
		ID:        sd.ID,
		Name:      sd.Name,
		IsFirst:   sd.IsFirst,
		AudioURL:  resolveURL(opts.AssetBaseURL, sd.Audio),
		Thumbnail: resolveURL(opts.AssetBaseURL, firstNonEmpty(sd.OriginalImage, sd.Original)),
		Asset:     decodeAsset(tourID, sd, opts),
		Hotspots:  make([]Hotspot, 0, len(sd.Hotspots)),
	}
	for _, hd := range sd.Hotspots {
		s.Hotspots = append(s.Hotspots, Hotspot{
			Anchor:        decodeAnchor(hd),
			TargetSceneID: hd.TargetSceneID,
			Label:         hd.Label,
			ImageURL:      resolveURL(opts.AssetBaseURL, firstNonEmpty(hd.ImageURL, hd.OriginalImage)),
		})
	}
	return s
}

func decodeAnchor(hd hotspotDoc) Anchor {
	if hd.Pitch != nil || hd.Yaw != nil {
		var a Anchor
		if hd.Pitch != nil {
			a.Pitch = *hd.Pitch
		}
		if hd.Yaw != nil {
			a.Yaw = NormalizeYaw(*hd.Yaw)
		}
		return a
	}
	if len(hd.Position) == 3 {
		return AnchorFromPosition(mgl64.Vec3{hd.Position[0], hd.Position[1], hd.Position[2]})
	}
	return Anchor{}
}

func decodeAsset(tourID string, sd sceneDoc, opts DecodeOptions) AssetRef {
	if manifest := firstNonEmpty(sd.MultiResManifestURL, sd.TilesPath); manifest != "" {
		if !strings.HasSuffix(manifest, ".json") {
			manifest = strings.TrimSuffix(manifest, "/") + "/config.json"
		}
		return AssetRef{
			Kind:        AssetMultiRes,
			ManifestURL: resolveURL(opts.AssetBaseURL, manifest),
		}
	}

	base := SceneBasePath(opts.AssetBaseURL, tourID, sd.ID)
	ref := AssetRef{Kind: AssetCube, BaseURL: base}
	if len(sd.Faces) == len(ref.Faces) {
		for i, f := range sd.Faces {
			ref.Faces[i] = resolveURL(opts.AssetBaseURL, f)
		}
		return ref
	}
	for i, name := range CubeFaceNames {
		ref.Faces[i] = base + name + ".jpg"
	}
	return ref
}

// SceneBasePath returns the conventional per-scene asset directory, with a
// trailing slash: <base>/projects/<tourID>/<sceneID>/.
func SceneBasePath(baseURL, tourID, sceneID string) string {
	return strings.TrimSuffix(baseURL, "/") + "/projects/" + url.PathEscape(tourID) + "/" + url.PathEscape(sceneID) + "/"
}

// resolveURL joins a relative path onto base. Absolute URLs and empty
// paths are returned unchanged.
func resolveURL(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || base == "" {
		return p
	}
	if u, err := url.Parse(p); err == nil && u.IsAbs() {
		return p
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(p, "/")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
