package assets

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Default view used when a manifest does not specify one.
const (
	DefaultHFov  = 100.0
	DefaultPitch = 0.0
	DefaultYaw   = 0.0
)

// Manifest describes a multi-resolution tile pyramid.
type Manifest struct {
	BasePath       string  `json:"basePath"`
	Path           string  `json:"path"`
	FallbackPath   string  `json:"fallbackPath,omitempty"`
	Extension      string  `json:"extension"`
	TileResolution int     `json:"tileResolution"`
	MaxLevel       int     `json:"maxLevel"`
	CubeResolution int     `json:"cubeResolution"`
	HFov           float64 `json:"hfov"`
	Pitch          float64 `json:"pitch"`
	Yaw            float64 `json:"yaw"`
}

// manifestDoc accepts both the flat form and the tiling tool's nested
// {"multiRes": {...}, "hfov", "pitch", "yaw"} form.
type manifestDoc struct {
	Manifest
	MultiRes *Manifest `json:"multiRes"`
}

// ParseManifest decodes and validates a tile manifest. basePath falls back to
// the directory that holds the manifest.
func ParseManifest(b []byte, manifestURL string) (*Manifest, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, errors.New("empty manifest")
	}

	var doc manifestDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	m := doc.Manifest
	if doc.MultiRes != nil {
		m = *doc.MultiRes
		// View settings live at the top level of the nested form.
		m.HFov = firstNonZero(doc.HFov, doc.MultiRes.HFov)
		m.Pitch = firstNonZero(doc.Pitch, doc.MultiRes.Pitch)
		m.Yaw = firstNonZero(doc.Yaw, doc.MultiRes.Yaw)
	}

	if m.HFov <= 0 {
		m.HFov = DefaultHFov
	}
	if m.BasePath == "" {
		m.BasePath = manifestDir(manifestURL)
	}
	if m.BasePath != "" && !strings.HasSuffix(m.BasePath, "/") {
		m.BasePath += "/"
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	var missing []string
	if m.Path == "" {
		missing = append(missing, "path")
	}
	if m.Extension == "" {
		missing = append(missing, "extension")
	}
	if m.TileResolution <= 0 {
		missing = append(missing, "tileResolution")
	}
	if m.MaxLevel <= 0 {
		missing = append(missing, "maxLevel")
	}
	if m.CubeResolution <= 0 {
		missing = append(missing, "cubeResolution")
	}
	if len(missing) > 0 {
		return fmt.Errorf("manifest missing or invalid: %s", strings.Join(missing, ", "))
	}
	return nil
}

// TileURL expands the path template for one tile. The template uses %l for
// the level, %s for the face letter, %x/%y for tile coordinates and %% for a
// literal percent sign.
func (m *Manifest) TileURL(level int, face string, x, y int) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSuffix(m.BasePath, "/"))
	p := m.Path
	if !strings.HasPrefix(p, "/") {
		sb.WriteByte('/')
	}
	for i := 0; i < len(p); i++ {
		if p[i] != '%' || i+1 == len(p) {
			sb.WriteByte(p[i])
			continue
		}
		i++
		switch p[i] {
		case 'l':
			sb.WriteString(strconv.Itoa(level))
		case 's':
			sb.WriteString(face)
		case 'x':
			sb.WriteString(strconv.Itoa(x))
		case 'y':
			sb.WriteString(strconv.Itoa(y))
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(p[i])
		}
	}
	sb.WriteByte('.')
	sb.WriteString(m.Extension)
	return sb.String()
}

// TilesPerSide returns how many tiles span one cube face edge at a level.
// Level 1 is the coarsest; MaxLevel is cubeResolution.
func (m *Manifest) TilesPerSide(level int) int {
	if level < 1 || level > m.MaxLevel || m.TileResolution <= 0 {
		return 0
	}
	size := m.CubeResolution >> (m.MaxLevel - level)
	n := (size + m.TileResolution - 1) / m.TileResolution
	if n < 1 {
		n = 1
	}
	return n
}

func manifestDir(manifestURL string) string {
	if manifestURL == "" {
		return ""
	}
	u, err := url.Parse(manifestURL)
	if err != nil {
		return ""
	}
	u.Path = path.Dir(u.Path)
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/") + "/"
}

func firstNonZero(vals ...float64) float64 {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
