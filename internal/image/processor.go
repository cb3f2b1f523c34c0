// Package image inspects and normalizes panorama cube faces with libvips.
package image

import (
	"errors"
	"fmt"

	"github.com/h2non/bimg"
)

// Face validation errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrNotSquare         = errors.New("cube face is not square")
	ErrSizeMismatch      = errors.New("cube faces differ in size")
)

// Info describes a decoded image.
type Info struct {
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// supportedFormats lists the encodings a renderer can upload as a texture.
var supportedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"webp": true,
}

// Inspect reads image metadata without re-encoding.
func Inspect(b []byte) (Info, error) {
	if len(b) == 0 {
		return Info{}, fmt.Errorf("%w: empty image", ErrUnsupportedFormat)
	}
	metadata, err := bimg.NewImage(b).Metadata()
	if err != nil {
		return Info{}, fmt.Errorf("failed to read image metadata: %w", err)
	}
	info := Info{
		Format: metadata.Type,
		Width:  metadata.Size.Width,
		Height: metadata.Size.Height,
	}
	if !supportedFormats[info.Format] {
		return info, fmt.Errorf("%w: %s", ErrUnsupportedFormat, info.Format)
	}
	return info, nil
}

// CheckCubeFaces inspects six faces and returns their shared edge length.
// Every face must be square and all faces must have the same size.
func CheckCubeFaces(faces [6][]byte) (int, error) {
	size := 0
	for i, b := range faces {
		info, err := Inspect(b)
		if err != nil {
			return 0, fmt.Errorf("face %d: %w", i, err)
		}
		if info.Width != info.Height {
			return 0, fmt.Errorf("face %d: %w (%dx%d)", i, ErrNotSquare, info.Width, info.Height)
		}
		if size == 0 {
			size = info.Width
		} else if info.Width != size {
			return 0, fmt.Errorf("face %d: %w (%d vs %d)", i, ErrSizeMismatch, info.Width, size)
		}
	}
	return size, nil
}

// NormalizeConfig holds configuration for face normalization.
type NormalizeConfig struct {
	// MaxSize caps the face edge length in pixels (0 = no limit)
	MaxSize int
	// Quality for JPEG re-encoding (1-100, default: 85)
	Quality int
}

// DefaultNormalizeConfig returns the settings used when none are given.
func DefaultNormalizeConfig() NormalizeConfig {
	return NormalizeConfig{
		MaxSize: 0,
		Quality: 85,
	}
}

// Normalize downsizes a face larger than cfg.MaxSize and strips its EXIF
// metadata. Faces already within bounds are returned unchanged.
func Normalize(b []byte, cfg NormalizeConfig) ([]byte, Info, error) {
	info, err := Inspect(b)
	if err != nil {
		return nil, Info{}, err
	}
	if cfg.MaxSize <= 0 || (info.Width <= cfg.MaxSize && info.Height <= cfg.MaxSize) {
		return b, info, nil
	}
	if cfg.Quality <= 0 {
		cfg.Quality = DefaultNormalizeConfig().Quality
	}

	// Keep the aspect ratio; a square face stays square.
	width, height := cfg.MaxSize, cfg.MaxSize
	if info.Width > info.Height {
		height = info.Height * cfg.MaxSize / info.Width
	} else if info.Height > info.Width {
		width = info.Width * cfg.MaxSize / info.Height
	}

	out, err := bimg.NewImage(b).Process(bimg.Options{
		Width:         width,
		Height:        height,
		Quality:       cfg.Quality,
		StripMetadata: true,
		Type:          imageType(info.Format),
	})
	if err != nil {
		return nil, Info{}, fmt.Errorf("failed to resize face: %w", err)
	}
	return out, Info{Format: info.Format, Width: width, Height: height}, nil
}

// imageType maps bimg's string type to bimg.ImageType constant.
func imageType(format string) bimg.ImageType {
	switch format {
	case "png":
		return bimg.PNG
	case "webp":
		return bimg.WEBP
	default:
		return bimg.JPEG
	}
}
