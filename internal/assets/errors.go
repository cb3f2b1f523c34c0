// Package assets fetches panorama textures and tile manifests for scenes.
package assets

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors matched by the typed load errors.
var (
	ErrNotFound    = errors.New("asset not found")
	ErrTimeout     = errors.New("asset load timed out")
	ErrConfigParse = errors.New("invalid asset")
	ErrClosed      = errors.New("loader closed")
)

// NotFoundError reports an asset that the store does not have.
type NotFoundError struct {
	SceneID string
	URL     string
}

func (e *NotFoundError) Error() string {
	if e.SceneID == "" {
		return fmt.Sprintf("asset not found: %s", e.URL)
	}
	return fmt.Sprintf("scene %s: asset not found: %s", e.SceneID, e.URL)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// TimeoutError reports a load that did not finish in time. It is retryable.
type TimeoutError struct {
	SceneID string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("scene %s: asset load timed out after %s", e.SceneID, e.After)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// ConfigParseError reports a malformed manifest or an unusable cube face.
type ConfigParseError struct {
	SceneID string
	URL     string
	Err     error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("scene %s: invalid asset %s: %v", e.SceneID, e.URL, e.Err)
}

// Is lets errors.Is match both ErrConfigParse and the wrapped cause.
func (e *ConfigParseError) Is(target error) bool { return target == ErrConfigParse }

func (e *ConfigParseError) Unwrap() error { return e.Err }

// Retryable reports whether a load error may succeed on a later attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConfigParse) || errors.Is(err, ErrClosed) {
		return false
	}
	return true
}
