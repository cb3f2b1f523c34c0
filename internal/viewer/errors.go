package viewer

import (
	"errors"
	"fmt"

	"github.com/onnwee/panotour/internal/assets"
	"github.com/onnwee/panotour/internal/tour"
)

// Session errors.
var (
	ErrClosed             = errors.New("viewer session closed")
	ErrSceneUnavailable   = errors.New("scene unavailable")
	ErrTransitionInFlight = errors.New("transition in flight")
	ErrNotReady           = errors.New("no scene displayed")
	ErrHotspotIndex       = errors.New("hotspot index out of range")
	ErrTransitionAborted  = errors.New("transition aborted")
)

// TransitionAbortedError reports a transition cancelled because its target
// stopped resolving mid-flight.
type TransitionAbortedError struct {
	TargetSceneID string
	Reason        string
}

func (e *TransitionAbortedError) Error() string {
	return fmt.Sprintf("transition to scene %q aborted: %s", e.TargetSceneID, e.Reason)
}

func (e *TransitionAbortedError) Unwrap() error { return ErrTransitionAborted }

// Error codes reported in snapshots and events.
const (
	CodeNotFound          = "not_found"
	CodeTimeout           = "timeout"
	CodeConfigParse       = "config_parse"
	CodeSceneUnavailable  = "scene_unavailable"
	CodeTransitionAborted = "transition_aborted"
	CodeInternal          = "internal_error"
)

// ErrorInfo is the serializable form of a session error.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func newErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Message: err.Error(), Retryable: assets.Retryable(err)}
	switch {
	case errors.Is(err, assets.ErrNotFound):
		info.Code = CodeNotFound
	case errors.Is(err, assets.ErrTimeout):
		info.Code = CodeTimeout
	case errors.Is(err, assets.ErrConfigParse):
		info.Code = CodeConfigParse
	case errors.Is(err, ErrSceneUnavailable), errors.Is(err, tour.ErrSceneNotFound):
		info.Code = CodeSceneUnavailable
		info.Retryable = false
	case errors.Is(err, ErrTransitionAborted):
		info.Code = CodeTransitionAborted
		info.Retryable = false
	default:
		info.Code = CodeInternal
	}
	return info
}
