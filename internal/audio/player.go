package audio

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Audio track errors.
var (
	ErrUnsupportedType = errors.New("unsupported audio type")
	ErrTrackNotFound   = errors.New("audio track not found")
	ErrNoTrack         = errors.New("no audio track loaded")
)

// Accepted audio MIME types.
const (
	MIMEAudioMPEG = "audio/mpeg"
	MIMEAudioWAV  = "audio/wav"
	MIMEAudioOGG  = "audio/ogg"
	MIMEAudioMP4  = "audio/mp4"
)

// AllowedTypes lists the audio encodings a track may use.
var AllowedTypes = []string{
	MIMEAudioMPEG,
	MIMEAudioWAV,
	MIMEAudioOGG,
	MIMEAudioMP4,
}

// Player plays one looping track at a time.
type Player interface {
	// Load prepares url for playback, replacing the current track.
	Load(ctx context.Context, url string) error
	// Play starts or resumes playback. It fails when playback is refused.
	Play() error
	Pause()
	// Stop releases the current track.
	Stop()
}

// HTTPPlayer is a headless player. It verifies that a track is reachable and
// is an accepted audio type, then tracks play/pause state for clients that
// render the audio themselves.
type HTTPPlayer struct {
	client *http.Client

	mu          sync.Mutex
	url         string
	contentType string
	playing     bool
}

// NewHTTPPlayer creates a player that probes tracks with client.
func NewHTTPPlayer(client *http.Client) *HTTPPlayer {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPPlayer{client: client}
}

// Load probes url with HEAD, falling back to a one-byte ranged GET when the
// server does not answer HEAD.
func (p *HTTPPlayer) Load(ctx context.Context, url string) error {
	p.Stop()

	contentType, err := p.probe(ctx, url)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.url = url
	p.contentType = contentType
	p.mu.Unlock()
	return nil
}

// Play marks the loaded track as playing.
func (p *HTTPPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.url == "" {
		return ErrNoTrack
	}
	p.playing = true
	return nil
}

// Pause marks the loaded track as paused.
func (p *HTTPPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

// Stop unloads the current track.
func (p *HTTPPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = ""
	p.contentType = ""
	p.playing = false
}

// Track returns the loaded track URL, its content type and whether it plays.
func (p *HTTPPlayer) Track() (url, contentType string, playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, p.contentType, p.playing
}

func (p *HTTPPlayer) probe(ctx context.Context, url string) (string, error) {
	resp, err := p.do(ctx, http.MethodHead, url, nil)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		resp.Body.Close()
		err = errHeadUnsupported
	}
	if err != nil {
		resp, err = p.do(ctx, http.MethodGet, url, map[string]string{"Range": "bytes=0-0"})
		if err != nil {
			return "", fmt.Errorf("failed to probe audio track: %w", err)
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", fmt.Errorf("%w: %s", ErrTrackNotFound, url)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent:
		return "", fmt.Errorf("failed to probe audio track: status %d", resp.StatusCode)
	}

	return ValidateContentType(resp.Header.Get("Content-Type"))
}

var errHeadUnsupported = errors.New("HEAD not supported")

func (p *HTTPPlayer) do(ctx context.Context, method, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return p.client.Do(req)
}

// ValidateContentType checks a Content-Type header against AllowedTypes and
// returns the normalized media type.
func ValidateContentType(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	mediaType = strings.ToLower(mediaType)
	for _, allowed := range AllowedTypes {
		if mediaType == allowed {
			return mediaType, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedType, mediaType)
}
