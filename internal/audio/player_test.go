package audio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPPlayer_Load(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.mp3":
			w.Header().Set("Content-Type", "audio/mpeg")
		case "/charset.ogg":
			w.Header().Set("Content-Type", "audio/ogg; codecs=vorbis")
		case "/nohead.wav":
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if r.Header.Get("Range") != "bytes=0-0" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "audio/wav")
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write([]byte{0})
			return
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
		default:
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		path     string
		wantType string
		wantErr  error
	}{
		{name: "mpeg via HEAD", path: "/ok.mp3", wantType: MIMEAudioMPEG},
		{name: "parameters stripped", path: "/charset.ogg", wantType: MIMEAudioOGG},
		{name: "ranged GET fallback", path: "/nohead.wav", wantType: MIMEAudioWAV},
		{name: "wrong type", path: "/page.html", wantErr: ErrUnsupportedType},
		{name: "missing", path: "/missing.mp3", wantErr: ErrTrackNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewHTTPPlayer(srv.Client())
			err := p.Load(context.Background(), srv.URL+tt.path)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				if url, _, _ := p.Track(); url != "" {
					t.Errorf("failed load must not keep a track, got %q", url)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			_, ct, playing := p.Track()
			if ct != tt.wantType {
				t.Errorf("expected %s, got %s", tt.wantType, ct)
			}
			if playing {
				t.Error("Load must not start playback")
			}
		})
	}
}

func TestHTTPPlayer_PlayWithoutTrack(t *testing.T) {
	p := NewHTTPPlayer(nil)
	if err := p.Play(); !errors.Is(err, ErrNoTrack) {
		t.Errorf("expected ErrNoTrack, got %v", err)
	}
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "audio/mp4", want: MIMEAudioMP4},
		{in: "AUDIO/MPEG", want: MIMEAudioMPEG},
		{in: "video/mp4", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ValidateContentType(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ValidateContentType(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ValidateContentType(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
