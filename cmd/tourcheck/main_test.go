package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

const manifestDoc = `{"path":"/%l/%s%y_%x","extension":"jpg","tileResolution":512,"maxLevel":3,"cubeResolution":2048}`

// newServers fakes the Project API and asset store. Tour "clean" is valid;
// tour "broken" has a dangling hotspot and a scene whose manifest is missing.
func newServers(t *testing.T) (projectURL, assetURL string) {
	t.Helper()
	assetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/lobby/config.json") {
			_, _ = w.Write([]byte(manifestDoc))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(assetSrv.Close)

	docs := map[string]string{
		"/project/clean": `{"projectId":"clean","title":"Clean","scenes":[
			{"id":"lobby","isFirst":true,"tilesPath":"tiles/clean/lobby"}
		]}`,
		"/project/broken": `{"projectId":"broken","title":"Broken","scenes":[
			{"id":"lobby","tilesPath":"tiles/broken/lobby","hotspots":[{"pitch":0,"yaw":0,"targetSceneId":"attic"}]},
			{"id":"roof","tilesPath":"tiles/broken/roof"}
		]}`,
	}
	projectSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(doc))
	}))
	t.Cleanup(projectSrv.Close)

	return projectSrv.URL, assetSrv.URL
}

func TestRun(t *testing.T) {
	projectURL, assetURL := newServers(t)
	base := []string{"-project-api", projectURL, "-asset-base", assetURL}

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout []string
		wantStderr string
	}{
		{
			name:       "no tour id",
			args:       base,
			wantCode:   exitUsage,
			wantStderr: "Usage: tourcheck",
		},
		{
			name:       "project api without scheme",
			args:       []string{"-project-api", "projects.example.com", "clean"},
			wantCode:   exitUsage,
			wantStderr: "invalid -project-api",
		},
		{
			name:       "clean tour",
			args:       append(base, "clean"),
			wantCode:   exitOK,
			wantStdout: []string{`tour clean "Clean": 1 scenes, first scene lobby`, "ok"},
		},
		{
			name:       "clean tour with loads",
			args:       append(base, "-load", "clean"),
			wantCode:   exitOK,
			wantStdout: []string{"ok"},
		},
		{
			name:       "dangling hotspot",
			args:       append(base, "broken"),
			wantCode:   exitProblems,
			wantStdout: []string{"warning dangling_hotspot scene=lobby hotspot=0"},
		},
		{
			name:       "missing assets",
			args:       append(base, "-load", "broken"),
			wantCode:   exitProblems,
			wantStdout: []string{"load failed scene=roof"},
		},
		{
			name:       "unknown tour",
			args:       append(base, "nope"),
			wantCode:   exitFailure,
			wantStderr: "tour nope:",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)
			if code != tt.wantCode {
				t.Fatalf("run() = %d, want %d\nstdout: %s\nstderr: %s", code, tt.wantCode, stdout.String(), stderr.String())
			}
			for _, want := range tt.wantStdout {
				if !strings.Contains(stdout.String(), want) {
					t.Errorf("stdout missing %q:\n%s", want, stdout.String())
				}
			}
			if tt.wantStderr != "" && !strings.Contains(stderr.String(), tt.wantStderr) {
				t.Errorf("stderr missing %q:\n%s", tt.wantStderr, stderr.String())
			}
		})
	}
}

func TestRun_JSON(t *testing.T) {
	projectURL, assetURL := newServers(t)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-project-api", projectURL, "-asset-base", assetURL, "-json", "-load", "broken"}, &stdout, &stderr)
	if code != exitProblems {
		t.Fatalf("run() = %d, stderr: %s", code, stderr.String())
	}

	var rep report
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil {
		t.Fatalf("invalid JSON report: %v\n%s", err, stdout.String())
	}
	if rep.TourID != "broken" || rep.Scenes != 2 {
		t.Errorf("unexpected report header: %+v", rep)
	}
	// No scene is flagged first, so the first in authoring order is used.
	if rep.FirstSceneID != "lobby" {
		t.Errorf("first_scene_id = %q, want lobby", rep.FirstSceneID)
	}
	if len(rep.Warnings) != 1 || rep.Warnings[0].TargetSceneID != "attic" {
		t.Errorf("warnings = %+v", rep.Warnings)
	}
	if len(rep.LoadFailures) != 1 || rep.LoadFailures[0].SceneID != "roof" {
		t.Errorf("load_failures = %+v", rep.LoadFailures)
	}
}
