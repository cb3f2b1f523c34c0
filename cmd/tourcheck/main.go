// Package main is the entry point for tourcheck, which validates a tour's
// scene graph and optionally fetches every scene's assets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/panotour/internal/assets"
	"github.com/onnwee/panotour/internal/tour"
	"github.com/onnwee/panotour/internal/validate"
)

// Exit codes.
const (
	exitOK       = 0
	exitProblems = 1
	exitUsage    = 2
	exitFailure  = 3
)

// report is the result of checking one tour.
type report struct {
	TourID       string         `json:"tour_id"`
	Title        string         `json:"title,omitempty"`
	Scenes       int            `json:"scenes"`
	FirstSceneID string         `json:"first_scene_id,omitempty"`
	Warnings     []tour.Warning `json:"warnings"`
	LoadFailures []loadFailure  `json:"load_failures,omitempty"`
}

type loadFailure struct {
	SceneID string `json:"scene_id"`
	Error   string `json:"error"`
}

func (r *report) problems() bool {
	return len(r.Warnings) > 0 || len(r.LoadFailures) > 0
}

type options struct {
	projectAPI  string
	assetBase   string
	load        bool
	concurrency int
	timeout     time.Duration
	jsonOutput  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tourcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.projectAPI, "project-api", os.Getenv("PROJECT_API_URL"), "Project API base URL")
	fs.StringVar(&opts.assetBase, "asset-base", os.Getenv("ASSET_BASE_URL"), "asset base URL for relative scene paths")
	fs.BoolVar(&opts.load, "load", false, "fetch every scene's assets")
	fs.IntVar(&opts.concurrency, "concurrency", 4, "scenes fetched in parallel with -load")
	fs.DurationVar(&opts.timeout, "timeout", assets.DefaultTimeout, "per-scene load timeout")
	fs.BoolVar(&opts.jsonOutput, "json", false, "print the report as JSON")
	help := fs.Bool("help", false, "display help message")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "tourcheck validates panorama tours")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Usage: tourcheck [options] <tour-id>...")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if *help {
		fs.Usage()
		return exitOK
	}
	if fs.NArg() == 0 || opts.projectAPI == "" {
		fs.Usage()
		return exitUsage
	}
	if _, err := validate.ServiceURL(opts.projectAPI); err != nil {
		fmt.Fprintf(stderr, "invalid -project-api: %v\n", err)
		return exitUsage
	}
	if opts.assetBase != "" {
		if _, err := validate.ServiceURL(opts.assetBase); err != nil {
			fmt.Fprintf(stderr, "invalid -asset-base: %v\n", err)
			return exitUsage
		}
	}
	if opts.concurrency < 1 {
		opts.concurrency = 1
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	client := tour.NewClient(tour.ClientConfig{BaseURL: opts.projectAPI, AssetBaseURL: opts.assetBase})

	var loader *assets.Loader
	if opts.load {
		loader = assets.NewLoader(assets.LoaderConfig{
			Store:   assets.NewHTTPStore(nil, opts.assetBase),
			Timeout: opts.timeout,
		})
		defer loader.Close()
	}

	code := exitOK
	for _, id := range fs.Args() {
		rep, err := check(ctx, client, loader, opts.concurrency, id)
		if err != nil {
			fmt.Fprintf(stderr, "tour %s: %v\n", id, err)
			code = exitFailure
			continue
		}
		if err := printReport(stdout, rep, opts.jsonOutput); err != nil {
			fmt.Fprintf(stderr, "failed to write report: %v\n", err)
			return exitFailure
		}
		if rep.problems() && code == exitOK {
			code = exitProblems
		}
	}
	return code
}

// check fetches and validates one tour. With a loader, every scene's assets
// are fetched as well.
func check(ctx context.Context, client tour.Source, loader *assets.Loader, concurrency int, tourID string) (*report, error) {
	t, err := client.Fetch(ctx, tourID)
	if err != nil {
		return nil, err
	}

	g := tour.NewGraph(t)
	rep := &report{
		TourID:   g.TourID(),
		Title:    t.Title,
		Scenes:   g.Len(),
		Warnings: g.Validate(),
	}
	if rep.Warnings == nil {
		rep.Warnings = []tour.Warning{}
	}
	if first, err := g.First(); err == nil {
		rep.FirstSceneID = first.ID
	}

	if loader == nil {
		return rep, nil
	}

	failures := make([]*loadFailure, len(t.Scenes))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i, scene := range t.Scenes {
		eg.Go(func() error {
			if _, err := loader.Load(egCtx, scene); err != nil {
				// Cancellation of the whole run is the only fatal error.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failures[i] = &loadFailure{SceneID: scene.ID, Error: err.Error()}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, f := range failures {
		if f != nil {
			rep.LoadFailures = append(rep.LoadFailures, *f)
		}
	}
	sort.Slice(rep.LoadFailures, func(i, j int) bool {
		return rep.LoadFailures[i].SceneID < rep.LoadFailures[j].SceneID
	})
	return rep, nil
}

func printReport(w io.Writer, rep *report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	first := rep.FirstSceneID
	if first == "" {
		first = "<none>"
	}
	if _, err := fmt.Fprintf(w, "tour %s %q: %d scenes, first scene %s\n", rep.TourID, rep.Title, rep.Scenes, first); err != nil {
		return err
	}
	for _, warn := range rep.Warnings {
		if _, err := fmt.Fprintf(w, "  warning %s scene=%s hotspot=%d: %s\n", warn.Kind, warn.SceneID, warn.HotspotIndex, warn.Message); err != nil {
			return err
		}
	}
	for _, f := range rep.LoadFailures {
		if _, err := fmt.Fprintf(w, "  load failed scene=%s: %s\n", f.SceneID, f.Error); err != nil {
			return err
		}
	}
	if !rep.problems() {
		if _, err := fmt.Fprintln(w, "  ok"); err != nil {
			return err
		}
	}
	return nil
}
