package main

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/cutroom/cutroom/internal/playback"
	"github.com/cutroom/cutroom/internal/transcoder"
	"github.com/cutroom/cutroom/pkg/models"
)

func previewCommand() *cli.Command {
	return &cli.Command{
		Name:      "preview",
		Usage:     "Play a project in real time and save every preview frame as PNG",
		ArgsUsage: "<project.yaml>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Directory for the PNG frames", Required: true},
			&cli.IntFlag{Name: "start", Usage: "Frame to start playing from"},
			&cli.DurationFlag{Name: "duration", Value: 2 * time.Second, Usage: "How long to play"},
			&cli.DurationFlag{Name: "grace", Value: playback.DefaultSeekGrace, Usage: "How long a seek may take before the held frame is drawn"},
			&cli.StringSliceFlag{Name: "ffmpeg", Value: []string{"ffmpeg", "/usr/local/bin/ffmpeg", "/usr/bin/ffmpeg"}, Usage: "Decoder runtimes, tried in order"},
			&cli.StringFlag{Name: "ffprobe", Value: "ffprobe", Usage: "ffprobe binary"},
		},
		Action: runPreview,
	}
}

func runPreview(ctx context.Context, cmd *cli.Command) error {
	logger := commandLogger(cmd)

	p, err := readProject(cmd)
	if err != nil {
		return err
	}
	snap, _ := p.Snapshot("")

	dir := cmd.String("output")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	opts := playback.DefaultOptions()
	opts.SeekGrace = cmd.Duration("grace")

	ffmpeg := transcoder.NewFFmpeg(cmd.StringSlice("ffmpeg"), cmd.String("ffprobe"), logger)
	interval := time.Duration(float64(time.Second) / math.Max(1, snap.Composition.Settings.FPS))

	pv := newPreviewer(snap, transcoder.NewFrameSourceFactory(ffmpeg), playback.NewIntervalTicker(interval), opts, dir, logger.Zerolog())
	pv.play(ctx, float64(cmd.Int("start")))

	select {
	case <-time.After(cmd.Duration("duration")):
	case <-ctx.Done():
	}

	written, err := pv.stop()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "wrote %d frames to %s\n", written, dir)
	return nil
}

// previewer plays a snapshot through the preview transport and saves each drawn frame
type previewer struct {
	transport *playback.Transport
	arena     *playback.Arena
	surface   *playback.RGBASurface
	dir       string

	mu      sync.Mutex
	written int
	errs    []error
}

func newPreviewer(snap *models.Snapshot, factory playback.SourceFactory, ticker playback.TickSource, opts playback.Options, dir string, logger zerolog.Logger) *previewer {
	settings := snap.Composition.Settings
	arena := playback.NewArena(factory, logger)
	surface := playback.NewRGBASurface(settings.Width, settings.Height)

	pv := &previewer{arena: arena, surface: surface, dir: dir}
	pv.transport = playback.NewTransport(ticker, playback.NewSynchronizer(arena, opts, logger), surface,
		func() *models.Snapshot { return snap }, logger)
	pv.transport.OnFrame(pv.save)
	return pv
}

func (pv *previewer) play(ctx context.Context, start float64) {
	pv.transport.Start(ctx)
	pv.transport.Seek(start)
	pv.transport.Play()
}

// stop detaches the transport and releases every source
func (pv *previewer) stop() (int, error) {
	pv.transport.Stop()

	pv.mu.Lock()
	defer pv.mu.Unlock()
	return pv.written, errors.Join(append(pv.errs, pv.arena.Close())...)
}

func (pv *previewer) save(playhead float64, _ []playback.Active) {
	path := filepath.Join(pv.dir, fmt.Sprintf("frame-%05d.png", int(math.Round(playhead))))
	err := writePNG(path, pv.surface)

	pv.mu.Lock()
	defer pv.mu.Unlock()
	if err != nil {
		pv.errs = append(pv.errs, err)
		return
	}
	pv.written++
}

func writePNG(path string, surface *playback.RGBASurface) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create frame: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	if err := png.Encode(f, surface.Image()); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return nil
}
