package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/urfave/cli/v3"

	"github.com/cutroom/cutroom/internal/export"
	"github.com/cutroom/cutroom/internal/transcoder"
	"github.com/cutroom/cutroom/pkg/models"
)

func renderCommand() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Export a project file to a media file without the API",
		ArgsUsage: "<project.yaml>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file; the extension selects the container", Required: true},
			&cli.StringFlag{Name: "codec", Value: "libx264", Usage: "Video codec"},
			&cli.IntFlag{Name: "crf", Value: 23, Usage: "Constant rate factor"},
			&cli.StringFlag{Name: "preset", Value: "medium", Usage: "Encoder preset"},
			&cli.StringSliceFlag{Name: "ffmpeg", Value: []string{"ffmpeg", "/usr/local/bin/ffmpeg", "/usr/bin/ffmpeg"}, Usage: "Encoder runtimes, tried in order"},
			&cli.StringFlag{Name: "ffprobe", Value: "ffprobe", Usage: "ffprobe binary"},
			&cli.BoolFlag{Name: "realtime", Usage: "Pace capture at the composition frame rate"},
		},
		Action: runRender,
	}
}

func runRender(ctx context.Context, cmd *cli.Command) error {
	logger := commandLogger(cmd)

	p, err := readProject(cmd)
	if err != nil {
		return err
	}

	output := cmd.String("output")
	container := strings.TrimPrefix(filepath.Ext(output), ".")
	format := models.ExportFormat{
		Container: container,
		Codec:     cmd.String("codec"),
		CRF:       int(cmd.Int("crf")),
		Preset:    cmd.String("preset"),
	}
	if err := format.Validate(); err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}

	snap, _ := p.Snapshot("")
	store := newLocalStore(snap, format)

	tempDir, err := os.MkdirTemp("", "cutctl-")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	ffmpeg := transcoder.NewFFmpeg(cmd.StringSlice("ffmpeg"), cmd.String("ffprobe"), logger)
	pipeline := export.NewPipeline(transcoder.NewFrameSourceFactory(ffmpeg), export.DefaultOptions(), logger.Zerolog())

	service := export.NewService(export.ServiceConfig{
		TempDir:       tempDir,
		DefaultFormat: format,
		PaceRealtime:  cmd.Bool("realtime"),
	}, export.Dependencies{
		Pipeline:   pipeline,
		NewCapture: transcoder.CaptureFactory(ffmpeg, transcoder.DefaultCaptureFormats, logger),
		Finalizer:  transcoder.NewFinalizer(ffmpeg, logger),
		Store:      store,
		Artifacts:  fileSink{path: output},
	}, logger)

	if err := service.ProcessJob(ctx, store.job.ID); err != nil {
		return err
	}

	fmt.Fprintf(cmd.Root().Writer, "wrote %s (%d frames)\n", output, snap.Composition.Settings.DurationFrames)
	return nil
}

// localStore serves a single in-memory composition and export job
type localStore struct {
	mu   sync.Mutex
	snap *models.Snapshot
	job  models.ExportJob
}

func newLocalStore(snap *models.Snapshot, format models.ExportFormat) *localStore {
	return &localStore{
		snap: snap,
		job: models.ExportJob{
			ID:            "local",
			CompositionID: snap.Composition.ID,
			Status:        models.ExportStatusQueued,
			Format:        format,
		},
	}
}

func (s *localStore) GetExport(_ context.Context, id string) (*models.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.job.ID {
		return nil, fmt.Errorf("export %s not found", id)
	}
	job := s.job
	return &job, nil
}

func (s *localStore) GetComposition(_ context.Context, id string) (*models.Snapshot, error) {
	if id != s.snap.Composition.ID {
		return nil, fmt.Errorf("composition %s not found", id)
	}
	return s.snap, nil
}

func (s *localStore) UpdateExport(_ context.Context, job *models.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job = *job
	return nil
}

// fileSink copies a finished export to a local path
type fileSink struct {
	path string
}

func (f fileSink) PublishExport(_ context.Context, _ string, path, _ string) (string, error) {
	if err := copyFile(path, f.path); err != nil {
		return "", err
	}
	return "file://" + f.path, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open export: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
