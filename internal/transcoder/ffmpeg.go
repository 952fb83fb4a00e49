// Package transcoder drives ffmpeg for everything the editor needs outside the
// compositor: probing sources, decoding clip frames, capturing rendered frames and
// the finalization pass that produces the exported file.
package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/cutroom/cutroom/internal/logging"
	"github.com/cutroom/cutroom/internal/metrics"
	"github.com/cutroom/cutroom/pkg/models"
)

// ErrRuntimeUnavailable is returned when none of the configured ffmpeg locations can be loaded
var ErrRuntimeUnavailable = errors.New("no usable ffmpeg runtime")

// FFmpeg wraps FFmpeg operations. The ffmpeg binary is resolved lazily from an ordered
// list of candidate locations; the first one that answers -version is used.
type FFmpeg struct {
	locations   []string
	ffprobePath string
	logger      *logging.Logger

	mu       sync.Mutex
	resolved string
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(locations []string, ffprobePath string, logger *logging.Logger) *FFmpeg {
	if len(locations) == 0 {
		locations = []string{"ffmpeg"}
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &FFmpeg{
		locations:   locations,
		ffprobePath: ffprobePath,
		logger:      logger,
	}
}

// Runtime returns the path of the first loadable ffmpeg, trying each location in order
func (f *FFmpeg) Runtime(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.resolved != "" {
		return f.resolved, nil
	}

	var errs []error
	for i, location := range f.locations {
		err := loadRuntime(ctx, location)
		f.logger.LogFinalizeAttempt(location, i+1, err)
		if err == nil {
			f.resolved = location
			return location, nil
		}
		metrics.RecordFinalizeLoadFailure(location)
		errs = append(errs, fmt.Errorf("%s: %w", location, err))
	}

	return "", fmt.Errorf("%w: %v", ErrRuntimeUnavailable, errors.Join(errs...))
}

func loadRuntime(ctx context.Context, location string) error {
	path, err := exec.LookPath(location)
	if err != nil {
		return err
	}

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-hide_banner", "-version")
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("version check failed: %w", err)
	}
	if !strings.Contains(stdout.String(), "ffmpeg version") {
		return fmt.Errorf("not an ffmpeg binary")
	}
	return nil
}

// ProbeMetadata holds the ffprobe fields used to describe a source
type ProbeMetadata struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds format information
type FormatInfo struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FrameRate    string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

// Probe extracts metadata from a media file or URL
func (f *FFmpeg) Probe(ctx context.Context, input string) (*ProbeMetadata, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	var metadata ProbeMetadata
	if err := json.Unmarshal(stdout.Bytes(), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &metadata, nil
}

// ProbeSource describes the media at url as a source clips can reference
func (f *FFmpeg) ProbeSource(ctx context.Context, url string) (*models.SourceMeta, error) {
	metadata, err := f.Probe(ctx, url)
	if err != nil {
		return nil, err
	}
	return metadata.SourceMeta(url)
}

// SourceMeta converts probe output into source metadata
func (m *ProbeMetadata) SourceMeta(url string) (*models.SourceMeta, error) {
	meta := &models.SourceMeta{URL: url}
	foundVideo := false

	for _, stream := range m.Streams {
		switch stream.CodecType {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			meta.Width = stream.Width
			meta.Height = stream.Height
			meta.FPS = parseFrameRate(stream.AvgFrameRate)
			if meta.FPS <= 0 {
				meta.FPS = parseFrameRate(stream.FrameRate)
			}
		case "audio":
			meta.HasAudio = true
		}
	}

	if !foundVideo {
		return nil, fmt.Errorf("no video stream in %s", url)
	}

	if duration, err := strconv.ParseFloat(m.Format.Duration, 64); err == nil && meta.FPS > 0 {
		meta.DurationFrames = int(math.Round(duration * meta.FPS))
	}

	return meta, nil
}

// parseFrameRate parses ffprobe's "num/den" rates
func parseFrameRate(rate string) float64 {
	parts := strings.Split(rate, "/")
	if len(parts) != 2 {
		v, _ := strconv.ParseFloat(rate, 64)
		return v
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

// ProgressCallback is called with progress updates in [0, 1]
type ProgressCallback func(progress float64)

var progressRegex = regexp.MustCompile(`out_time_ms=(\d+)`)

// run executes ffmpeg with args and reports progress against totalSeconds
func (f *FFmpeg) run(ctx context.Context, args []string, totalSeconds float64, progressCB ProgressCallback) error {
	bin, err := f.Runtime(ctx)
	if err != nil {
		return err
	}

	args = append(append([]string{}, args...), "-progress", "pipe:1", "-nostats")
	cmd := exec.CommandContext(ctx, bin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		parseProgress(stdout, totalSeconds, progressCB)
	}()
	<-done

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, tail(stderrBuf.String(), 2048))
	}

	if progressCB != nil {
		progressCB(1)
	}

	return nil
}

func parseProgress(r io.Reader, totalSeconds float64, progressCB ProgressCallback) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		matches := progressRegex.FindStringSubmatch(scanner.Text())
		if len(matches) < 2 || totalSeconds <= 0 || progressCB == nil {
			continue
		}
		timeUs, err := strconv.ParseFloat(matches[1], 64)
		if err != nil {
			continue
		}
		progressCB(math.Min(1, timeUs/1e6/totalSeconds))
	}
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
