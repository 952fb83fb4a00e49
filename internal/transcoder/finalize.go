package transcoder

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/cutroom/cutroom/internal/export"
	"github.com/cutroom/cutroom/internal/logging"
)

// atempo accepts factors within this range per filter instance
const (
	minTempo = 0.5
	maxTempo = 100.0
)

var containerFormats = map[string]string{
	"mp4":  "mp4",
	"mov":  "mov",
	"mkv":  "matroska",
	"webm": "webm",
}

// Finalizer rewrites a raw capture into the export format. Timestamps are regenerated
// from the frame index so every captured frame lands at exactly frame/fps regardless
// of how fast it was produced, and the recorded audio cues are mixed in.
type Finalizer struct {
	ffmpeg *FFmpeg
	logger *logging.Logger
}

var _ export.Finalizer = (*Finalizer)(nil)

// NewFinalizer creates a finalizer backed by f
func NewFinalizer(f *FFmpeg, logger *logging.Logger) *Finalizer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Finalizer{ffmpeg: f, logger: logger}
}

// Finalize runs the finalization pass
func (z *Finalizer) Finalize(ctx context.Context, req export.FinalizeRequest) error {
	settings := req.Settings
	if settings.FPS <= 0 || settings.DurationFrames <= 0 {
		return fmt.Errorf("invalid composition timing: %v fps, %d frames", settings.FPS, settings.DurationFrames)
	}

	args := BuildFinalizeArgs(req)
	total := float64(settings.DurationFrames) / settings.FPS
	logger := z.logger.WithField("output", req.OutputPath)

	lastDecile := -1
	start := time.Now()
	err := z.ffmpeg.run(ctx, args, total, func(progress float64) {
		if decile := int(progress * 10); decile > lastDecile {
			lastDecile = decile
			logger.Debugf("Finalize progress %.0f%%", progress*100)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to finalize export: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"cues":        len(req.Cues),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Export finalized")

	return nil
}

// BuildFinalizeArgs returns the ffmpeg arguments for req, without the binary name
func BuildFinalizeArgs(req export.FinalizeRequest) []string {
	settings := req.Settings
	format := req.Format
	fps := formatFloat(settings.FPS)

	video := ffmpeg.Input(req.RawPath).Video().
		Filter("setpts", ffmpeg.Args{fmt.Sprintf("N/(%s*TB)", fps)}).
		Filter("fps", ffmpeg.Args{fps})
	streams := []*ffmpeg.Stream{video}

	kwargs := ffmpeg.KwArgs{
		"c:v":      videoCodec(format.Container, format.Codec),
		"r":        fps,
		"frames:v": settings.DurationFrames,
		"pix_fmt":  "yuv420p",
	}
	if f, ok := containerFormats[format.Container]; ok {
		kwargs["f"] = f
	}
	if format.Bitrate > 0 {
		kwargs["b:v"] = format.Bitrate
	} else if format.CRF > 0 {
		kwargs["crf"] = format.CRF
	}
	if format.Preset != "" && supportsPreset(kwargs["c:v"].(string)) {
		kwargs["preset"] = format.Preset
	}

	if audio := mixCues(req.Cues, settings.FPS); audio != nil {
		streams = append(streams, audio)
		kwargs["c:a"] = audioCodec(format.Container)
		kwargs["t"] = formatFloat(float64(settings.DurationFrames) / settings.FPS)
	}

	return ffmpeg.Output(streams, req.OutputPath, kwargs).OverWriteOutput().GetArgs()
}

// mixCues places every cue at its output offset and mixes them into one track
func mixCues(cues []export.Cue, fps float64) *ffmpeg.Stream {
	var tracks []*ffmpeg.Stream
	for _, cue := range cues {
		if cue.Frames() <= 0 || cue.URL == "" {
			continue
		}

		tempo := cue.Tempo
		if tempo <= 0 {
			tempo = 1
		}
		sourceDuration := float64(cue.Frames()) / fps * tempo
		delayMs := int64(math.Round(float64(cue.StartFrame) / fps * 1000))

		track := ffmpeg.Input(cue.URL, ffmpeg.KwArgs{"ss": formatFloat(cue.SourceSeconds)}).Audio().
			Filter("atrim", ffmpeg.Args{}, ffmpeg.KwArgs{"duration": formatFloat(sourceDuration)}).
			Filter("asetpts", ffmpeg.Args{"PTS-STARTPTS"})
		for _, factor := range tempoChain(tempo) {
			track = track.Filter("atempo", ffmpeg.Args{formatFloat(factor)})
		}
		track = track.Filter("adelay", ffmpeg.Args{fmt.Sprintf("%d|%d", delayMs, delayMs)})

		tracks = append(tracks, track)
	}

	switch len(tracks) {
	case 0:
		return nil
	case 1:
		return tracks[0]
	}
	return ffmpeg.Filter(tracks, "amix", ffmpeg.Args{}, ffmpeg.KwArgs{
		"inputs":    len(tracks),
		"duration":  "longest",
		"normalize": 0,
	})
}

// tempoChain splits a tempo factor into atempo-sized steps
func tempoChain(tempo float64) []float64 {
	if math.Abs(tempo-1) < 1e-6 {
		return nil
	}
	var chain []float64
	for tempo < minTempo {
		chain = append(chain, minTempo)
		tempo /= minTempo
	}
	for tempo > maxTempo {
		chain = append(chain, maxTempo)
		tempo /= maxTempo
	}
	if math.Abs(tempo-1) >= 1e-6 {
		chain = append(chain, tempo)
	}
	return chain
}

func videoCodec(container, codec string) string {
	if codec != "" {
		return codec
	}
	if container == "webm" {
		return "libvpx-vp9"
	}
	return "libx264"
}

func audioCodec(container string) string {
	if container == "webm" {
		return "libopus"
	}
	return "aac"
}

func supportsPreset(codec string) bool {
	switch codec {
	case "libx264", "libx265", "h264_nvenc", "hevc_nvenc":
		return true
	}
	return false
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
