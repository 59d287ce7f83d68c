package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jo-hoe/meetscribe/internal/common"
)

// Transcoder abstracts external audio transcoding and probing.
type Transcoder interface {
	// MeasureDuration reports the length of the audio file in seconds.
	MeasureDuration(ctx context.Context, path string) (float64, error)
	// Transcode compresses the input into the transport codec with the
	// given bitrate (e.g. "48k"). The bitrate policy lives with the caller.
	Transcode(ctx context.Context, inPath, outPath, bitrate string) error
	// Resample converts the input to the mono 16 kHz WAV the diarization
	// engine requires, regardless of the input format.
	Resample(ctx context.Context, inPath, outPath string) error
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// FFmpeg implements Transcoder over the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	runner      commandRunner
}

// NewFFmpeg constructs the production transcoder. Empty paths default to
// binaries resolved from PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      &execRunner{},
	}
}

func (f *FFmpeg) MeasureDuration(ctx context.Context, path string) (float64, error) {
	result, err := f.runner.Run(ctx, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(result.Stderr))
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(result.Stdout), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(result.Stdout), err)
	}
	return seconds, nil
}

func (f *FFmpeg) Transcode(ctx context.Context, inPath, outPath, bitrate string) error {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", inPath,
		"-ac", common.AudioChannels,
		"-ar", common.AudioSampleRate,
		"-c:a", "libopus",
		"-b:a", bitrate,
		outPath,
	}
	result, err := f.runner.Run(ctx, f.ffmpegPath, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg transcode %s: %w: %s", inPath, err, strings.TrimSpace(result.Stderr))
	}
	return nil
}

func (f *FFmpeg) Resample(ctx context.Context, inPath, outPath string) error {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", inPath,
		"-ac", common.AudioChannels,
		"-ar", common.AudioSampleRate,
		outPath,
	}
	result, err := f.runner.Run(ctx, f.ffmpegPath, args...)
	if err != nil {
		return fmt.Errorf("ffmpeg resample %s: %w: %s", inPath, err, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// newFFmpegWithRunner constructs a transcoder with an injectable runner.
func newFFmpegWithRunner(ffmpegPath, ffprobePath string, runner commandRunner) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      runner,
	}
}
