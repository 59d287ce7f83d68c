package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jo-hoe/meetscribe/internal/asr"
	"github.com/jo-hoe/meetscribe/internal/diarize"
	"github.com/jo-hoe/meetscribe/internal/fusion"
	"github.com/jo-hoe/meetscribe/internal/jobs"
	"github.com/jo-hoe/meetscribe/internal/media"
	"github.com/jo-hoe/meetscribe/internal/progress"
	"github.com/jo-hoe/meetscribe/internal/rttm"
	"github.com/jo-hoe/meetscribe/internal/storage"
	"github.com/jo-hoe/meetscribe/internal/subtitle"
)

// Orchestrator drives each job through the processing stages. Every submitted
// job gets its own goroutine; the job store is the single source of truth for
// lifecycle state, the progress registry carries live updates to subscribers.
type Orchestrator struct {
	log        *slog.Logger
	store      jobs.Store
	transcoder media.Transcoder
	asr        asr.Client
	diarizer   diarize.Client
	registry   *progress.Registry
	layout     *storage.Layout
}

func NewOrchestrator(
	log *slog.Logger,
	store jobs.Store,
	transcoder media.Transcoder,
	asrClient asr.Client,
	diarizer diarize.Client,
	registry *progress.Registry,
	layout *storage.Layout,
) *Orchestrator {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return &Orchestrator{
		log:        log,
		store:      store,
		transcoder: transcoder,
		asr:        asrClient,
		diarizer:   diarizer,
		registry:   registry,
		layout:     layout,
	}
}

// Submit records a new job and starts its pipeline goroutine. It returns as
// soon as the job is persisted; processing continues in the background under
// ctx, which should be the service lifetime context.
func (o *Orchestrator) Submit(ctx context.Context, job *jobs.Job) error {
	if err := o.store.CreateJob(job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	channel := o.registry.Create(job.ID)
	go o.run(ctx, job.ID, channel)
	return nil
}

// run executes the full stage sequence for one job. It owns the job's state
// transitions and its progress channel, which is closed exactly once on exit.
func (o *Orchestrator) run(ctx context.Context, jobID string, channel *progress.Channel) {
	log := o.log.With("job_id", jobID)
	defer o.registry.Remove(jobID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", "panic", r)
			o.fail(log, jobID, channel, fmt.Errorf("internal error: %v", r))
		}
	}()

	job, err := o.store.GetJob(jobID)
	if err != nil {
		log.Error("loading submitted job failed", "error", err)
		return
	}

	pre, err := o.preprocess(ctx, job, channel)
	if err != nil {
		o.fail(log, jobID, channel, err)
		return
	}
	if err := o.store.Advance(jobID, jobs.StateTranscribing, pre); err != nil {
		o.fail(log, jobID, channel, err)
		return
	}
	log.Info("preprocessing complete", "duration_seconds", pre.DurationSeconds)

	trans, err := o.transcribe(ctx, jobID, pre.CompressedPath, channel)
	if err != nil {
		o.fail(log, jobID, channel, err)
		return
	}
	if err := o.store.Advance(jobID, jobs.StateDiarizing, trans); err != nil {
		o.fail(log, jobID, channel, err)
		return
	}
	log.Info("transcription complete", "subtitle_path", trans.SubtitlePath)

	hint := 0
	if job.SpeakerCountHint != nil {
		hint = *job.SpeakerCountHint
	}
	dia, err := o.diarizeStage(ctx, jobID, pre.ResampledPath, hint, channel)
	if err != nil {
		o.fail(log, jobID, channel, err)
		return
	}
	if err := o.store.Advance(jobID, jobs.StateMerging, dia); err != nil {
		o.fail(log, jobID, channel, err)
		return
	}
	log.Info("diarization complete", "turn_path", dia.TurnPath)

	merge, err := o.merge(jobID, trans.SubtitlePath, dia.TurnPath, channel)
	if err != nil {
		o.fail(log, jobID, channel, err)
		return
	}
	if err := o.store.Advance(jobID, jobs.StateCompleted, merge); err != nil {
		o.fail(log, jobID, channel, err)
		return
	}
	channel.Publish(progress.Event{Step: progress.StepCompleted, Percent: 100, Message: "processing complete"})
	log.Info("job complete", "num_speakers", merge.NumSpeakers, "annotated_path", merge.AnnotatedPath)
}

// preprocess measures the source duration, produces the compressed upload
// artifact and the mono 16 kHz wav used for diarization. Duration is measured
// on the original file so bitrate selection is independent of codec overhead.
func (o *Orchestrator) preprocess(ctx context.Context, job *jobs.Job, channel *progress.Channel) (jobs.PreprocessingResult, error) {
	var result jobs.PreprocessingResult

	if err := o.store.Advance(job.ID, jobs.StatePreprocessing, nil); err != nil {
		return result, err
	}
	channel.Publish(progress.Event{Step: progress.StepPreprocessing, Percent: 10, Message: "preparing audio"})

	duration, err := o.transcoder.MeasureDuration(ctx, job.SourcePath)
	if err != nil {
		return result, fmt.Errorf("measure duration: %w", err)
	}

	compressed := o.layout.CompressedPath(job.ID)
	if strings.EqualFold(filepath.Ext(job.SourcePath), storage.CompressedExt) {
		// already in the transport codec, re-encoding would only lose quality
		if err := copyFile(job.SourcePath, compressed); err != nil {
			return result, fmt.Errorf("copy source: %w", err)
		}
	} else {
		bitrate := bitrateForDuration(duration)
		if err := o.transcoder.Transcode(ctx, job.SourcePath, compressed, bitrate); err != nil {
			return result, fmt.Errorf("compress audio: %w", err)
		}
	}
	channel.Publish(progress.Event{Step: progress.StepPreprocessing, Percent: 25, Message: "audio compressed"})

	resampled := o.layout.ResampledPath(job.ID)
	if err := o.transcoder.Resample(ctx, job.SourcePath, resampled); err != nil {
		return result, fmt.Errorf("resample audio: %w", err)
	}

	result.DurationSeconds = duration
	result.CompressedPath = compressed
	result.ResampledPath = resampled
	return result, nil
}

// transcribe sends the compressed artifact to the speech-to-text service. The
// service's upload ceiling is checked before any network call so an oversized
// file fails fast with an actionable message.
func (o *Orchestrator) transcribe(ctx context.Context, jobID, compressedPath string, channel *progress.Channel) (jobs.TranscriptionResult, error) {
	var result jobs.TranscriptionResult

	channel.Publish(progress.Event{Step: progress.StepTranscription, Percent: 30, Message: "transcription started"})

	info, err := os.Stat(compressedPath)
	if err != nil {
		return result, fmt.Errorf("stat compressed audio: %w", err)
	}
	if limit := o.asr.MaxUploadBytes(); info.Size() > limit {
		return result, fmt.Errorf("compressed audio is %s, exceeds the %s transcription limit",
			humanize.Bytes(uint64(info.Size())), humanize.Bytes(uint64(limit)))
	}

	document, err := o.asr.Transcribe(ctx, compressedPath)
	if err != nil {
		return result, fmt.Errorf("transcribe: %w", err)
	}

	subtitlePath := o.layout.SubtitlePath(jobID)
	if err := os.WriteFile(subtitlePath, []byte(document), 0o600); err != nil {
		return result, fmt.Errorf("write subtitle document: %w", err)
	}
	channel.Publish(progress.Event{Step: progress.StepTranscription, Percent: 60, Message: "transcription complete"})

	result.SubtitlePath = subtitlePath
	return result, nil
}

func (o *Orchestrator) diarizeStage(ctx context.Context, jobID, resampledPath string, hint int, channel *progress.Channel) (jobs.DiarizationResult, error) {
	var result jobs.DiarizationResult

	channel.Publish(progress.Event{Step: progress.StepDiarization, Percent: 65, Message: "identifying speakers"})

	document, err := o.diarizer.Diarize(ctx, resampledPath, hint)
	if err != nil {
		return result, fmt.Errorf("diarize: %w", err)
	}

	turnPath := o.layout.TurnPath(jobID)
	if err := os.WriteFile(turnPath, []byte(document), 0o600); err != nil {
		return result, fmt.Errorf("write turn document: %w", err)
	}
	channel.Publish(progress.Event{Step: progress.StepDiarization, Percent: 85, Message: "speaker identification complete"})

	result.TurnPath = turnPath
	return result, nil
}

// merge fuses the subtitle cues with the speaker turns and writes the
// annotated document. The subtitle document is parsed strictly; the turn
// document leniently, a diarizer emitting a few bad lines still yields a
// usable transcript.
func (o *Orchestrator) merge(jobID, subtitlePath, turnPath string, channel *progress.Channel) (jobs.MergeResult, error) {
	var result jobs.MergeResult

	channel.Publish(progress.Event{Step: progress.StepMerge, Percent: 90, Message: "merging transcript and speakers"})

	subtitleData, err := os.ReadFile(subtitlePath)
	if err != nil {
		return result, fmt.Errorf("read subtitle document: %w", err)
	}
	cues, err := subtitle.Parse(string(subtitleData))
	if err != nil {
		return result, fmt.Errorf("parse subtitle document: %w", err)
	}

	turnData, err := os.ReadFile(turnPath)
	if err != nil {
		return result, fmt.Errorf("read turn document: %w", err)
	}
	turns := rttm.Parse(string(turnData))

	annotated := fusion.Fuse(cues, turns)
	document := subtitle.Compose(fusion.Annotate(annotated))

	annotatedPath := o.layout.AnnotatedPath(jobID)
	if err := os.WriteFile(annotatedPath, []byte(document), 0o600); err != nil {
		return result, fmt.Errorf("write annotated document: %w", err)
	}

	result.AnnotatedPath = annotatedPath
	result.NumSpeakers = fusion.SpeakerCount(annotated)
	return result, nil
}

// fail records the terminal failure and emits the closing progress event.
// Advance errors are logged but not propagated: the job may already be
// terminal when a shutdown races a stage failure.
func (o *Orchestrator) fail(log *slog.Logger, jobID string, channel *progress.Channel, cause error) {
	log.Error("pipeline failed", "error", cause)
	if err := o.store.Advance(jobID, jobs.StateFailed, jobs.FailureResult{Detail: cause.Error()}); err != nil {
		log.Error("recording failure state failed", "error", err)
	}
	channel.Publish(progress.Event{Step: progress.StepFailed, Percent: 100, Message: cause.Error()})
}

// bitrateForDuration picks the opus bitrate that keeps a full-length recording
// under the transcription upload ceiling. Thresholds are in seconds.
func bitrateForDuration(seconds float64) string {
	switch {
	case seconds <= 1800:
		return "64k"
	case seconds <= 3600:
		return "48k"
	default:
		return "32k"
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(filepath.Clean(dst))
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
