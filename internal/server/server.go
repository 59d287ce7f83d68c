package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jo-hoe/meetscribe/internal/common"
	"github.com/jo-hoe/meetscribe/internal/config"
	"github.com/jo-hoe/meetscribe/internal/fusion"
	"github.com/jo-hoe/meetscribe/internal/jobs"
	"github.com/jo-hoe/meetscribe/internal/pipeline"
	"github.com/jo-hoe/meetscribe/internal/progress"
	"github.com/jo-hoe/meetscribe/internal/storage"
	"github.com/jo-hoe/meetscribe/internal/subtitle"
)

// pingInterval keeps progress streams alive through proxies while the
// subscriber waits between stage events.
const pingInterval = 15 * time.Second

type Service struct {
	Log          *slog.Logger
	Cfg          *config.Config
	Store        jobs.Store
	Orchestrator *pipeline.Orchestrator
	Registry     *progress.Registry
	Layout       *storage.Layout
	// Lifetime bounds background pipeline work; falls back to
	// context.Background when unset.
	Lifetime context.Context
}

func (svc *Service) lifetime() context.Context {
	if svc.Lifetime != nil {
		return svc.Lifetime
	}
	return context.Background()
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	if svc.Log == nil {
		svc.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(http.MethodPost+" "+common.PathMeetings, svc.withCommon(svc.handleCreateMeeting))
	mux.HandleFunc(http.MethodGet+" "+common.PathMeetings, svc.withCommon(svc.handleListMeetings))
	mux.HandleFunc(http.MethodGet+" "+common.PathMeetings+"/{id}", svc.withCommon(svc.handleGetMeeting))
	mux.HandleFunc(http.MethodGet+" "+common.PathMeetings+"/{id}/status", svc.withCommon(svc.handleGetStatus))
	mux.HandleFunc(http.MethodGet+" "+common.PathMeetings+"/{id}/progress", svc.withCommon(svc.handleStreamProgress))
	mux.HandleFunc(http.MethodGet+" "+common.PathMeetings+"/{id}/transcript", svc.withCommon(svc.handleGetTranscript))
	mux.HandleFunc(http.MethodGet+" "+common.PathMeetings+"/{id}/transcript/segments", svc.withCommon(svc.handleGetSegments))
	mux.HandleFunc(http.MethodGet+" "+common.PathMeetings+"/{id}/download/{kind}", svc.withCommon(svc.handleDownload))
	mux.HandleFunc(http.MethodDelete+" "+common.PathMeetings+"/{id}", svc.withCommon(svc.handleDeleteMeeting))

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(recoveryMiddleware(mux), svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Enforce API key if configured
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		// Enforce max body size
		max := safeInt64(svc.Cfg.Server.MaxUploadSize)
		if max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

type createResponse struct {
	JobID       string `json:"job_id"`
	StatusURL   string `json:"status_url"`
	ProgressURL string `json:"progress_url"`
}

func (svc *Service) handleCreateMeeting(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(safeInt64(svc.Cfg.Server.MaxUploadSize)); err != nil {
		http.Error(w, "invalid form: "+err.Error(), http.StatusBadRequest)
		return
	}

	fileHeaders := r.MultipartForm.File["file"]
	if len(fileHeaders) == 0 {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	uploaded := fileHeaders[0]
	if !storage.AllowedExtension(uploaded.Filename) {
		http.Error(w, "unsupported audio format", http.StatusBadRequest)
		return
	}

	hint, err := parseOptionalInt(r.FormValue("num_speakers"))
	if err != nil {
		http.Error(w, "invalid num_speakers", http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()
	sourcePath, err := svc.Layout.SaveUpload(jobID, uploaded, safeInt64(svc.Cfg.Server.MaxUploadSize))
	if err != nil {
		http.Error(w, "upload failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	job := &jobs.Job{
		ID:               jobID,
		State:            jobs.StateQueued,
		SourcePath:       sourcePath,
		OriginalFilename: uploaded.Filename,
		SpeakerCountHint: hint,
		CreatedAt:        time.Now().UTC(),
	}
	// The pipeline goroutine must outlive this request, so it runs under the
	// service lifetime context rather than r.Context().
	if err := svc.Orchestrator.Submit(svc.lifetime(), job); err != nil {
		svc.Log.Error("persist job", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	svc.Log.Info("meeting accepted", "job_id", jobID, "filename", uploaded.Filename)

	writeJSON(w, http.StatusAccepted, createResponse{
		JobID:       jobID,
		StatusURL:   path.Join(common.PathMeetings, jobID, "status"),
		ProgressURL: path.Join(common.PathMeetings, jobID, "progress"),
	})
}

func (svc *Service) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	list, err := svc.Store.ListJobs()
	if err != nil {
		svc.Log.Error("list jobs", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, job := range list {
		out = append(out, jobToOut(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"meetings": out})
}

func (svc *Service) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	job, ok := svc.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, jobToOut(job))
}

func (svc *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := svc.lookup(w, r)
	if !ok {
		return
	}
	out := map[string]any{
		"job_id": job.ID,
		"state":  string(job.State),
	}
	if job.ErrorDetail != nil {
		out["error"] = *job.ErrorDetail
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStreamProgress serves live progress as server-sent events. The stream
// stays open until the job's channel closes; between events, comment pings
// keep the connection from idling out. A job whose channel is already gone
// gets one synthetic event reflecting its stored state.
func (svc *Service) handleStreamProgress(w http.ResponseWriter, r *http.Request) {
	job, ok := svc.lookup(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", common.ContentTypeSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	channel, live := svc.Registry.Get(job.ID)
	if !live {
		writeSSE(w, syntheticEvent(job))
		flusher.Flush()
		return
	}

	sub := channel.Subscribe()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case event, open := <-sub:
			if !open {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
		case <-ping.C:
			_, _ = io.WriteString(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// syntheticEvent reconstructs a final progress event from persisted job state,
// for subscribers that arrive after the pipeline goroutine finished.
func syntheticEvent(job *jobs.Job) progress.Event {
	switch job.State {
	case jobs.StateCompleted:
		return progress.Event{Step: progress.StepCompleted, Percent: 100, Message: "processing complete"}
	case jobs.StateFailed:
		detail := "processing failed"
		if job.ErrorDetail != nil {
			detail = *job.ErrorDetail
		}
		return progress.Event{Step: progress.StepFailed, Percent: 100, Message: detail}
	default:
		return progress.Event{Step: string(job.State), Percent: 0, Message: "in progress"}
	}
}

func writeSSE(w http.ResponseWriter, event progress.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, _ = io.WriteString(w, "data: "+string(data)+"\n\n")
}

func (svc *Service) handleGetTranscript(w http.ResponseWriter, r *http.Request) {
	job, ok := svc.lookup(w, r)
	if !ok {
		return
	}
	if job.State != jobs.StateCompleted || job.Outputs.AnnotatedPath == "" {
		http.Error(w, "transcript not ready", http.StatusConflict)
		return
	}
	svc.serveArtifact(w, job.Outputs.AnnotatedPath, job.ID+"_speaker.srt")
}

type segmentOut struct {
	Index   int     `json:"index"`
	Start   float64 `json:"start_seconds"`
	End     float64 `json:"end_seconds"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
}

// handleGetSegments re-parses the annotated document into structured segments,
// splitting each cue text back into speaker and spoken text.
func (svc *Service) handleGetSegments(w http.ResponseWriter, r *http.Request) {
	job, ok := svc.lookup(w, r)
	if !ok {
		return
	}
	if job.State != jobs.StateCompleted || job.Outputs.AnnotatedPath == "" {
		http.Error(w, "transcript not ready", http.StatusConflict)
		return
	}
	data, err := os.ReadFile(job.Outputs.AnnotatedPath)
	if err != nil {
		svc.Log.Error("read annotated document", "job_id", job.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	cues, err := subtitle.Parse(string(data))
	if err != nil {
		svc.Log.Error("parse annotated document", "job_id", job.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	segments := make([]segmentOut, 0, len(cues))
	for _, cue := range cues {
		speaker, text := fusion.ExtractSpeaker(cue.Text)
		segments = append(segments, segmentOut{
			Index:   cue.Index,
			Start:   cue.Start.Seconds(),
			End:     cue.End.Seconds(),
			Speaker: speaker,
			Text:    text,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":       job.ID,
		"num_speakers": job.NumSpeakers,
		"segments":     segments,
	})
}

func (svc *Service) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := svc.lookup(w, r)
	if !ok {
		return
	}
	var artifact, filename string
	switch r.PathValue("kind") {
	case "subtitle":
		artifact, filename = job.Outputs.SubtitlePath, job.ID+".srt"
	case "turns":
		artifact, filename = job.Outputs.TurnPath, job.ID+".rttm"
	case "annotated":
		artifact, filename = job.Outputs.AnnotatedPath, job.ID+"_speaker.srt"
	default:
		http.Error(w, "unknown artifact kind", http.StatusNotFound)
		return
	}
	if artifact == "" {
		http.Error(w, "artifact not ready", http.StatusConflict)
		return
	}
	svc.serveArtifact(w, artifact, filename)
}

func (svc *Service) serveArtifact(w http.ResponseWriter, path, filename string) {
	data, err := os.ReadFile(path)
	if err != nil {
		svc.Log.Error("read artifact", "path", path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", common.ContentTypeSRT)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(data)
}

func (svc *Service) handleDeleteMeeting(w http.ResponseWriter, r *http.Request) {
	job, ok := svc.lookup(w, r)
	if !ok {
		return
	}
	if !job.State.Terminal() {
		http.Error(w, "job still processing", http.StatusConflict)
		return
	}
	if err := svc.Store.DeleteJob(job.ID); err != nil {
		svc.Log.Error("delete job", "job_id", job.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := svc.Layout.RemoveArtifacts(job.ID, job.OriginalFilename); err != nil {
		svc.Log.Warn("remove artifacts", "job_id", job.ID, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookup resolves the {id} path value to a job, writing the error response
// itself when the job cannot be served.
func (svc *Service) lookup(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	id := r.PathValue("id")
	if id == "" {
		http.NotFound(w, r)
		return nil, false
	}
	job, err := svc.Store.GetJob(id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
		} else {
			svc.Log.Error("get job", "job_id", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return nil, false
	}
	return job, true
}

func jobToOut(job *jobs.Job) map[string]any {
	out := map[string]any{
		"job_id":            job.ID,
		"state":             string(job.State),
		"original_filename": job.OriginalFilename,
		"created_at":        job.CreatedAt,
		"processed_at":      job.ProcessedAt,
	}
	if job.DurationSeconds > 0 {
		out["duration_seconds"] = job.DurationSeconds
	}
	if job.State == jobs.StateCompleted {
		out["num_speakers"] = job.NumSpeakers
	}
	if job.ErrorDetail != nil {
		out["error"] = *job.ErrorDetail
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func parseOptionalInt(s string) (*int, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return nil, errors.New("must be a positive integer")
	}
	return &n, nil
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	// Fallback to a discard logger if none provided to avoid nil deref in tests or minimal setups.
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Flush delegates so event streams keep working behind the middleware.
func (w *writeWrap) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
