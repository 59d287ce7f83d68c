package storage

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/meetscribe/internal/common"
)

// allowedAudioExts are the upload formats the pipeline accepts.
var allowedAudioExts = map[string]struct{}{
	".m4a":  {},
	".mp3":  {},
	".wav":  {},
	".flac": {},
	".webm": {},
}

// CompressedExt is the transport codec container. Uploads already in this
// format skip the compression step.
const CompressedExt = ".webm"

// AllowedExtension reports whether the filename carries a supported audio
// extension.
func AllowedExtension(filename string) bool {
	_, ok := allowedAudioExts[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Layout resolves artifact locations under a single storage root:
// uploads/ for originals, processed/ for transcoded audio, output/ for
// transcript documents.
type Layout struct {
	baseDir string
}

func NewLayout(baseDir string) *Layout {
	return &Layout{baseDir: baseDir}
}

// EnsureDirs creates the storage subdirectories.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{l.uploadsDir(), l.processedDir(), l.outputDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("ensure storage dir %s: %w", dir, err)
		}
	}
	return nil
}

func (l *Layout) uploadsDir() string   { return filepath.Join(l.baseDir, common.UploadsDirName) }
func (l *Layout) processedDir() string { return filepath.Join(l.baseDir, common.ProcessedDirName) }
func (l *Layout) outputDir() string    { return filepath.Join(l.baseDir, common.OutputDirName) }

// UploadPath is where the original file of a job is stored, keeping its
// extension so the preprocessing stage can detect the source codec.
func (l *Layout) UploadPath(jobID, originalFilename string) string {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	return filepath.Join(l.uploadsDir(), jobID+ext)
}

func (l *Layout) CompressedPath(jobID string) string {
	return filepath.Join(l.processedDir(), jobID+CompressedExt)
}

func (l *Layout) ResampledPath(jobID string) string {
	return filepath.Join(l.processedDir(), jobID+".wav")
}

func (l *Layout) SubtitlePath(jobID string) string {
	return filepath.Join(l.outputDir(), jobID+".srt")
}

func (l *Layout) TurnPath(jobID string) string {
	return filepath.Join(l.outputDir(), jobID+".rttm")
}

func (l *Layout) AnnotatedPath(jobID string) string {
	return filepath.Join(l.outputDir(), jobID+"_speaker.srt")
}

// SaveUpload validates and stores an uploaded audio file under uploads/.
// It returns the stored path. maxBytes bounds the copy as a second line of
// defense behind the HTTP body limit.
func (l *Layout) SaveUpload(jobID string, fileHeader *multipart.FileHeader, maxBytes int64) (string, error) {
	if fileHeader == nil {
		return "", fmt.Errorf("no file provided")
	}
	if !AllowedExtension(fileHeader.Filename) {
		return "", fmt.Errorf("unsupported audio format: %s", filepath.Ext(fileHeader.Filename))
	}
	if err := os.MkdirAll(l.uploadsDir(), 0o750); err != nil {
		return "", fmt.Errorf("ensure uploads dir: %w", err)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() { _ = src.Close() }()

	dstPath := l.UploadPath(jobID, fileHeader.Filename)
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer func() { _ = dst.Close() }()

	limited := io.LimitReader(src, maxBytes)
	if _, err := io.Copy(dst, limited); err != nil {
		_ = os.Remove(dstPath)
		return "", fmt.Errorf("copy upload: %w", err)
	}
	return dstPath, nil
}

// RemoveArtifacts deletes every file a job may have produced, including the
// original upload. Missing files are not an error.
func (l *Layout) RemoveArtifacts(jobID, originalFilename string) error {
	paths := []string{
		l.UploadPath(jobID, originalFilename),
		l.CompressedPath(jobID),
		l.ResampledPath(jobID),
		l.SubtitlePath(jobID),
		l.TurnPath(jobID),
		l.AnnotatedPath(jobID),
	}
	var firstErr error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return firstErr
}
