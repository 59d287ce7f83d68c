package storage

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAllowedExtension(t *testing.T) {
	for _, name := range []string{"a.m4a", "b.MP3", "c.wav", "d.flac", "e.webm"} {
		if !AllowedExtension(name) {
			t.Errorf("%s should be allowed", name)
		}
	}
	for _, name := range []string{"a.mp4", "b.txt", "noext", "x.exe"} {
		if AllowedExtension(name) {
			t.Errorf("%s should be rejected", name)
		}
	}
}

func TestLayout_Paths(t *testing.T) {
	l := NewLayout("/data")
	if got := l.UploadPath("j1", "Weekly Sync.M4A"); got != filepath.Join("/data", "uploads", "j1.m4a") {
		t.Fatalf("upload path mismatch: %s", got)
	}
	if got := l.CompressedPath("j1"); got != filepath.Join("/data", "processed", "j1.webm") {
		t.Fatalf("compressed path mismatch: %s", got)
	}
	if got := l.AnnotatedPath("j1"); got != filepath.Join("/data", "output", "j1_speaker.srt") {
		t.Fatalf("annotated path mismatch: %s", got)
	}
}

func multipartFile(t *testing.T, field, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	_ = mw.Close()

	req, err := http.NewRequest(http.MethodPost, "/", &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := req.ParseMultipartForm(1 << 20); err != nil {
		t.Fatalf("parse multipart: %v", err)
	}
	return req.MultipartForm.File[field][0]
}

func TestSaveUpload(t *testing.T) {
	l := NewLayout(t.TempDir())
	fh := multipartFile(t, "file", "meeting.mp3", []byte("audio-bytes"))

	path, err := l.SaveUpload("job-1", fh, 1<<20)
	if err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	if !strings.HasSuffix(path, "job-1.mp3") {
		t.Fatalf("stored path mismatch: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Fatalf("content mismatch: %q", data)
	}
}

func TestSaveUpload_RejectsBadExtension(t *testing.T) {
	l := NewLayout(t.TempDir())
	fh := multipartFile(t, "file", "payload.exe", []byte("nope"))
	if _, err := l.SaveUpload("job-1", fh, 1<<20); err == nil {
		t.Fatal("expected rejection for unsupported extension")
	}
}

func TestRemoveArtifacts(t *testing.T) {
	dir := t.TempDir()
	l := NewLayout(dir)
	if err := l.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, p := range []string{
		l.UploadPath("j1", "orig.wav"),
		l.CompressedPath("j1"),
		l.SubtitlePath("j1"),
	} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	if err := l.RemoveArtifacts("j1", "orig.wav"); err != nil {
		t.Fatalf("RemoveArtifacts: %v", err)
	}
	if _, err := os.Stat(l.CompressedPath("j1")); !os.IsNotExist(err) {
		t.Fatal("compressed artifact not removed")
	}
	// Removing again is fine; missing files are not an error.
	if err := l.RemoveArtifacts("j1", "orig.wav"); err != nil {
		t.Fatalf("second RemoveArtifacts: %v", err)
	}
}
