package asr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWhisperClient_Transcribe(t *testing.T) {
	const srtBody = "1\n00:00:00,000 --> 00:00:01,000\nhello\n\n"

	var gotAuth, gotFormat, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotFormat = r.FormValue("response_format")
		gotModel = r.FormValue("model")
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		_, _ = w.Write([]byte(srtBody))
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "meeting.webm")
	if err := os.WriteFile(audio, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	c := NewWhisperClient(srv.URL, "secret", "whisper-1", 25_000_000)
	out, err := c.Transcribe(context.Background(), audio)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if out != srtBody {
		t.Fatalf("body mismatch: %q", out)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header mismatch: %q", gotAuth)
	}
	if gotFormat != "srt" || gotModel != "whisper-1" {
		t.Fatalf("form fields mismatch: format=%q model=%q", gotFormat, gotModel)
	}
}

func TestWhisperClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "meeting.webm")
	if err := os.WriteFile(audio, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	c := NewWhisperClient(srv.URL, "secret", "whisper-1", 25_000_000)
	_, err := c.Transcribe(context.Background(), audio)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status in error, got %v", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected service detail in error, got %v", err)
	}
}

func TestWhisperClient_MaxUploadBytes(t *testing.T) {
	c := NewWhisperClient("http://localhost", "k", "m", 123)
	if c.MaxUploadBytes() != 123 {
		t.Fatalf("ceiling mismatch: %d", c.MaxUploadBytes())
	}
}
