package diarize

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestHTTPClient_Diarize(t *testing.T) {
	const rttmBody = "SPEAKER meeting 1 0.000 2.000 <NA> <NA> SPEAKER_00 <NA>\n"

	var gotNumSpeakers string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/diarize" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotNumSpeakers = r.FormValue("num_speakers")
		_, _ = w.Write([]byte(rttmBody))
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "meeting.wav")
	if err := os.WriteFile(audio, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	c := NewHTTPClient(srv.URL, "token")

	out, err := c.Diarize(context.Background(), audio, 3)
	if err != nil {
		t.Fatalf("Diarize with hint: %v", err)
	}
	if out != rttmBody {
		t.Fatalf("body mismatch: %q", out)
	}
	if gotNumSpeakers != "3" {
		t.Fatalf("num_speakers not forwarded: %q", gotNumSpeakers)
	}

	if _, err := c.Diarize(context.Background(), audio, 0); err != nil {
		t.Fatalf("Diarize without hint: %v", err)
	}
	if gotNumSpeakers != "" {
		t.Fatalf("num_speakers must be omitted for automatic inference, got %q", gotNumSpeakers)
	}
}

func TestHTTPClient_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "meeting.wav")
	if err := os.WriteFile(audio, []byte("fake-audio"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	c := NewHTTPClient(srv.URL, "token")
	if _, err := c.Diarize(context.Background(), audio, 0); err == nil {
		t.Fatal("expected error for 503 response")
	}
}
