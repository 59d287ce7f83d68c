package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"10Mi", 10 * 1024 * 1024, false},
		{"10MiB", 10 * 1024 * 1024, false},
		{"25MB", 25 * 1000 * 1000, false},
		{"512KiB", 512 * 1024, false},
		{"1Gi", 1024 * 1024 * 1024, false},
		{"100B", 100, false},
		{"1.5Mi", 1536 * 1024, false},
		{"", 0, true},
		{"tenMB", 0, true},
		{"10XB", 0, true},
	}
	for _, c := range cases {
		got, err := ParseByteSize(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseByteSize(%q): expected error, got %d", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseByteSize(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
server:
  storageDir: `+dir+`/data
asr:
  apiKey: test-key
diarization:
  baseUrl: http://localhost:9000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Driver = %q, want sqlite", cfg.Store.Driver)
	}
	if want := filepath.Join(dir, "data", "meetscribe.db"); cfg.Store.DatabasePath != want {
		t.Errorf("DatabasePath = %q, want %q", cfg.Store.DatabasePath, want)
	}
	if cfg.ASR.Model != "whisper-1" {
		t.Errorf("Model = %q, want whisper-1", cfg.ASR.Model)
	}
	if cfg.ASR.MaxUploadSize != ByteSize(25*1000*1000) {
		t.Errorf("ASR MaxUploadSize = %d, want 25MB", cfg.ASR.MaxUploadSize)
	}
	if cfg.Media.FFmpegPath != "ffmpeg" || cfg.Media.FFprobePath != "ffprobe" {
		t.Errorf("media paths = %q/%q", cfg.Media.FFmpegPath, cfg.Media.FFprobePath)
	}
	if cfg.Server.ShutdownGrace != 15*time.Second {
		t.Errorf("ShutdownGrace = %v", cfg.Server.ShutdownGrace)
	}
	if _, err := os.Stat(cfg.Server.StorageDir); err != nil {
		t.Errorf("storage dir not created: %v", err)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_ASR_KEY", "secret-from-env")
	dir := t.TempDir()
	path := writeConfig(t, `
server:
  storageDir: `+dir+`/data
asr:
  apiKey: ${TEST_ASR_KEY}
diarization:
  baseUrl: http://localhost:9000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ASR.APIKey != "secret-from-env" {
		t.Errorf("APIKey = %q, want secret-from-env", cfg.ASR.APIKey)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing asr key",
			content: `
diarization:
  baseUrl: http://localhost:9000
`,
			wantErr: "asr.apiKey",
		},
		{
			name: "missing diarization url",
			content: `
asr:
  apiKey: key
`,
			wantErr: "diarization.baseUrl",
		},
		{
			name: "bad store driver",
			content: `
store:
  driver: postgres
asr:
  apiKey: key
diarization:
  baseUrl: http://localhost:9000
`,
			wantErr: "store.driver",
		},
		{
			name: "bad log level",
			content: `
server:
  logLevel: loud
asr:
  apiKey: key
diarization:
  baseUrl: http://localhost:9000
`,
			wantErr: "logLevel",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := writeConfig(t, c.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), c.wantErr) {
				t.Errorf("error %q does not mention %q", err, c.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadPathFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
server:
  storageDir: `+dir+`/data
asr:
  apiKey: key
diarization:
  baseUrl: http://localhost:9000
`)
	t.Setenv("MEETSCRIBE_CONFIG", path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ASR.APIKey != "key" {
		t.Errorf("unexpected config loaded")
	}
}
