package asr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// WhisperClient calls an OpenAI-compatible audio transcription endpoint and
// requests the SRT response format.
type WhisperClient struct {
	baseURL  string
	apiKey   string
	model    string
	maxBytes int64
	http     *http.Client
}

// NewWhisperClient builds a client for baseURL (e.g. https://api.openai.com).
// maxBytes is the documented upload ceiling of the service.
func NewWhisperClient(baseURL, apiKey, model string, maxBytes int64) *WhisperClient {
	return &WhisperClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		model:    model,
		maxBytes: maxBytes,
		// Long recordings take a while; transcription is a blocking batch
		// call from the worker's point of view.
		http: &http.Client{Timeout: 60 * time.Minute},
	}
}

func (c *WhisperClient) MaxUploadBytes() int64 {
	return c.maxBytes
}

func (c *WhisperClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := mw.WriteField("response_format", "srt"); err != nil {
		return "", fmt.Errorf("write response_format field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", fmt.Errorf("copy audio into request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read transcription response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcription service http %d: %s", resp.StatusCode, truncate(string(payload), 512))
	}
	return string(payload), nil
}

// truncate keeps error detail readable when the service replies with a
// large body.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
