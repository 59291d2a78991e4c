// Package transcribe talks to an OpenAI-compatible Whisper endpoint and turns
// its segments into SubRip subtitles.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

type Mode string

const (
	ModeTranscribe Mode = "transcribe"
	ModeTranslate  Mode = "translate"
)

// Request is one audio file to recognize.
type Request struct {
	APIKey    string
	AudioPath string
	Mode      Mode
}

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transcription service returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

func NewClient(baseURL, model string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		http:    httpClient,
	}
}

func (c *Client) endpoint(mode Mode) string {
	if mode == ModeTranslate {
		return c.baseURL + "/audio/translations"
	}
	return c.baseURL + "/audio/transcriptions"
}

// Transcribe uploads the audio file and returns its timestamped segments.
func (c *Client) Transcribe(ctx context.Context, req Request) ([]Segment, error) {
	if req.APIKey == "" {
		return nil, errors.New("transcription credential is required")
	}

	body, contentType, err := c.buildForm(req.AudioPath)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(req.Mode), body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read transcription response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	var out struct {
		Segments []Segment `json:"segments"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}
	return out.Segments, nil
}

func (c *Client) buildForm(audioPath string) (io.Reader, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("read audio: %w", err)
	}
	fields := map[string]string{
		"model":           c.model,
		"response_format": "verbose_json",
		"temperature":     "0",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func errorMessage(data []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return strings.TrimSpace(string(data))
}
