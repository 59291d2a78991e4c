package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "00:00:00,000", FormatTimestamp(0))
	assert.Equal(t, "00:00:01,500", FormatTimestamp(1.5))
	assert.Equal(t, "00:00:00,290", FormatTimestamp(0.29))
	assert.Equal(t, "01:01:01,001", FormatTimestamp(3661.001))
	assert.Equal(t, "25:00:00,000", FormatTimestamp(90000))
	assert.Equal(t, "00:00:00,000", FormatTimestamp(-3))
}

func TestRenderSRT(t *testing.T) {
	got := RenderSRT([]Segment{
		{Start: 0.0, End: 1.5, Text: "Hello"},
		{Start: 1.5, End: 4.0, Text: "  World "},
	})

	want := "1\n00:00:00,000 --> 00:00:01,500\nHello\n\n" +
		"2\n00:00:01,500 --> 00:00:04,000\nWorld\n\n"
	assert.Equal(t, want, got)
	assert.Len(t, strings.Split(strings.TrimSpace(got), "\n\n"), 2)
	assert.Empty(t, RenderSRT(nil))
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.opus")
	require.NoError(t, os.WriteFile(path, []byte("OggS-fake"), 0o644))
	return path
}

func TestClientTranscribe(t *testing.T) {
	var gotPath, gotAuth, gotFormat, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		gotFormat = r.FormValue("response_format")
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		gotFile = hdr.Filename + ":" + string(data)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"Hello World","segments":[{"start":0,"end":1.5,"text":" Hello"},{"start":1.5,"end":4,"text":" World"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "whisper-large-v3", srv.Client())

	t.Run("transcribe", func(t *testing.T) {
		segs, err := c.Transcribe(context.Background(), Request{APIKey: "k", AudioPath: writeAudio(t), Mode: ModeTranscribe})
		require.NoError(t, err)
		require.Len(t, segs, 2)
		assert.Equal(t, "/audio/transcriptions", gotPath)
		assert.Equal(t, "Bearer k", gotAuth)
		assert.Equal(t, "verbose_json", gotFormat)
		assert.Equal(t, "clip.opus:OggS-fake", gotFile)
	})

	t.Run("translate", func(t *testing.T) {
		_, err := c.Transcribe(context.Background(), Request{APIKey: "k", AudioPath: writeAudio(t), Mode: ModeTranslate})
		require.NoError(t, err)
		assert.Equal(t, "/audio/translations", gotPath)
	})

	t.Run("missing credential", func(t *testing.T) {
		_, err := c.Transcribe(context.Background(), Request{AudioPath: writeAudio(t)})
		assert.Error(t, err)
	})
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API Key"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "whisper-large-v3", srv.Client())
	_, err := c.Transcribe(context.Background(), Request{APIKey: "bad", AudioPath: writeAudio(t)})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Invalid API Key", apiErr.Message)
}
