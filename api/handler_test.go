package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubemux/config"
	"tubemux/fetch"
	"tubemux/job"
	"tubemux/logging"
)

type mockPipeline struct {
	release chan struct{}
	result  *job.Result
	err     error
}

func (m *mockPipeline) Run(ctx context.Context, id string, opts job.Options, sink job.Sink) (*job.Result, error) {
	if m.release != nil {
		<-m.release
	}
	_ = sink.Update(id, job.StageAudioDownload, job.Set(job.StageDone).WithProgress("100"))
	return m.result, m.err
}

type mockProber struct {
	info fetch.Info
	err  error
	url  string
}

func (m *mockProber) Probe(ctx context.Context, url string) (fetch.Info, error) {
	m.url = url
	return m.info, m.err
}

func setupTestRouter(t *testing.T, p job.Pipeline, prober Prober) (*gin.Engine, *config.Config, *job.Manager) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		OutputDir:      t.TempDir(),
		TempDir:        t.TempDir(),
		MaxParallelism: 2,
		StatusInterval: 5 * time.Millisecond,
	}
	mgr, err := job.NewManager(cfg, p, logging.NewNop())
	require.NoError(t, err)
	if prober == nil {
		prober = &mockProber{}
	}
	return SetupRouter(mgr, prober, cfg, logging.NewNop()), cfg, mgr
}

func doJSON(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(w, req)
	return w
}

var songResult = &job.Result{
	Filename:    "video/The Band/My Song_720.mkv",
	SrtFilename: "video/The Band/My Song_720.srt",
	Title:       "My Song",
	Size:        "1.0 MB",
}

func TestHealth(t *testing.T) {
	router, _, _ := setupTestRouter(t, &mockPipeline{}, nil)

	w := doJSON(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleCreateJob(t *testing.T) {
	router, _, mgr := setupTestRouter(t, &mockPipeline{result: songResult}, nil)

	w := doJSON(router, http.MethodPost, "/api/v1/jobs",
		`{"url":"https://example.com/watch?v=1","video_quality":"bestvideo","audio_quality":"bestaudio","api_key":"gsk","gen_subtitles":true}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["job_id"])

	_, found := mgr.Get(resp["job_id"])
	assert.True(t, found)
	mgr.Wait()
}

func TestHandleCreateJobValidation(t *testing.T) {
	router, _, mgr := setupTestRouter(t, &mockPipeline{}, nil)

	for _, body := range []string{
		`{"audio_quality":"bestaudio"}`,
		`{"url":"https://example.com"}`,
		`{"url":"   ","audio_quality":"bestaudio"}`,
		`not json`,
	} {
		w := doJSON(router, http.MethodPost, "/api/v1/jobs", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, mgr.List())
}

func TestHandleGetJob(t *testing.T) {
	router, cfg, mgr := setupTestRouter(t, &mockPipeline{result: songResult}, nil)
	cfg.BaseURL = "https://media.example.com/"

	j, err := mgr.Submit(job.Options{URL: "u", AudioQuality: "bestaudio"})
	require.NoError(t, err)
	mgr.Wait()

	w := doJSON(router, http.MethodGet, "/api/v1/jobs/"+j.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var view JobView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, j.ID, view.ID)
	assert.Equal(t, job.StatusCompleted, view.Status)
	assert.Equal(t, "My Song", view.Result.Title)
	assert.Equal(t, job.StageDone, view.Tasks[job.StageAudioDownload].Status)
	assert.Equal(t, "https://media.example.com/api/v1/files/video/The%20Band/My%20Song_720.mkv", view.DownloadURL)
	assert.Equal(t, "https://media.example.com/api/v1/files/video/The%20Band/My%20Song_720.srt", view.SrtURL)
	assert.NotContains(t, w.Body.String(), "api_key")

	w = doJSON(router, http.MethodGet, "/api/v1/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetJobWithoutResult(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	router, _, mgr := setupTestRouter(t, &mockPipeline{release: release, result: songResult}, nil)

	j, err := mgr.Submit(job.Options{URL: "u", AudioQuality: "bestaudio"})
	require.NoError(t, err)

	w := doJSON(router, http.MethodGet, "/api/v1/jobs/"+j.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "download_url")
	assert.NotContains(t, w.Body.String(), `"result"`)
}

func TestHandleListJobs(t *testing.T) {
	router, _, mgr := setupTestRouter(t, &mockPipeline{err: errors.New("boom")}, nil)

	for i := 0; i < 3; i++ {
		_, err := mgr.Submit(job.Options{URL: "u", AudioQuality: "bestaudio"})
		require.NoError(t, err)
	}
	mgr.Wait()

	w := doJSON(router, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var views []JobView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 3)
	for _, v := range views {
		assert.Equal(t, job.StatusError, v.Status)
		assert.Equal(t, "boom", v.Error)
	}
}

func TestHandleJobEvents(t *testing.T) {
	release := make(chan struct{})
	router, _, mgr := setupTestRouter(t, &mockPipeline{release: release, result: songResult}, nil)
	srv := httptest.NewServer(router)
	defer srv.Close()

	j, err := mgr.Submit(job.Options{URL: "u", AudioQuality: "bestaudio"})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/" + j.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	time.AfterFunc(30*time.Millisecond, func() { close(release) })

	var events []JobView
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var v JobView
		require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &v))
		events = append(events, v)
	}
	require.NoError(t, scanner.Err())

	require.GreaterOrEqual(t, len(events), 2)
	last := events[len(events)-1]
	assert.Equal(t, job.StatusCompleted, last.Status)
	assert.NotEmpty(t, last.DownloadURL)
	for _, v := range events[:len(events)-1] {
		assert.False(t, v.Status.Terminal())
	}
}

func TestHandleJobEventsUnknownJob(t *testing.T) {
	router, _, _ := setupTestRouter(t, &mockPipeline{}, nil)

	w := doJSON(router, http.MethodGet, "/api/v1/jobs/missing/events", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetFile(t *testing.T) {
	router, cfg, _ := setupTestRouter(t, &mockPipeline{}, nil)
	dir := filepath.Join(cfg.OutputDir, "audio", "The Band")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "My Song_128k.m4a"), []byte("audio bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(cfg.OutputDir), "secret.txt"), []byte("nope"), 0o644))

	w := doJSON(router, http.MethodGet, "/api/v1/files/audio/The%20Band/My%20Song_128k.m4a", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "audio bytes", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	for _, path := range []string{
		"/api/v1/files/audio/The%20Band/missing.m4a",
		"/api/v1/files/../secret.txt",
		"/api/v1/files/audio",
	} {
		w := doJSON(router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestHandleInfo(t *testing.T) {
	prober := &mockProber{info: fetch.Info{
		Title:        "My Song",
		Duration:     212,
		VideoFormats: []fetch.Format{{ID: "137", Label: "1920x1080 (mp4) - ~40.1MB", Height: 1080}},
		AudioFormats: []fetch.Format{{ID: "140", Label: "129kbps (m4a)"}},
	}}
	router, _, _ := setupTestRouter(t, &mockPipeline{}, prober)

	w := doJSON(router, http.MethodPost, "/api/v1/info", `{"url":"https://example.com/watch?v=1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://example.com/watch?v=1", prober.url)

	var info fetch.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "My Song", info.Title)
	require.Len(t, info.VideoFormats, 1)
	assert.Equal(t, "137", info.VideoFormats[0].ID)

	w = doJSON(router, http.MethodPost, "/api/v1/info", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	prober.err = errors.New("Unsupported URL")
	w = doJSON(router, http.MethodPost, "/api/v1/info", `{"url":"https://example.com/nope"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "Unsupported URL")
}
