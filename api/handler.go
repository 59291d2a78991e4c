package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"tubemux/config"
	"tubemux/fetch"
	"tubemux/job"
)

// JobService is the part of the job manager the HTTP layer needs.
type JobService interface {
	Submit(opts job.Options) (job.Job, error)
	Get(id string) (job.Job, bool)
	List() []job.Job
	Watch(ctx context.Context, id string) <-chan job.Job
	ArtifactPath(relative string) (string, error)
}

type Prober interface {
	Probe(ctx context.Context, url string) (fetch.Info, error)
}

type Handler struct {
	jobs   JobService
	prober Prober
	cfg    *config.Config
}

func NewHandler(jobs JobService, prober Prober, cfg *config.Config) *Handler {
	return &Handler{
		jobs:   jobs,
		prober: prober,
		cfg:    cfg,
	}
}

type InfoRequest struct {
	URL string `json:"url" form:"url" binding:"required"`
}

type JobRequest struct {
	URL           string `json:"url" form:"url" binding:"required"`
	VideoQuality  string `json:"video_quality" form:"video_quality"`
	AudioQuality  string `json:"audio_quality" form:"audio_quality" binding:"required"`
	APIKey        string `json:"api_key" form:"api_key"`
	GenerateSubs  bool   `json:"gen_subtitles" form:"gen_subtitles"`
	TranslateSubs bool   `json:"translate_subs" form:"translate_subs"`
}

// JobView is a job snapshot plus download links for its artifacts.
type JobView struct {
	job.Job
	DownloadURL string `json:"download_url,omitempty"`
	SrtURL      string `json:"srt_url,omitempty"`
}

// handleInfo lists the formats available for a URL.
func (h *Handler) handleInfo(c *gin.Context) {
	var req InfoRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, err := h.prober.Probe(c.Request.Context(), req.URL)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch media info", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleCreateJob starts a job and returns its id without waiting for it.
func (h *Handler) handleCreateJob(c *gin.Context) {
	var req JobRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	j, err := h.jobs.Submit(job.Options{
		URL:           strings.TrimSpace(req.URL),
		VideoQuality:  req.VideoQuality,
		AudioQuality:  req.AudioQuality,
		APIKey:        req.APIKey,
		GenerateSubs:  req.GenerateSubs,
		TranslateSubs: req.TranslateSubs,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": j.ID})
}

func (h *Handler) handleListJobs(c *gin.Context) {
	jobs := h.jobs.List()
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, h.view(c, j))
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) handleGetJob(c *gin.Context) {
	j, found := h.jobs.Get(c.Param("jobId"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, h.view(c, j))
}

// handleJobEvents pushes a snapshot every status interval until the job is
// finished or the client goes away.
func (h *Handler) handleJobEvents(c *gin.Context) {
	id := c.Param("jobId")
	if _, found := h.jobs.Get(id); !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	updates := h.jobs.Watch(c.Request.Context(), id)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		snap, ok := <-updates
		if !ok {
			return false
		}
		c.Render(-1, sse.Event{Data: h.view(c, snap)})
		return !snap.Status.Terminal()
	})
}

// handleGetFile serves a finished artifact as an attachment.
func (h *Handler) handleGetFile(c *gin.Context) {
	filePath, err := h.jobs.ArtifactPath(c.Param("path"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.FileAttachment(filePath, filepath.Base(filePath))
}

func (h *Handler) view(c *gin.Context, j job.Job) JobView {
	v := JobView{Job: j}
	if j.Status != job.StatusCompleted || j.Result == nil {
		return v
	}
	v.DownloadURL = h.fileURL(c, j.Result.Filename)
	if j.Result.SrtFilename != "" {
		v.SrtURL = h.fileURL(c, j.Result.SrtFilename)
	}
	return v
}

// fileURL builds the absolute download URL for a result path.
func (h *Handler) fileURL(c *gin.Context, relative string) string {
	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	segments := strings.Split(relative, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/api/v1/files/%s", baseURL, strings.Join(segments, "/"))
}
