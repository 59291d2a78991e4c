package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tubemux/config"
	"tubemux/logging"

	"github.com/lithammer/shortuuid/v4"
)

// Pipeline executes the stages of one job and reports progress to sink.
type Pipeline interface {
	Run(ctx context.Context, id string, opts Options, sink Sink) (*Result, error)
}

// Sink receives stage updates from a running pipeline.
type Sink interface {
	Update(id string, stage Stage, u StageUpdate) error
}

// record owns one job; mu serializes stage merges against snapshots.
type record struct {
	mu  sync.Mutex
	job Job
}

type Manager struct {
	cfg      *config.Config
	pipeline Pipeline
	logger   *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*record

	wg  sync.WaitGroup
	now func() time.Time
}

func NewManager(cfg *config.Config, pipeline Pipeline, logger *slog.Logger) (*Manager, error) {
	if cfg == nil || pipeline == nil {
		return nil, fmt.Errorf("job manager requires config and pipeline")
	}
	return &Manager{
		cfg:      cfg,
		pipeline: pipeline,
		logger:   logging.NewComponentLogger(logger, "jobs"),
		jobs:     make(map[string]*record),
		now:      time.Now,
	}, nil
}

// Start launches background maintenance. Jobs themselves do not depend on it.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("job manager started", "max_parallelism", m.cfg.MaxParallelism)
	if m.cfg.TempLifetime > 0 {
		go m.sweepLoop(ctx)
	}
}

// Submit registers a job and runs its pipeline on a detached goroutine.
func (m *Manager) Submit(opts Options) (Job, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return Job{}, fmt.Errorf("url is required")
	}
	if strings.TrimSpace(opts.AudioQuality) == "" {
		return Job{}, fmt.Errorf("audio quality selector is required")
	}

	id := shortuuid.New()
	rec := &record{job: newJob(id, m.now())}

	m.mu.Lock()
	m.jobs[id] = rec
	m.mu.Unlock()

	snap := rec.job.clone()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.process(id, opts)
	}()

	m.logger.Info("job submitted", "job_id", id, "url", opts.URL, "video", opts.VideoQuality, "audio", opts.AudioQuality)
	return snap, nil
}

// process drives one job to a terminal state. The pipeline runs detached from
// any request context; nothing cancels it short of process exit.
func (m *Manager) process(id string, opts Options) {
	logger := m.logger.With("job_id", id)
	if err := m.setStatus(id, StatusRunning, nil, ""); err != nil {
		logger.Error("cannot start job", "error", err)
		return
	}

	result, err := m.pipeline.Run(context.Background(), id, opts, m)
	if err != nil {
		logger.Error("job failed", "error", err)
		if serr := m.setStatus(id, StatusError, nil, err.Error()); serr != nil {
			logger.Error("cannot record job failure", "error", serr)
		}
		return
	}
	if result == nil {
		logger.Error("job failed", "error", errNoResult)
		if serr := m.setStatus(id, StatusError, nil, errNoResult.Error()); serr != nil {
			logger.Error("cannot record job failure", "error", serr)
		}
		return
	}

	logger.Info("job completed", "file", result.Filename, "size", result.Size)
	if serr := m.setStatus(id, StatusCompleted, result, ""); serr != nil {
		logger.Error("cannot record job completion", "error", serr)
	}
}

func (m *Manager) lookup(id string) (*record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[id]
	return rec, ok
}

func (m *Manager) setStatus(id string, status Status, result *Result, errMsg string) error {
	rec, ok := m.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	cur := rec.job.Status
	valid := (cur == StatusQueued && (status == StatusRunning || status == StatusError)) ||
		(cur == StatusRunning && status.Terminal())
	if !valid {
		return fmt.Errorf("%w: %s -> %s", ErrJobTransition, cur, status)
	}

	now := m.now()
	rec.job.Status = status
	switch status {
	case StatusRunning:
		rec.job.StartedAt = &now
	case StatusCompleted:
		rec.job.Result = result
		rec.job.CompletedAt = &now
	case StatusError:
		rec.job.Error = errMsg
		rec.job.CompletedAt = &now
	}
	return nil
}

// Update merges a partial stage state into a job's record.
func (m *Manager) Update(id string, stage Stage, u StageUpdate) error {
	rec, ok := m.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	cur, ok := rec.job.Tasks[stage]
	if !ok {
		return fmt.Errorf("%w: unknown stage %q", ErrStageTransition, stage)
	}
	next, err := apply(stage, cur, u)
	if err != nil {
		return err
	}
	rec.job.Tasks[stage] = next
	return nil
}

// Get returns a point-in-time copy of a job.
func (m *Manager) Get(id string) (Job, bool) {
	rec, ok := m.lookup(id)
	if !ok {
		return Job{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job.clone(), true
}

// List returns snapshots of every job, oldest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.jobs))
	for _, rec := range m.jobs {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	out := make([]Job, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.job.clone())
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Watch emits a snapshot of the job every status interval. The channel is
// closed right after a terminal snapshot, immediately for unknown ids, or
// when ctx is done. Cancelling ctx never affects the job.
func (m *Manager) Watch(ctx context.Context, id string) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		ticker := time.NewTicker(m.cfg.StatusInterval)
		defer ticker.Stop()

		for {
			snap, ok := m.Get(id)
			if !ok {
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
			if snap.Status.Terminal() {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Wait blocks until every submitted job reached a terminal state.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// ArtifactPath resolves a result path relative to the output root, refusing
// anything that escapes it.
func (m *Manager) ArtifactPath(relative string) (string, error) {
	relative = strings.TrimPrefix(filepath.ToSlash(relative), "/")
	clean := filepath.Clean(filepath.FromSlash(relative))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid filename")
	}

	fullPath := filepath.Join(m.cfg.OutputDir, clean)
	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("file not found")
	}
	return fullPath, nil
}

func (m *Manager) activeIDs() map[string]bool {
	active := make(map[string]bool)
	for _, j := range m.List() {
		if !j.Status.Terminal() {
			active[j.ID] = true
		}
	}
	return active
}

// sweepLoop periodically removes intermediates that failed jobs left in the
// temp directory. Files of jobs still in flight are never touched; temp names
// start with "<job id>-".
func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval(m.cfg.TempLifetime))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("temp sweeper shutting down")
			return
		case <-ticker.C:
			m.sweepTemp()
		}
	}
}

// sweepInterval checks four times per lifetime, at most once a second.
func sweepInterval(lifetime time.Duration) time.Duration {
	return max(lifetime/4, time.Second)
}

func (m *Manager) sweepTemp() {
	entries, err := os.ReadDir(m.cfg.TempDir)
	if err != nil {
		m.logger.Warn("cannot list temp directory", "dir", m.cfg.TempDir, "error", err)
		return
	}
	active := m.activeIDs()
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if id, _, ok := strings.Cut(entry.Name(), "-"); ok && active[id] {
			continue
		}
		info, err := entry.Info()
		if err != nil || time.Since(info.ModTime()) <= m.cfg.TempLifetime {
			continue
		}
		path := filepath.Join(m.cfg.TempDir, entry.Name())
		m.logger.Info("removing stale intermediate", "path", path)
		if err := os.Remove(path); err != nil {
			m.logger.Warn("cannot remove stale intermediate", "path", path, "error", err)
		}
	}
}
