// Package pipeline runs the stages of a single job: audio download, then the
// video download in parallel with the subtitle chain (conversion followed by
// transcription), then the final mux.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tubemux/config"
	"tubemux/fetch"
	"tubemux/ffmpeg"
	"tubemux/job"
	"tubemux/logging"
	"tubemux/naming"
	"tubemux/transcribe"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
)

type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request, onProgress fetch.ProgressFunc) (fetch.Media, error)
}

type Transcoder interface {
	Run(ctx context.Context, cmd *ffmpeg.Command) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) ([]transcribe.Segment, error)
}

// StageError is a substantive stage failure, as opposed to a rejected
// progress update.
type StageError struct {
	Stage job.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type Pipeline struct {
	cfg         *config.Config
	fetcher     Fetcher
	transcoder  Transcoder
	transcriber Transcriber
	logger      *slog.Logger
	newRunID    func() string
}

func New(cfg *config.Config, fetcher Fetcher, transcoder Transcoder, transcriber Transcriber, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		fetcher:     fetcher,
		transcoder:  transcoder,
		transcriber: transcriber,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
		newRunID:    uuid.NewString,
	}
}

// metadata is written by the audio stage before the parallel branches start
// and only read afterwards.
type metadata struct {
	Title        string
	Uploader     string
	AudioPath    string
	AudioExt     string
	AudioBitrate float64
}

type videoOutput struct {
	Path   string
	Height int
}

// run is the state of one pipeline execution.
type run struct {
	p      *Pipeline
	id     string
	opts   job.Options
	sink   job.Sink
	paths  naming.TempPaths
	meta   metadata
	logger *slog.Logger
}

// Run executes every stage of job id and returns its result. The returned
// error is the first fatal failure; the subtitle chain never fails the job.
func (p *Pipeline) Run(ctx context.Context, id string, opts job.Options, sink job.Sink) (*job.Result, error) {
	r := &run{
		p:      p,
		id:     id,
		opts:   opts,
		sink:   sink,
		paths:  naming.NewTempPaths(p.cfg.TempDir, id+"-"+p.newRunID()),
		logger: p.logger.With("job_id", id),
	}

	if err := r.downloadAudio(ctx); err != nil {
		return nil, err
	}

	var (
		video    *videoOutput
		subtitle string
	)
	branches := pool.New().WithErrors().WithFirstError().WithMaxGoroutines(p.cfg.MaxParallelism)
	branches.Go(func() error {
		v, err := r.downloadVideo(ctx)
		video = v
		return err
	})
	branches.Go(func() error {
		subtitle = r.subtitles(ctx)
		return nil
	})
	if err := branches.Wait(); err != nil {
		return nil, err
	}

	return r.finalize(ctx, video, subtitle)
}

// report forwards a stage update. A rejected update is logged and never
// interrupts the stage that sent it.
func (r *run) report(stage job.Stage, u job.StageUpdate) {
	if err := r.sink.Update(r.id, stage, u); err != nil {
		level := slog.LevelError
		if errors.Is(err, job.ErrStageTransition) {
			level = slog.LevelWarn
		}
		r.logger.Log(context.Background(), level, "progress update rejected", "stage", stage, "error", err)
	}
}

// fail marks stage as failed and wraps err for the scheduler.
func (r *run) fail(stage job.Stage, err error) error {
	r.report(stage, job.Set(job.StageError).WithDetail(err.Error()))
	return &StageError{Stage: stage, Err: err}
}

func (r *run) progress(stage job.Stage) fetch.ProgressFunc {
	return func(p fetch.Progress) {
		r.report(stage, job.Set(job.StageRunning).
			WithProgress(p.Percent).
			WithDetail(fmt.Sprintf("%s%% @ %s", p.Percent, p.Speed)))
	}
}
