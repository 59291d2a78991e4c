package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"tubemux/fetch"
	"tubemux/ffmpeg"
	"tubemux/job"
	"tubemux/naming"
	"tubemux/transcribe"

	"github.com/c2h5oh/datasize"
)

// Settings of the audio handed to the transcription service.
const (
	transcribeChannels   = 1
	transcribeSampleRate = 16000
)

func downloadedPath(media fetch.Media, base string) string {
	if media.Path != "" {
		return media.Path
	}
	return base + "." + media.Ext
}

func (r *run) downloadAudio(ctx context.Context) error {
	stage := job.StageAudioDownload
	r.report(stage, job.Set(job.StageRunning).WithDetail("Downloading audio..."))

	media, err := r.p.fetcher.Fetch(ctx, fetch.Request{
		URL:            r.opts.URL,
		Format:         r.opts.AudioQuality,
		OutputTemplate: naming.Template(r.paths.AudioBase),
	}, r.progress(stage))
	if err != nil {
		return r.fail(stage, fmt.Errorf("audio download failed (yt-dlp may be out of date, try updating it): %w", err))
	}

	path := downloadedPath(media, r.paths.AudioBase)
	if _, err := os.Stat(path); err != nil {
		return r.fail(stage, err)
	}

	title := media.Title
	if title == "" {
		title = "video"
	}
	ext := media.Ext
	if ext == "" {
		ext = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	r.meta = metadata{
		Title:        title,
		Uploader:     media.Author(),
		AudioPath:    path,
		AudioExt:     ext,
		AudioBitrate: media.Bitrate,
	}
	r.logger.Info("audio downloaded", "path", path, "title", title)
	r.report(stage, job.Set(job.StageDone).WithProgress("100").WithDetail("Download complete"))
	return nil
}

func (r *run) downloadVideo(ctx context.Context) (*videoOutput, error) {
	stage := job.StageVideoDownload
	if !r.opts.WantsVideo() {
		r.report(stage, job.Set(job.StageSkipped).WithDetail("No video requested"))
		return nil, nil
	}
	r.report(stage, job.Set(job.StageRunning).WithDetail("Downloading video..."))

	media, err := r.p.fetcher.Fetch(ctx, fetch.Request{
		URL:            r.opts.URL,
		Format:         r.opts.VideoQuality,
		OutputTemplate: naming.Template(r.paths.VideoBase),
	}, r.progress(stage))
	if err != nil {
		return nil, r.fail(stage, fmt.Errorf("video download failed (yt-dlp may be out of date, try updating it): %w", err))
	}

	path := downloadedPath(media, r.paths.VideoBase)
	if _, err := os.Stat(path); err != nil {
		return nil, r.fail(stage, err)
	}

	r.logger.Info("video downloaded", "path", path, "height", media.Height)
	r.report(stage, job.Set(job.StageDone).WithProgress("100").WithDetail("Download complete"))
	return &videoOutput{Path: path, Height: media.Height}, nil
}

// subtitles runs conversion then transcription and returns the temp subtitle
// path, or "" when no subtitles were produced. Failures stay inside the
// branch.
func (r *run) subtitles(ctx context.Context) string {
	if !r.opts.WantsSubtitles() {
		r.report(job.StageConversion, job.Set(job.StageSkipped).WithDetail("Subtitles not requested"))
		r.report(job.StageTranscription, job.Set(job.StageSkipped).WithDetail("Subtitles not requested"))
		return ""
	}

	audio, compressed, err := r.prepareAudio(ctx)
	if err != nil {
		r.logger.Warn("audio preparation failed; continuing without subtitles", "error", err)
		r.report(job.StageConversion, job.Set(job.StageError).WithDetail(err.Error()))
		r.report(job.StageTranscription, job.Set(job.StageSkipped).WithDetail("No audio to transcribe"))
		return ""
	}

	path, err := r.transcribe(ctx, audio, compressed)
	if err != nil {
		r.logger.Warn("transcription failed; continuing without subtitles", "error", err)
		r.report(job.StageTranscription, job.Set(job.StageError).WithDetail(err.Error()))
		return ""
	}
	return path
}

// prepareAudio returns the file to upload and whether it is a compressed
// intermediate owned by the transcription stage.
func (r *run) prepareAudio(ctx context.Context) (string, bool, error) {
	stage := job.StageConversion
	r.report(stage, job.Set(job.StageRunning).WithDetail("Checking audio size..."))

	info, err := os.Stat(r.meta.AudioPath)
	if err != nil {
		return "", false, err
	}
	if info.Size() <= r.p.cfg.TranscribeMaxSize {
		r.report(stage, job.Set(job.StageDone).WithDetail("Original audio is within the upload limit"))
		return r.meta.AudioPath, false, nil
	}

	r.report(stage, job.Note(fmt.Sprintf("Encoding to Opus %s", r.p.cfg.TranscribeBitrate)))
	cmd := ffmpeg.NewCommand().
		Input(r.meta.AudioPath).
		Map("0:a:0").
		AudioBitrate(r.p.cfg.TranscribeBitrate).
		AudioChannels(transcribeChannels).
		SampleRate(transcribeSampleRate).
		Output(r.paths.Compressed)
	if err := r.p.transcoder.Run(ctx, cmd); err != nil {
		return "", false, fmt.Errorf("compress audio for transcription: %w", err)
	}

	r.report(stage, job.Set(job.StageDone).WithDetail("Ready for transcription"))
	return r.paths.Compressed, true, nil
}

func (r *run) transcribe(ctx context.Context, audio string, compressed bool) (string, error) {
	stage := job.StageTranscription
	if compressed {
		defer r.remove(audio)
	}

	mode, detail := transcribe.ModeTranscribe, "Transcribing..."
	if r.opts.TranslateSubs {
		mode, detail = transcribe.ModeTranslate, "Translating..."
	}
	r.report(stage, job.Set(job.StageRunning).WithDetail(detail))

	segments, err := r.p.transcriber.Transcribe(ctx, transcribe.Request{
		APIKey:    r.opts.APIKey,
		AudioPath: audio,
		Mode:      mode,
	})
	if err != nil {
		return "", err
	}
	if len(segments) == 0 {
		r.report(stage, job.Set(job.StageDone).WithDetail("No speech detected"))
		return "", nil
	}

	if err := os.WriteFile(r.paths.Subtitle, []byte(transcribe.RenderSRT(segments)), 0o644); err != nil {
		return "", fmt.Errorf("write subtitles: %w", err)
	}
	r.report(stage, job.Set(job.StageDone).WithDetail(fmt.Sprintf("Subtitles generated (%d cues)", len(segments))))
	return r.paths.Subtitle, nil
}

func (r *run) finalize(ctx context.Context, video *videoOutput, subtitle string) (*job.Result, error) {
	stage := job.StageFinalization
	r.report(stage, job.Set(job.StageRunning).WithDetail("Muxing streams..."))

	if subtitle != "" {
		if _, err := os.Stat(subtitle); err != nil {
			r.logger.Warn("subtitle file disappeared before muxing", "path", subtitle, "error", err)
			r.report(job.StageTranscription, job.Force(job.StageError).WithDetail("Subtitle file missing at finalization"))
			subtitle = ""
		}
	}

	var (
		mediaType, ext, tag string
		cmd                 = ffmpeg.NewCommand()
	)
	if video != nil {
		mediaType, ext = naming.MediaVideo, "mkv"
		tag = naming.QualityTag(true, video.Height, r.meta.AudioBitrate)
		cmd.Input(video.Path).Input(r.meta.AudioPath)
		if subtitle != "" {
			cmd.Input(subtitle)
		}
		cmd.Map("0:v:0").Map("1:a:0")
		if subtitle != "" {
			cmd.Map("2:s:0")
		}
		cmd.Codec("v", "copy").Codec("a", "copy")
		if subtitle != "" {
			cmd.Codec("s", "srt").StreamLanguage("s:0", r.p.cfg.SubtitleLanguage)
		}
	} else {
		mediaType, ext = naming.MediaAudio, r.meta.AudioExt
		tag = naming.QualityTag(false, 0, r.meta.AudioBitrate)
		cmd.Input(r.meta.AudioPath).Map("0:a:0").NoVideo().Codec("a", "copy")
	}

	final, err := naming.ReserveFinalPath(r.p.cfg.OutputDir, mediaType, r.meta.Uploader, r.meta.Title, tag, ext, subtitle != "")
	if err != nil {
		return nil, r.fail(stage, err)
	}
	srtPath := ""
	if subtitle != "" {
		srtPath = naming.SubtitlePath(final)
	}
	// The placeholders are ours; ffmpeg's -y overwrites the media one.
	cmd.Output(final)

	result, err := r.publish(ctx, cmd, final, subtitle, srtPath)
	if err != nil {
		r.remove(final)
		if srtPath != "" {
			r.remove(srtPath)
		}
		return nil, r.fail(stage, err)
	}

	if video != nil {
		r.remove(video.Path)
	}
	r.remove(r.meta.AudioPath)

	r.report(stage, job.Set(job.StageDone).WithDetail("Saved "+result.Filename))
	return result, nil
}

// publish muxes into the reserved final path and moves the subtitle beside
// it. The sidecar is moved last so nothing else can fail after it lands.
func (r *run) publish(ctx context.Context, cmd *ffmpeg.Command, final, subtitle, srtPath string) (*job.Result, error) {
	r.logger.Info("muxing final output", "output", final, "subtitles", subtitle != "")
	if err := r.p.transcoder.Run(ctx, cmd); err != nil {
		return nil, err
	}

	info, err := os.Stat(final)
	if err != nil {
		return nil, err
	}
	result := &job.Result{
		Title: r.meta.Title,
		Size:  datasize.ByteSize(info.Size()).HumanReadable(),
	}
	if result.Filename, err = naming.Relative(r.p.cfg.OutputDir, final); err != nil {
		return nil, err
	}
	if subtitle == "" {
		return result, nil
	}

	if result.SrtFilename, err = naming.Relative(r.p.cfg.OutputDir, srtPath); err != nil {
		return nil, err
	}
	if err := moveFile(subtitle, srtPath); err != nil {
		return nil, fmt.Errorf("store subtitles: %w", err)
	}
	return result, nil
}

// remove deletes an intermediate file; a file already gone is fine.
func (r *run) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("cannot remove intermediate", "path", path, "error", err)
	}
}

// moveFile renames src to dst, copying when they live on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
