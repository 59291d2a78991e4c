package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"tubemux/job"
	"tubemux/logging"
)

func newGetCommand() *cobra.Command {
	var opts job.Options

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Run one job in the foreground and print its progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.URL = args[0]
			return get(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.VideoQuality, "video", job.NoVideo, "Video format selector, or \"none\" for audio only")
	cmd.Flags().StringVar(&opts.AudioQuality, "audio", "bestaudio", "Audio format selector")
	cmd.Flags().BoolVar(&opts.GenerateSubs, "subs", false, "Generate subtitles from the audio")
	cmd.Flags().BoolVar(&opts.TranslateSubs, "translate", false, "Translate subtitles to English")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", os.Getenv("GROQ_API_KEY"), "Transcription service API key")
	return cmd
}

func get(ctx context.Context, out io.Writer, opts job.Options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newServices()
	if err != nil {
		return err
	}

	submitted, err := svc.jobs.Submit(opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Job %s started\n", submitted.ID)

	color := logging.IsTerminal(out)
	seen := make(job.Tasks, len(job.Stages))
	var final job.Job
	for snap := range svc.jobs.Watch(ctx, submitted.ID) {
		for _, line := range progressLines(seen, snap.Tasks, color) {
			fmt.Fprintln(out, line)
		}
		final = snap
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fmt.Fprintln(out, renderStageTable(final.Tasks))
	if final.Status != job.StatusCompleted {
		return fmt.Errorf("job %s failed: %s", final.ID, final.Error)
	}

	fmt.Fprintf(out, "Saved %s (%s)\n", filepath.Join(svc.cfg.OutputDir, filepath.FromSlash(final.Result.Filename)), final.Result.Size)
	if final.Result.SrtFilename != "" {
		fmt.Fprintf(out, "Subtitles %s\n", filepath.Join(svc.cfg.OutputDir, filepath.FromSlash(final.Result.SrtFilename)))
	}
	return nil
}
