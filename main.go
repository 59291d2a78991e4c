// tubemux/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tubemux/config"
	"tubemux/fetch"
	"tubemux/ffmpeg"
	"tubemux/job"
	"tubemux/logging"
	"tubemux/pipeline"
	"tubemux/transcribe"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tubemux",
		Short:         "Download, subtitle and remux online media",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newGetCommand())
	return rootCmd
}

// services holds everything a job needs, shared by the server and the CLI.
type services struct {
	cfg     *config.Config
	logger  *slog.Logger
	fetcher *fetch.Fetcher
	jobs    *job.Manager
}

func newServices() (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.OutputDir, cfg.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	fetcher, err := fetch.New(cfg.FetchBin, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize fetcher: %w", err)
	}
	runner, err := ffmpeg.NewRunner(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize ffmpeg runner: %w", err)
	}
	transcriber := transcribe.NewClient(cfg.TranscribeBaseURL, cfg.TranscribeModel, &http.Client{Timeout: 10 * time.Minute})

	p := pipeline.New(cfg, fetcher, runner, transcriber, logger)
	jobs, err := job.NewManager(cfg, p, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize job manager: %w", err)
	}
	return &services{cfg: cfg, logger: logger, fetcher: fetcher, jobs: jobs}, nil
}
