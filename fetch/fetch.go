// Package fetch drives yt-dlp to resolve format selectors and download media.
package fetch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"tubemux/logging"

	"github.com/goccy/go-json"
)

// Request describes one download.
type Request struct {
	URL            string
	Format         string
	OutputTemplate string // yt-dlp template, e.g. temp/abc_audio.%(ext)s
}

// Progress is one periodic download report.
type Progress struct {
	Percent string // numeric, without the % sign
	Speed   string
}

// ProgressFunc receives download progress. It must not block for long.
type ProgressFunc func(Progress)

// Media describes a finished download.
type Media struct {
	Path     string  `json:"filepath"`
	Ext      string  `json:"ext"`
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Channel  string  `json:"channel"`
	Height   int     `json:"height"`
	Bitrate  float64 `json:"abr"`
}

// Author is the best available uploader name.
func (m Media) Author() string {
	if strings.TrimSpace(m.Uploader) != "" {
		return m.Uploader
	}
	return m.Channel
}

const (
	progressPrefix = "[progress]"
	progressTmpl   = "download:" + progressPrefix + "%(progress._percent_str)s|%(progress._speed_str)s"
	resultTmpl     = "after_move:%(.{filepath,ext,title,uploader,channel,height,abr})j"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

type Fetcher struct {
	bin    string
	logger *slog.Logger
}

func New(bin string, logger *slog.Logger) (*Fetcher, error) {
	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("yt-dlp binary not found or not in PATH: %s", bin)
	}
	return &Fetcher{bin: bin, logger: logging.NewComponentLogger(logger, "fetch")}, nil
}

func downloadArgs(req Request) []string {
	return []string{
		"--no-playlist",
		"--no-colors",
		"--newline",
		"--no-simulate",
		"--progress",
		"--progress-template", progressTmpl,
		"--print", resultTmpl,
		"-f", req.Format,
		"-o", req.OutputTemplate,
		"--", req.URL,
	}
}

// Fetch downloads req and reports progress while yt-dlp runs.
func (f *Fetcher) Fetch(ctx context.Context, req Request, onProgress ProgressFunc) (Media, error) {
	if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Format) == "" {
		return Media{}, errors.New("url and format are required")
	}

	cmd := exec.CommandContext(ctx, f.bin, downloadArgs(req)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Media{}, err
	}

	f.logger.Debug("starting download", "url", req.URL, "format", req.Format)
	if err := cmd.Start(); err != nil {
		return Media{}, fmt.Errorf("start yt-dlp: %w", err)
	}

	media, found, scanErr := scanOutput(stdout, onProgress)
	// Drain whatever is left so yt-dlp never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		return Media{}, fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if scanErr != nil {
		return Media{}, scanErr
	}
	if !found {
		return Media{}, errors.New("yt-dlp reported no downloaded file")
	}
	return media, nil
}

// scanOutput consumes yt-dlp stdout, forwarding progress lines and decoding
// the final metadata line.
func scanOutput(r io.Reader, onProgress ProgressFunc) (Media, bool, error) {
	var (
		media Media
		found bool
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if p, ok := parseProgressLine(line); ok {
			if onProgress != nil {
				onProgress(p)
			}
			continue
		}
		if strings.HasPrefix(line, "{") {
			if err := json.Unmarshal([]byte(line), &media); err != nil {
				return Media{}, false, fmt.Errorf("decode yt-dlp metadata: %w", err)
			}
			found = true
		}
	}
	if err := scanner.Err(); err != nil {
		return Media{}, false, fmt.Errorf("read yt-dlp output: %w", err)
	}
	return media, found, nil
}

func parseProgressLine(line string) (Progress, bool) {
	rest, ok := strings.CutPrefix(line, progressPrefix)
	if !ok {
		return Progress{}, false
	}
	rest = ansiEscape.ReplaceAllString(rest, "")
	pct, speed, _ := strings.Cut(rest, "|")
	pct = strings.TrimSuffix(strings.TrimSpace(pct), "%")
	speed = strings.TrimSpace(speed)
	if speed == "" || speed == "NA" {
		speed = "N/A"
	}
	return Progress{Percent: pct, Speed: speed}, true
}
