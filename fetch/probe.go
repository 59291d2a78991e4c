package fetch

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Format is one selectable stream offered by the source.
type Format struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Height int    `json:"height,omitempty"`
}

// Info summarizes a source URL without downloading it.
type Info struct {
	Title        string   `json:"title"`
	Duration     float64  `json:"duration"`
	Thumbnail    string   `json:"thumbnail"`
	VideoFormats []Format `json:"video_formats"`
	AudioFormats []Format `json:"audio_formats"`
}

type rawFormat struct {
	FormatID   string   `json:"format_id"`
	Ext        string   `json:"ext"`
	VCodec     string   `json:"vcodec"`
	ACodec     string   `json:"acodec"`
	Resolution string   `json:"resolution"`
	Height     int      `json:"height"`
	Filesize   *float64 `json:"filesize"`
	ABR        *float64 `json:"abr"`
}

type rawInfo struct {
	Title     string      `json:"title"`
	Duration  float64     `json:"duration"`
	Thumbnail string      `json:"thumbnail"`
	Formats   []rawFormat `json:"formats"`
}

// Probe lists the video-only and audio-only formats of url.
func (f *Fetcher) Probe(ctx context.Context, url string) (Info, error) {
	if strings.TrimSpace(url) == "" {
		return Info{}, fmt.Errorf("url is required")
	}
	out, err := exec.CommandContext(ctx, f.bin, "--no-playlist", "-J", "--", url).Output()
	if err != nil {
		var detail string
		if exitErr, ok := err.(*exec.ExitError); ok {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return Info{}, fmt.Errorf("yt-dlp probe failed: %w: %s", err, detail)
	}
	return parseInfo(out)
}

func parseInfo(data []byte) (Info, error) {
	var raw rawInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return Info{}, fmt.Errorf("decode yt-dlp info: %w", err)
	}

	info := Info{
		Title:        raw.Title,
		Duration:     raw.Duration,
		Thumbnail:    raw.Thumbnail,
		VideoFormats: []Format{},
		AudioFormats: []Format{},
	}
	for _, f := range raw.Formats {
		hasVideo := f.VCodec != "" && f.VCodec != "none"
		hasAudio := f.ACodec != "" && f.ACodec != "none"
		switch {
		case hasVideo && !hasAudio:
			resolution := f.Resolution
			if resolution == "" {
				resolution = "N/A"
			}
			label := fmt.Sprintf("%s (%s)", resolution, f.Ext)
			if f.Filesize != nil && *f.Filesize > 0 {
				label += fmt.Sprintf(" - ~%.1fMB", *f.Filesize/(1024*1024))
			}
			info.VideoFormats = append(info.VideoFormats, Format{ID: f.FormatID, Label: label, Height: f.Height})
		case hasAudio && !hasVideo:
			abr := "N/A"
			if f.ABR != nil {
				abr = fmt.Sprintf("%g", *f.ABR)
			}
			info.AudioFormats = append(info.AudioFormats, Format{ID: f.FormatID, Label: fmt.Sprintf("%skbps (%s)", abr, f.Ext)})
		}
	}
	sort.SliceStable(info.VideoFormats, func(i, j int) bool {
		return info.VideoFormats[i].Height > info.VideoFormats[j].Height
	})
	return info, nil
}
