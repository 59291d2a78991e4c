// Package naming derives the temporary and final file paths of a job.
package naming

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Fallback replaces names that sanitize to nothing.
const Fallback = "untitled"

// maxNameBytes keeps a sanitized component well below common filesystem limits
// once a quality tag and extension are appended.
const maxNameBytes = 180

const illegalChars = `\/:*?"<>|`

// Media type directories under the output root.
const (
	MediaVideo = "video"
	MediaAudio = "audio"
)

// Sanitize turns an arbitrary title or channel name into a single safe path
// component. It never fails; unusable input degrades to Fallback.
func Sanitize(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) || strings.ContainsRune(illegalChars, r) {
			return -1
		}
		return r
	}, raw)
	cleaned = norm.NFC.String(cleaned)
	cleaned = truncate(cleaned, maxNameBytes)
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" || strings.Trim(cleaned, ".") == "" {
		return Fallback
	}
	return cleaned
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// QualityTag labels a final file by video height when a video stream is
// present, otherwise by audio bitrate in kbit/s.
func QualityTag(hasVideo bool, height int, audioKbps float64) string {
	if hasVideo {
		if height > 0 {
			return fmt.Sprintf("%d", height)
		}
		return MediaVideo
	}
	if audioKbps > 0 && !math.IsInf(audioKbps, 0) {
		return fmt.Sprintf("%dk", int(math.Round(audioKbps)))
	}
	return MediaAudio
}

// BuildFinalPath composes <root>/<mediaType>/<channel>/<title>_<tag>.<ext>
// and creates the directories leading to it.
func BuildFinalPath(root, mediaType, channel, title, qualityTag, ext string) (string, error) {
	dir := filepath.Join(root, mediaType, Sanitize(channel))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	name := fmt.Sprintf("%s_%s.%s", Sanitize(title), qualityTag, strings.TrimPrefix(ext, "."))
	return filepath.Join(dir, name), nil
}

// maxReserveAttempts bounds the " (n)" suffixes tried for one final name.
const maxReserveAttempts = 1000

// ReserveFinalPath is BuildFinalPath for a file that must not replace another
// job's artifact. It creates an empty placeholder exclusively, adding " (2)",
// " (3)" and so on to the title until a free name is found. With sidecar set
// the subtitle path is reserved together with it. The caller owns the
// placeholders and overwrites or removes them.
func ReserveFinalPath(root, mediaType, channel, title, qualityTag, ext string, sidecar bool) (string, error) {
	base := Sanitize(title)
	for n := 1; n <= maxReserveAttempts; n++ {
		candidate := base
		if n > 1 {
			candidate = fmt.Sprintf("%s (%d)", truncate(base, maxNameBytes-8), n)
		}
		path, err := BuildFinalPath(root, mediaType, channel, candidate, qualityTag, ext)
		if err != nil {
			return "", err
		}
		ok, err := createExclusive(path)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		if sidecar {
			ok, err := createExclusive(SubtitlePath(path))
			if err != nil || !ok {
				os.Remove(path)
				if err != nil {
					return "", err
				}
				continue
			}
		}
		return path, nil
	}
	return "", fmt.Errorf("no free output name for %q after %d attempts", base, maxReserveAttempts)
}

// createExclusive creates an empty file, reporting false if it already exists.
func createExclusive(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reserve output file: %w", err)
	}
	return true, f.Close()
}

// SubtitlePath is the sidecar subtitle path for a final media path.
func SubtitlePath(finalPath string) string {
	return strings.TrimSuffix(finalPath, filepath.Ext(finalPath)) + ".srt"
}

// TempPaths is the set of intermediate files of a single pipeline run. Every
// path carries the run id so concurrent jobs never share a file.
type TempPaths struct {
	AudioBase  string // extension is chosen by the fetcher
	VideoBase  string
	Compressed string
	Subtitle   string
}

// NewTempPaths derives the intermediate paths for runID inside tempDir.
func NewTempPaths(tempDir, runID string) TempPaths {
	return TempPaths{
		AudioBase:  filepath.Join(tempDir, runID+"_audio"),
		VideoBase:  filepath.Join(tempDir, runID+"_video"),
		Compressed: filepath.Join(tempDir, runID+"_transcribe.opus"),
		Subtitle:   filepath.Join(tempDir, runID+".srt"),
	}
}

// Template returns the fetcher output template for a base path.
func Template(base string) string {
	return base + ".%(ext)s"
}

// Relative renders path relative to root with forward slashes, as exposed to
// clients in job results.
func Relative(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
