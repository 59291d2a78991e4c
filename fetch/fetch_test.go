package fetch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tubemux/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgressLine(t *testing.T) {
	p, ok := parseProgressLine("[progress] 45.3%|  2.10MiB/s")
	require.True(t, ok)
	assert.Equal(t, Progress{Percent: "45.3", Speed: "2.10MiB/s"}, p)

	p, ok = parseProgressLine("[progress]\x1b[0;94m100.0%\x1b[0m|NA")
	require.True(t, ok)
	assert.Equal(t, Progress{Percent: "100.0", Speed: "N/A"}, p)

	_, ok = parseProgressLine("[download] Destination: x.webm")
	assert.False(t, ok)
}

func TestScanOutput(t *testing.T) {
	out := strings.Join([]string{
		"[progress]  10.0%|1.00MiB/s",
		"[progress]  55.5%|1.20MiB/s",
		`{"filepath": "temp/a_audio.webm", "ext": "webm", "title": "Song", "uploader": "Band", "channel": "Band Official", "height": null, "abr": 129.478}`,
	}, "\n")

	var seen []Progress
	media, found, err := scanOutput(strings.NewReader(out), func(p Progress) { seen = append(seen, p) })
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, seen, 2)
	assert.Equal(t, "55.5", seen[1].Percent)
	assert.Equal(t, "temp/a_audio.webm", media.Path)
	assert.Equal(t, "webm", media.Ext)
	assert.Equal(t, "Band", media.Author())
	assert.InDelta(t, 129.478, media.Bitrate, 0.001)
}

func TestDownloadArgs(t *testing.T) {
	args := downloadArgs(Request{URL: "-https://x", Format: "bestaudio", OutputTemplate: "temp/a.%(ext)s"})
	assert.Equal(t, []string{"--", "-https://x"}, args[len(args)-2:])
	assert.Contains(t, args, "--no-playlist")
}

func TestFetchWithFakeBinary(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "yt-dlp")
	body := "#!/bin/sh\n" +
		"echo '[progress]  50.0%|1.00MiB/s'\n" +
		`echo '{"filepath": "out.m4a", "ext": "m4a", "title": "T", "uploader": "", "channel": "C", "abr": 128}'` + "\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	f, err := New(script, logging.NewNop())
	require.NoError(t, err)

	var calls int
	media, err := f.Fetch(context.Background(), Request{URL: "https://example.com/v", Format: "bestaudio", OutputTemplate: "x"}, func(Progress) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "m4a", media.Ext)
	assert.Equal(t, "C", media.Author())
}

func TestFetchFailure(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "yt-dlp")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'ERROR: Unsupported URL' >&2\nexit 1\n"), 0o755))

	f, err := New(script, logging.NewNop())
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), Request{URL: "https://example.com", Format: "best", OutputTemplate: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported URL")
}

func TestParseInfo(t *testing.T) {
	data := []byte(`{
		"title": "Clip", "duration": 212.5, "thumbnail": "https://i/t.jpg",
		"formats": [
			{"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "abr": 129.5},
			{"format_id": "136", "ext": "mp4", "vcodec": "avc1", "acodec": "none", "resolution": "1280x720", "height": 720, "filesize": 10485760},
			{"format_id": "137", "ext": "mp4", "vcodec": "avc1", "acodec": "none", "resolution": "1920x1080", "height": 1080},
			{"format_id": "18", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "height": 360}
		]
	}`)

	info, err := parseInfo(data)
	require.NoError(t, err)
	assert.Equal(t, "Clip", info.Title)
	require.Len(t, info.VideoFormats, 2)
	assert.Equal(t, "137", info.VideoFormats[0].ID)
	assert.Equal(t, "1280x720 (mp4) - ~10.0MB", info.VideoFormats[1].Label)
	require.Len(t, info.AudioFormats, 1)
	assert.Equal(t, "129.5kbps (m4a)", info.AudioFormats[0].Label)
}
