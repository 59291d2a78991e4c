package ffmpeg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Command is a structured ffmpeg invocation. Paths and tags are validated as
// they are added, and files are always addressed through the file: protocol
// so a crafted title can never select another ffmpeg protocol.
type Command struct {
	args   []string
	output string
	err    error
}

// NewCommand starts an overwrite-enabled invocation.
func NewCommand() *Command {
	return &Command{args: []string{"-y"}}
}

func (c *Command) fail(err error) *Command {
	if c.err == nil {
		c.err = err
	}
	return c
}

// Input appends an input file.
func (c *Command) Input(path string) *Command {
	if err := ValidatePath(path); err != nil {
		return c.fail(fmt.Errorf("input: %w", err))
	}
	c.args = append(c.args, "-i", "file:"+path)
	return c
}

// Map selects a stream, e.g. "0:v:0".
func (c *Command) Map(spec string) *Command {
	for _, r := range spec {
		if !(r >= '0' && r <= '9' || r == ':' || r == 'a' || r == 'v' || r == 's' || r == '?') {
			return c.fail(fmt.Errorf("invalid map spec %q", spec))
		}
	}
	c.args = append(c.args, "-map", spec)
	return c
}

// Codec sets the codec for a stream selector such as "v", "a" or "s".
func (c *Command) Codec(stream, codec string) *Command {
	if err := ValidateTag(stream); err != nil {
		return c.fail(err)
	}
	if err := ValidateTag(codec); err != nil {
		return c.fail(err)
	}
	c.args = append(c.args, "-c:"+stream, codec)
	return c
}

// NoVideo drops every video stream (including embedded cover art).
func (c *Command) NoVideo() *Command {
	c.args = append(c.args, "-vn")
	return c
}

// AudioBitrate sets the target audio bitrate, e.g. "27k".
func (c *Command) AudioBitrate(rate string) *Command {
	if err := ValidateTag(rate); err != nil {
		return c.fail(err)
	}
	c.args = append(c.args, "-b:a", rate)
	return c
}

// AudioChannels sets the output channel count.
func (c *Command) AudioChannels(n int) *Command {
	c.args = append(c.args, "-ac", strconv.Itoa(n))
	return c
}

// SampleRate sets the output audio sample rate in Hz.
func (c *Command) SampleRate(hz int) *Command {
	c.args = append(c.args, "-ar", strconv.Itoa(hz))
	return c
}

// StreamLanguage tags an output stream, e.g. ("s:0", "eng").
func (c *Command) StreamLanguage(stream, lang string) *Command {
	if err := ValidateTag(lang); err != nil {
		return c.fail(err)
	}
	c.args = append(c.args, "-metadata:s:"+stream, "language="+lang)
	return c
}

// Output sets the output file; it must be the last call.
func (c *Command) Output(path string) *Command {
	if err := ValidatePath(path); err != nil {
		return c.fail(fmt.Errorf("output: %w", err))
	}
	c.output = path
	return c
}

// OutputPath is the plain filesystem path of the output.
func (c *Command) OutputPath() string {
	return c.output
}

// Args returns the argument list, without the binary name.
func (c *Command) Args() ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.output == "" {
		return nil, errors.New("command has no output")
	}
	args := make([]string, 0, len(c.args)+1)
	args = append(args, c.args...)
	return append(args, "file:"+c.output), nil
}

// String renders the command for logs.
func (c *Command) String() string {
	args, err := c.Args()
	if err != nil {
		return fmt.Sprintf("<invalid command: %v>", err)
	}
	quoted := make([]string, len(args))
	for i, arg := range args {
		if strings.ContainsAny(arg, " \t'\"\\") {
			arg = strconv.Quote(arg)
		}
		quoted[i] = arg
	}
	return strings.Join(quoted, " ")
}
