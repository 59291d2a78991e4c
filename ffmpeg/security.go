package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// ValidateGlobalArgs checks operator-supplied arguments that are prepended to
// every ffmpeg invocation. They may only be options; inputs and outputs are
// always chosen by the pipeline.
func ValidateGlobalArgs(args []string) error {
	for i, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
		if arg == "-i" || arg == "-y" || arg == "-n" {
			return fmt.Errorf("global arguments must not contain %s", arg)
		}
		// Every value must follow an option, so bare paths cannot sneak in.
		if !strings.HasPrefix(arg, "-") && (i == 0 || !strings.HasPrefix(args[i-1], "-")) {
			return fmt.Errorf("unexpected positional argument: %s", arg)
		}
	}
	return nil
}

// ValidatePath rejects externally derived paths that ffmpeg could mistake for
// an option or that carry characters no media path needs.
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("empty path")
	}
	if strings.HasPrefix(path, "-") {
		return fmt.Errorf("path must not start with '-': %s", path)
	}
	for _, r := range path {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("control character in path %q", path)
		}
	}
	return nil
}

// ValidateTag checks a short token such as a language code or bitrate.
func ValidateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("empty tag")
	}
	for _, r := range tag {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '_') {
			return fmt.Errorf("invalid character %q in tag %q", r, tag)
		}
	}
	return nil
}
