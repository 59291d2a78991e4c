package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCommand(t *testing.T) {
	args, err := SplitCommand(`-hide_banner -loglevel "error" -nostdin`)
	assert.NoError(t, err)
	assert.Equal(t, []string{"-hide_banner", "-loglevel", "error", "-nostdin"}, args)

	_, err = SplitCommand(`-loglevel "unterminated`)
	assert.Error(t, err)
}

func TestValidateGlobalArgs(t *testing.T) {
	t.Run("Valid options", func(t *testing.T) {
		args, _ := SplitCommand(`-hide_banner -nostdin -loglevel error -threads 2`)
		assert.NoError(t, ValidateGlobalArgs(args))
	})

	t.Run("Input is rejected", func(t *testing.T) {
		args, _ := SplitCommand(`-i /etc/passwd`)
		err := ValidateGlobalArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "must not contain -i")
	})

	t.Run("Disallowed character (semicolon)", func(t *testing.T) {
		args, _ := SplitCommand(`-loglevel error; ls`)
		err := ValidateGlobalArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: error;")
	})

	t.Run("Stray positional argument", func(t *testing.T) {
		args, _ := SplitCommand(`-nostdin -loglevel error out.mkv`)
		err := ValidateGlobalArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected positional argument: out.mkv")
	})
}

func TestValidatePath(t *testing.T) {
	assert.NoError(t, ValidatePath("downloads/video/Chan/Title; rm -rf _720.mkv"))
	assert.Error(t, ValidatePath("-y.mkv"))
	assert.Error(t, ValidatePath("bad\nname.mkv"))
	assert.Error(t, ValidatePath("   "))
}
