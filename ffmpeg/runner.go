package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"tubemux/config"
	"tubemux/logging"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// ExecError carries the diagnostic output of a failed ffmpeg run.
type ExecError struct {
	Command string
	Output  string
	Err     error
}

func (e *ExecError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("ffmpeg execution failed: %v", e.Err)
	}
	return fmt.Sprintf("ffmpeg execution failed: %v: %s", e.Err, out)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

type Runner struct {
	cfg        *config.Config
	globalArgs []string
	logger     *slog.Logger
}

func NewRunner(cfg *config.Config, logger *slog.Logger) (*Runner, error) {
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}
	globalArgs, err := SplitCommand(cfg.FFGlobalArgs)
	if err != nil {
		return nil, err
	}
	if err := ValidateGlobalArgs(globalArgs); err != nil {
		return nil, fmt.Errorf("FF_GLOBAL_ARGS: %w", err)
	}

	return &Runner{
		cfg:        cfg,
		globalArgs: globalArgs,
		logger:     logging.NewComponentLogger(logger, "ffmpeg"),
	}, nil
}

// Run executes cmd synchronously. A failed run removes its partial output.
func (r *Runner) Run(ctx context.Context, cmd *Command) error {
	args, err := cmd.Args()
	if err != nil {
		return fmt.Errorf("invalid ffmpeg command: %w", err)
	}
	if err := r.checkResources(filepath.Dir(cmd.OutputPath())); err != nil {
		return fmt.Errorf("insufficient system resources: %w", err)
	}

	if r.cfg.FFTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.FFTimeout)
		defer cancel()
	}

	full := append(append([]string{}, r.globalArgs...), args...)
	proc := exec.CommandContext(ctx, r.cfg.FFBin, full...)
	var outputBuf bytes.Buffer
	proc.Stdout = &outputBuf
	proc.Stderr = &outputBuf

	r.logger.Debug("executing ffmpeg", "command", cmd.String())
	start := time.Now()
	if err := proc.Run(); err != nil {
		os.Remove(cmd.OutputPath())
		return &ExecError{Command: cmd.String(), Output: outputBuf.String(), Err: err}
	}
	r.logger.Debug("ffmpeg finished", "output", cmd.OutputPath(), "elapsed", time.Since(start))
	return nil
}

// checkResources verifies that the host can take another ffmpeg run.
func (r *Runner) checkResources(outputDir string) error {
	if r.cfg.ThrottleCPU > 0 {
		p, err := cpu.Percent(200*time.Millisecond, false)
		if err != nil {
			r.logger.Warn("could not get CPU usage", "error", err)
		} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
			return fmt.Errorf("not enough idle CPU. Current usage: %.2f%%, Idle threshold: %.2f%%", p[0], r.cfg.ThrottleCPU)
		}
	}

	if r.cfg.ThrottleFreeMem > 0 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			r.logger.Warn("could not get memory usage", "error", err)
		} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
			return fmt.Errorf("not enough free memory. Available: %d, Required: %d", vm.Available, r.cfg.ThrottleFreeMem)
		}
	}

	if r.cfg.ThrottleFreeDisk > 0 {
		d, err := disk.Usage(outputDir)
		if err != nil {
			r.logger.Warn("could not get disk usage", "dir", outputDir, "error", err)
		} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
			return fmt.Errorf("not enough free disk space. Available: %d, Required: %d", d.Free, r.cfg.ThrottleFreeDisk)
		}
	}
	return nil
}
