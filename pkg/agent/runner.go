package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/stakeops/warden/pkg/types"
)

// Commander runs external programs. Sequences go through this
// interface so tests can script every host interaction.
type Commander interface {
	// Run executes a program with an argument vector and returns its
	// stdout when it exits zero.
	Run(ctx context.Context, name string, args ...string) (string, error)

	// Shell executes a raw command line via sh -c. Only the explicit
	// shell endpoint uses this path.
	Shell(ctx context.Context, command string) (string, error)
}

// ProcessError carries a non-zero subprocess exit with whichever
// stream had content.
type ProcessError struct {
	Cmd      string
	ExitCode int
	Output   string
}

func (e *ProcessError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s exited with code %d", e.Cmd, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Cmd, e.ExitCode, e.Output)
}

// execCommander is the production Commander backed by os/exec
type execCommander struct{}

// NewCommander returns the host-backed Commander.
func NewCommander() Commander {
	return &execCommander{}
}

func (c *execCommander) Run(ctx context.Context, name string, args ...string) (string, error) {
	return runCmd(ctx, exec.CommandContext(ctx, name, args...), name)
}

func (c *execCommander) Shell(ctx context.Context, command string) (string, error) {
	return runCmd(ctx, exec.CommandContext(ctx, "sh", "-c", command), "sh -c "+command)
}

func runCmd(ctx context.Context, cmd *exec.Cmd, label string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %s: %v", types.ErrTimeout, label, ctx.Err())
	}

	out := strings.TrimSpace(stderr.String())
	if out == "" {
		out = strings.TrimSpace(stdout.String())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", &ProcessError{Cmd: label, ExitCode: exitErr.ExitCode(), Output: out}
	}
	return "", fmt.Errorf("running %s: %w", label, err)
}

// Runner wraps a Commander with the host operations the sequences use.
// It holds no state beyond the Commander itself.
type Runner struct {
	cmd Commander
}

// NewRunner creates a Runner on top of cmd.
func NewRunner(cmd Commander) *Runner {
	return &Runner{cmd: cmd}
}

// Run passes through to the underlying Commander.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (string, error) {
	return r.cmd.Run(ctx, name, args...)
}

// Shell passes through to the underlying Commander.
func (r *Runner) Shell(ctx context.Context, command string) (string, error) {
	return r.cmd.Shell(ctx, command)
}

// ServiceStart starts a systemd unit.
func (r *Runner) ServiceStart(ctx context.Context, service string) error {
	_, err := r.cmd.Run(ctx, "systemctl", "start", service)
	if err != nil {
		return fmt.Errorf("starting %s: %w", service, err)
	}
	return nil
}

// ServiceStop stops a systemd unit.
func (r *Runner) ServiceStop(ctx context.Context, service string) error {
	_, err := r.cmd.Run(ctx, "systemctl", "stop", service)
	if err != nil {
		return fmt.Errorf("stopping %s: %w", service, err)
	}
	return nil
}

// ServiceStatus returns the unit's activation state as reported by
// systemctl is-active: "active", "inactive", "failed", ... is-active
// exits non-zero for anything but active, so a ProcessError with
// output is a state, not a failure.
func (r *Runner) ServiceStatus(ctx context.Context, service string) (string, error) {
	out, err := r.cmd.Run(ctx, "systemctl", "is-active", service)
	if err != nil {
		var pe *ProcessError
		if errors.As(err, &pe) && pe.Output != "" {
			return strings.TrimSpace(pe.Output), nil
		}
		return "", fmt.Errorf("querying %s: %w", service, err)
	}
	return strings.TrimSpace(out), nil
}

// ServiceUptime returns seconds since the unit last became active.
func (r *Runner) ServiceUptime(ctx context.Context, service string) (int64, error) {
	out, err := r.cmd.Run(ctx, "systemctl", "show", service, "--property=ActiveEnterTimestamp")
	if err != nil {
		return 0, fmt.Errorf("querying %s: %w", service, err)
	}
	value := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "ActiveEnterTimestamp="))
	if value == "" || value == "n/a" {
		return 0, fmt.Errorf("%w: %s has no active timestamp", types.ErrNotFound, service)
	}
	// systemd format: "Mon 2026-01-12 10:30:00 UTC"
	ts, err := time.Parse("Mon 2006-01-02 15:04:05 MST", value)
	if err != nil {
		return 0, fmt.Errorf("parsing uptime %q: %v", value, err)
	}
	return int64(time.Since(ts).Seconds()), nil
}

// FileExists reports whether path names an existing file or directory.
func (r *Runner) FileExists(ctx context.Context, path string) bool {
	_, err := r.cmd.Run(ctx, "test", "-e", path)
	return err == nil
}

// DirExists reports whether path names an existing directory.
func (r *Runner) DirExists(ctx context.Context, path string) bool {
	_, err := r.cmd.Run(ctx, "test", "-d", path)
	return err == nil
}

// CopyFile copies src to dst preserving mode and timestamps.
func (r *Runner) CopyFile(ctx context.Context, src, dst string) error {
	if _, err := r.cmd.Run(ctx, "cp", "-p", src, dst); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return nil
}

// Delete removes a path recursively.
func (r *Runner) Delete(ctx context.Context, path string) error {
	if _, err := r.cmd.Run(ctx, "rm", "-rf", path); err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

// MkdirAll creates a directory and any missing parents.
func (r *Runner) MkdirAll(ctx context.Context, path string) error {
	if _, err := r.cmd.Run(ctx, "mkdir", "-p", path); err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	return nil
}

// FileSize returns the size of path in bytes.
func (r *Runner) FileSize(ctx context.Context, path string) (int64, error) {
	out, err := r.cmd.Run(ctx, "stat", "-c", "%s", path)
	if err != nil {
		return 0, fmt.Errorf("sizing %s: %w", path, err)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing size of %s: %v", path, err)
	}
	return size, nil
}

// Owner returns "user:group" of path.
func (r *Runner) Owner(ctx context.Context, path string) (string, error) {
	out, err := r.cmd.Run(ctx, "stat", "-c", "%U:%G", path)
	if err != nil {
		return "", fmt.Errorf("reading owner of %s: %w", path, err)
	}
	return strings.TrimSpace(out), nil
}

// Chown recursively sets "user:group" ownership on path.
func (r *Runner) Chown(ctx context.Context, owner, path string) error {
	if _, err := r.cmd.Run(ctx, "chown", "-R", owner, path); err != nil {
		return fmt.Errorf("chowning %s: %w", path, err)
	}
	return nil
}

// CreateArchive writes a gzip tar of members (relative to workDir)
// into archivePath.
func (r *Runner) CreateArchive(ctx context.Context, archivePath, workDir string, members ...string) error {
	args := append([]string{"-czf", archivePath, "-C", workDir}, members...)
	if _, err := r.cmd.Run(ctx, "tar", args...); err != nil {
		return fmt.Errorf("archiving into %s: %w", archivePath, err)
	}
	return nil
}

// ExtractArchive unpacks archivePath into destDir, choosing the codec
// from the archive extension. Returns the codec name.
func (r *Runner) ExtractArchive(ctx context.Context, archivePath, destDir string) (string, error) {
	codec, flag := archiveCodec(archivePath)
	args := []string{}
	if flag != "" {
		args = append(args, flag)
	}
	args = append(args, "-xf", archivePath, "-C", destDir)
	if _, err := r.cmd.Run(ctx, "tar", args...); err != nil {
		return "", fmt.Errorf("extracting %s: %w", archivePath, err)
	}
	return codec, nil
}

func archiveCodec(path string) (name, tarFlag string) {
	base := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(base, ".tar.gz"), strings.HasSuffix(base, ".tgz"):
		return "gzip", "--gzip"
	case strings.HasSuffix(base, ".tar.xz"):
		return "xz", "--xz"
	case strings.HasSuffix(base, ".tar.zst"):
		return "zstd", "--zstd"
	case strings.HasSuffix(base, ".tar.lz4"):
		return "lz4", "--use-compress-program=lz4"
	}
	return "none", ""
}

// TruncateLog empties a log file in place.
func (r *Runner) TruncateLog(ctx context.Context, path string) error {
	if _, err := r.cmd.Run(ctx, "truncate", "-s", "0", path); err != nil {
		return fmt.Errorf("truncating %s: %w", path, err)
	}
	return nil
}

// DeleteLogs removes a log file and its rotated siblings.
func (r *Runner) DeleteLogs(ctx context.Context, path string) error {
	if _, err := r.cmd.Shell(ctx, fmt.Sprintf("rm -f %s %s.*", shellQuote(path), shellQuote(path))); err != nil {
		return fmt.Errorf("deleting logs %s: %w", path, err)
	}
	return nil
}

// Tail returns the last n lines of path.
func (r *Runner) Tail(ctx context.Context, path string, n int) (string, error) {
	out, err := r.cmd.Run(ctx, "tail", "-n", strconv.Itoa(n), path)
	if err != nil {
		return "", fmt.Errorf("tailing %s: %w", path, err)
	}
	return out, nil
}

// LatestArchive resolves the newest archive matching prefix_*.tar.gz
// under dir, or ErrNotFound when none exist. The glob stays outside
// the quoting so the shell still expands it.
func (r *Runner) LatestArchive(ctx context.Context, dir, prefix string) (string, error) {
	pattern := fmt.Sprintf("%s/%s_*.tar.gz", shellQuote(dir), shellQuote(prefix))
	out, err := r.cmd.Shell(ctx, fmt.Sprintf("ls -1t %s 2>/dev/null | head -n 1", pattern))
	if err != nil {
		return "", fmt.Errorf("listing archives in %s: %w", dir, err)
	}
	path := strings.TrimSpace(out)
	if path == "" {
		return "", fmt.Errorf("%w: no %s_*.tar.gz archive under %s", types.ErrNotFound, prefix, dir)
	}
	return path, nil
}

// shellQuote single-quotes s for safe interpolation into sh -c lines.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
