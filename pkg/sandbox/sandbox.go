package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"github.com/campusgrid/campusgrid/pkg/log"
	"github.com/campusgrid/campusgrid/pkg/types"
)

// MaxOutputFileSize caps individual collected artifacts at 10 MiB;
// larger files are skipped with a warning.
const MaxOutputFileSize = 10 << 20

const pipInstallTimeout = 60 * time.Second

// Config tunes the sandbox
type Config struct {
	UseDocker     bool
	Image         string // container image for Docker mode
	MemoryLimitMB int64  // container memory cap
	PidsLimit     int64  // container process cap
}

// DefaultConfig returns the documented sandbox defaults
func DefaultConfig() Config {
	return Config{
		UseDocker:     true,
		Image:         "python:3.11-slim",
		MemoryLimitMB: 1024,
		PidsLimit:     200,
	}
}

// Executor runs untrusted job code. When Docker is requested and reachable
// jobs run in a network-disabled, resource-limited container; otherwise a
// restricted subprocess fallback is used.
type Executor struct {
	cfg    Config
	docker *client.Client // nil in restricted mode
	logger zerolog.Logger
}

// New builds an Executor, probing the Docker daemon when cfg.UseDocker is
// set. A missing or unreachable daemon degrades to restricted mode rather
// than failing.
func New(cfg Config) *Executor {
	e := &Executor{
		cfg:    cfg,
		logger: log.WithComponent("sandbox"),
	}

	if cfg.UseDocker {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, perr := cli.Ping(ctx)
			cancel()
			if perr == nil {
				e.docker = cli
			} else {
				cli.Close()
				err = perr
			}
		}
		if e.docker == nil {
			e.logger.Warn().Err(err).Msg("docker unavailable, falling back to restricted mode")
		}
	}

	if e.docker != nil {
		e.logger.Info().Str("image", cfg.Image).Msg("docker sandbox enabled")
	} else {
		e.logger.Info().Msg("running in restricted mode")
	}
	return e
}

// DockerEnabled reports whether jobs run in containers
func (e *Executor) DockerEnabled() bool {
	return e.docker != nil
}

// Close releases the Docker client
func (e *Executor) Close() error {
	if e.docker != nil {
		return e.docker.Close()
	}
	return nil
}

// Execute runs code with the given timeout and optional pip requirements.
// It never returns an error; failures are reported in the result so the
// worker always has something to send back.
func (e *Executor) Execute(ctx context.Context, code, requirements string, timeout time.Duration) types.ExecutionResult {
	if e.docker != nil {
		return e.executeDocker(ctx, code, requirements, timeout)
	}
	return e.executeRestricted(ctx, code, requirements, timeout)
}

func (e *Executor) executeDocker(ctx context.Context, code, requirements string, timeout time.Duration) types.ExecutionResult {
	scratch, outputDir, err := materialize(code, requirements)
	if err != nil {
		return failure(err.Error())
	}
	defer os.RemoveAll(scratch)

	runCmd := "python /app/job.py"
	if requirements != "" {
		runCmd = "pip install -q -r /app/requirements.txt && python /app/job.py"
	}

	// best effort; the create call fails anyway if the image is truly absent
	if rc, err := e.docker.ImagePull(ctx, e.cfg.Image, image.PullOptions{}); err == nil {
		io.Copy(io.Discard, rc)
		rc.Close()
	}

	pids := e.cfg.PidsLimit
	created, err := e.docker.ContainerCreate(ctx,
		&container.Config{
			Image:      e.cfg.Image,
			Cmd:        []string{"sh", "-c", runCmd},
			WorkingDir: "/app",
			Env: []string{
				"OUTPUT_DIR=/output",
				"PYTHONUNBUFFERED=1",
			},
		},
		&container.HostConfig{
			Binds: []string{
				scratch + ":/app",
				outputDir + ":/output",
			},
			NetworkMode: "none",
			Resources: container.Resources{
				Memory:    e.cfg.MemoryLimitMB << 20,
				CPUPeriod: 100000,
				CPUQuota:  100000,
				PidsLimit: &pids,
			},
		},
		nil, nil, "")
	if err != nil {
		return failure(fmt.Sprintf("failed to create container: %v", err))
	}
	defer e.docker.ContainerRemove(context.Background(), created.ID,
		container.RemoveOptions{Force: true})

	if err := e.docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return failure(fmt.Sprintf("failed to start container: %v", err))
	}
	e.logger.Debug().Str("container", created.ID[:12]).Msg("container started")

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var exitCode int64
	statusCh, errCh := e.docker.ContainerWait(waitCtx, created.ID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		exitCode = status.StatusCode
	case err := <-errCh:
		// typically the wait context expiring; anything else is fatal too
		e.docker.ContainerKill(context.Background(), created.ID, "KILL")
		if waitCtx.Err() != nil {
			return failure(fmt.Sprintf("job timed out after %d seconds", int(timeout.Seconds())))
		}
		return failure(fmt.Sprintf("container wait failed: %v", err))
	}

	output := e.containerLogs(created.ID)
	result := types.ExecutionResult{
		Success: exitCode == 0,
		Output:  output,
		Files:   collectFiles(outputDir),
	}
	if exitCode != 0 {
		result.Error = fmt.Sprintf("exit code: %d", exitCode)
	}
	return result
}

func (e *Executor) containerLogs(id string) string {
	rc, err := e.docker.ContainerLogs(context.Background(), id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to read container logs")
		return ""
	}
	defer rc.Close()

	var buf bytes.Buffer
	stdcopy.StdCopy(&buf, &buf, rc)
	return buf.String()
}

func (e *Executor) executeRestricted(ctx context.Context, code, requirements string, timeout time.Duration) types.ExecutionResult {
	python, err := pythonBinary()
	if err != nil {
		return failure("no python interpreter available")
	}

	scratch, outputDir, err := materialize("", "")
	if err != nil {
		return failure(err.Error())
	}
	defer os.RemoveAll(scratch)

	// the wrapper needs the real output path, which only exists now
	codePath := filepath.Join(scratch, "job.py")
	wrapped := wrapRestricted(code, outputDir)
	if err := os.WriteFile(codePath, []byte(wrapped), 0644); err != nil {
		return failure(fmt.Sprintf("failed to write job code: %v", err))
	}

	e.installRequirements(ctx, python, requirements)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, python, codePath)
	cmd.Dir = scratch
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return failure(fmt.Sprintf("job timed out after %d seconds", int(timeout.Seconds())))
	}

	files := collectFiles(outputDir)
	files = append(files, collectFiles(scratch, "job.py", "output")...)

	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n[STDERR]\n" + stderr.String()
	}

	result := types.ExecutionResult{
		Success: runErr == nil,
		Output:  output,
		Files:   files,
	}
	if runErr != nil {
		result.Error = stderr.String()
		if result.Error == "" {
			result.Error = runErr.Error()
		}
	}
	return result
}

// installRequirements installs pip packages one line at a time so a single
// bad requirement does not sink the rest. Failures are logged, not fatal;
// the job itself surfaces any missing import.
func (e *Executor) installRequirements(ctx context.Context, python, requirements string) {
	for _, line := range strings.Split(requirements, "\n") {
		req := strings.TrimSpace(line)
		if req == "" {
			continue
		}
		pipCtx, cancel := context.WithTimeout(ctx, pipInstallTimeout)
		err := exec.CommandContext(pipCtx, python, "-m", "pip", "install", "-q", req).Run()
		cancel()
		if err != nil {
			e.logger.Warn().Str("requirement", req).Err(err).Msg("pip install failed")
		} else {
			e.logger.Debug().Str("requirement", req).Msg("requirement installed")
		}
	}
}

// materialize lays out the per-job scratch directory with an output/
// subdir, writing job.py and requirements.txt when non-empty.
func materialize(code, requirements string) (scratch, outputDir string, err error) {
	scratch, err = os.MkdirTemp("", "campusgrid-job-")
	if err != nil {
		return "", "", fmt.Errorf("failed to create scratch dir: %w", err)
	}

	cleanup := func(e error) (string, string, error) {
		os.RemoveAll(scratch)
		return "", "", e
	}

	outputDir = filepath.Join(scratch, "output")
	if err := os.Mkdir(outputDir, 0755); err != nil {
		return cleanup(fmt.Errorf("failed to create output dir: %w", err))
	}

	if code != "" {
		if err := os.WriteFile(filepath.Join(scratch, "job.py"), []byte(code), 0644); err != nil {
			return cleanup(fmt.Errorf("failed to write job code: %w", err))
		}
	}
	if requirements != "" {
		if err := os.WriteFile(filepath.Join(scratch, "requirements.txt"), []byte(requirements), 0644); err != nil {
			return cleanup(fmt.Errorf("failed to write requirements: %w", err))
		}
	}
	return scratch, outputDir, nil
}

// collectFiles gathers artifacts from dir as base64 payloads, skipping
// subdirectories, excluded names, and files over MaxOutputFileSize.
func collectFiles(dir string, exclude ...string) []types.OutputFile {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	logger := log.WithComponent("sandbox")
	var files []types.OutputFile
	for _, entry := range entries {
		if entry.IsDir() || contains(exclude, entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > MaxOutputFileSize {
			logger.Warn().Str("file", entry.Name()).Int64("size", info.Size()).
				Msg("output file too large, skipping")
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logger.Warn().Str("file", entry.Name()).Err(err).Msg("failed to collect output file")
			continue
		}
		files = append(files, types.OutputFile{
			Filename: entry.Name(),
			Size:     info.Size(),
			Content:  base64.StdEncoding.EncodeToString(data),
		})
	}
	return files
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func pythonBinary() (string, error) {
	if path, err := exec.LookPath("python3"); err == nil {
		return path, nil
	}
	return exec.LookPath("python")
}

func failure(errMsg string) types.ExecutionResult {
	return types.ExecutionResult{Success: false, Error: errMsg}
}

// wrapRestricted prepends the sandbox preamble to user code. It gives
// restricted jobs the same OUTPUT_DIR contract and save helpers the Docker
// environment has.
func wrapRestricted(code, outputDir string) string {
	return fmt.Sprintf(restrictedWrapper, outputDir) + code + "\n"
}

const restrictedWrapper = `import sys
import os

OUTPUT_DIR = %q
os.makedirs(OUTPUT_DIR, exist_ok=True)

def save_output(filename, content):
    filepath = os.path.join(OUTPUT_DIR, filename)
    with open(filepath, "w") as f:
        f.write(content)
    print("[OUTPUT] Saved: " + filename)
    return filepath

def save_binary(filename, content):
    filepath = os.path.join(OUTPUT_DIR, filename)
    with open(filepath, "wb") as f:
        f.write(content)
    print("[OUTPUT] Saved binary: " + filename)
    return filepath

`
