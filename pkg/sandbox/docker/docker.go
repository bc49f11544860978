// Package docker implements sandbox.Runtime using Docker containers.
package docker

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/runbox/runbox/pkg/sandbox"
)

// DefaultMemoryMB is the default container memory limit (2 GB).
const DefaultMemoryMB = 2048

// DefaultCPUs is the default CPU limit for sandbox containers.
const DefaultCPUs = 2

// viewportHelper is the in-container helper applying a viewport size to the
// sandboxed browsing context. The sandbox image ships it.
const viewportHelper = "/usr/local/bin/runbox-viewport"

// Runtime implements sandbox.Runtime using Docker.
type Runtime struct {
	dockerBin string
}

// New creates a new Docker sandbox runtime.
func New() *Runtime {
	return &Runtime{
		dockerBin: findDocker(),
	}
}

// findDocker locates the docker binary, checking PATH first and then
// well-known install locations (Docker Desktop on macOS, Homebrew, etc.).
func findDocker() string {
	if p, err := exec.LookPath("docker"); err == nil {
		return p
	}
	candidates := []string{
		"/Applications/Docker.app/Contents/Resources/bin/docker",
		"/usr/local/bin/docker",
		"/opt/homebrew/bin/docker",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return "docker"
}

func (r *Runtime) docker(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, r.dockerBin, args...)
}

// Start creates and starts a new sandbox container. Returns the container ID.
//
// The container's target is the URL-encoded sandbox identifier, and the
// container itself is fresh on every call, so the sandbox always performs a
// fresh navigation rather than reusing a cached context.
func (r *Runtime) Start(ctx context.Context, opts sandbox.StartOptions) (string, error) {
	name := containerName(opts.SandboxID, opts.Token)
	args := []string{
		"run", "-d",
		"--name", name,
		"--label", "runbox.sandbox=" + opts.SandboxID,
	}

	if opts.Network != "" {
		args = append(args, "--network", opts.Network)
	}

	// Resource limits to prevent runaway sandboxes.
	args = append(args, "--memory", fmt.Sprintf("%dm", DefaultMemoryMB))
	args = append(args, "--cpus", strconv.Itoa(DefaultCPUs))
	args = append(args, "--pids-limit", "512")

	envVars := make([]string, 0, len(opts.Env)+5)
	envVars = append(envVars, opts.Env...)
	envVars = append(envVars,
		"RUNBOX_SANDBOX_ID="+opts.SandboxID,
		"RUNBOX_TOKEN="+opts.Token,
		"RUNBOX_TARGET="+url.PathEscape(opts.SandboxID),
		"RUNBOX_FILES="+strings.Join(opts.Files, ","),
	)
	if opts.SignalURL != "" {
		envVars = append(envVars, "RUNBOX_SIGNAL_URL="+opts.SignalURL)
	}
	for _, e := range envVars {
		args = append(args, "-e", e)
	}

	args = append(args, opts.Image)

	cmd := r.docker(ctx, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("starting container: %w\noutput: %s", err, string(output))
	}

	return strings.TrimSpace(string(output)), nil
}

// Stop kills and removes a sandbox container.
func (r *Runtime) Stop(ctx context.Context, containerID string) error {
	// Kill first (ignore error if already stopped), then remove.
	_ = r.docker(ctx, "kill", containerID).Run()
	cmd := r.docker(ctx, "rm", "-f", containerID)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("removing container: %w\noutput: %s", err, string(output))
	}
	return nil
}

// SetViewport applies a viewport size inside the sandbox by invoking the
// image's viewport helper. This is the direct, headless path; when a UI
// adapter manages the hosting surface the resize goes through it instead.
func (r *Runtime) SetViewport(ctx context.Context, containerID string, width, height int) error {
	cmd := r.docker(ctx, "exec", containerID,
		viewportHelper, strconv.Itoa(width), strconv.Itoa(height))
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("setting viewport: %w\noutput: %s", err, string(output))
	}
	return nil
}

// EnsureNetwork creates the Docker network if it doesn't exist.
func (r *Runtime) EnsureNetwork(ctx context.Context, name string) error {
	check := r.docker(ctx, "network", "inspect", name)
	if check.Run() == nil {
		return nil
	}

	cmd := r.docker(ctx, "network", "create", name)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating network %q: %w\noutput: %s", name, err, string(output))
	}
	return nil
}

// IsRunning checks if a container is still running.
func (r *Runtime) IsRunning(ctx context.Context, containerID string) bool {
	cmd := r.docker(ctx, "inspect", "-f", "{{.State.Running}}", containerID)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) == "true"
}

// containerName builds a Docker-safe container name from the sandbox
// identifier and the first token segment. Identifiers are file paths, so
// everything outside [a-zA-Z0-9_.-] is flattened.
func containerName(sandboxID, token string) string {
	var b strings.Builder
	for _, c := range sandboxID {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '_', c == '.', c == '-':
			b.WriteRune(c)
		default:
			b.WriteRune('-')
		}
	}
	short := token
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("runbox-%s-%s", strings.Trim(b.String(), "-."), short)
}
