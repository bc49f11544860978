// Package sandbox defines the Runtime interface for Runbox test sandboxes.
package sandbox

import "context"

// StartOptions configures a new sandbox container.
type StartOptions struct {
	SandboxID string   // file path the sandbox runs, or model.SentinelAll
	Token     string   // correlation token echoed back in done/error signals
	Files     []string // files assigned to this sandbox
	Image     string   // Docker image name
	Env       []string // additional environment variables
	Network   string   // Docker network name
	SignalURL string   // signal channel endpoint the sandbox connects to
}

// Runtime manages sandbox container lifecycle.
type Runtime interface {
	Start(ctx context.Context, opts StartOptions) (containerID string, err error)
	Stop(ctx context.Context, containerID string) error
	SetViewport(ctx context.Context, containerID string, width, height int) error
	EnsureNetwork(ctx context.Context, name string) error
	IsRunning(ctx context.Context, containerID string) bool
}
