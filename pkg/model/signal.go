package model

// SignalType identifies a signal sent by a sandbox over the signal channel.
type SignalType string

const (
	// SignalDone reports that one or more files finished executing.
	SignalDone SignalType = "done"
	// SignalError reports that a sandbox failed.
	SignalError SignalType = "error"
	// SignalViewport asks for the sandbox's viewport to be resized.
	SignalViewport SignalType = "viewport"
)

// Signal is the wire form of a message from a sandbox. Fields beyond Type
// and the sender identity are populated per signal type.
type Signal struct {
	Type      SignalType `json:"type"`
	SandboxID string     `json:"id"`
	Token     string     `json:"token,omitempty"`

	// Done.
	Files []string `json:"files,omitempty"`

	// Error.
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`

	// Viewport.
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// AckType identifies the acknowledgement sent back for a viewport signal.
type AckType string

const (
	AckViewportDone AckType = "viewport-done"
	AckViewportFail AckType = "viewport-fail"
)

// Ack is the wire form of an acknowledgement toward a sandbox.
type Ack struct {
	Type AckType `json:"type"`
}
