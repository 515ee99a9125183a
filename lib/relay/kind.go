package relay

// Kind identifies a relay message on the wire.
type Kind string

const (
	KindCaptureTaken         Kind = "capture-taken"
	KindCaptureResult        Kind = "capture-result"
	KindRemoteCaptureRequest Kind = "remote-capture-request"
	KindRemoteCaptureCommand Kind = "remote-capture-command"
	KindRemoteSeekRequest    Kind = "remote-seek-request"
	KindSeekCommand          Kind = "seek-command"
	KindSeekAck              Kind = "seek-ack"
	KindSeekDone             Kind = "seek-done"
	KindError                Kind = "error"
	KindVideoRectQuery       Kind = "video-rect-query"
	KindVideoRect            Kind = "video-rect"
)

// Kinds lists every kind the relay understands.
var Kinds = []Kind{
	KindCaptureTaken,
	KindCaptureResult,
	KindRemoteCaptureRequest,
	KindRemoteCaptureCommand,
	KindRemoteSeekRequest,
	KindSeekCommand,
	KindSeekAck,
	KindSeekDone,
	KindError,
	KindVideoRectQuery,
	KindVideoRect,
}

// ContextKind is the role a connected context plays in the relay.
type ContextKind string

const (
	// ContextSource hosts the FrameSource (the video page and its origin bridge).
	ContextSource ContextKind = "source"
	// ContextPanel is the secondary UI surface.
	ContextPanel ContextKind = "panel"
	// ContextWebApp is the bridge running inside the web application origin.
	ContextWebApp ContextKind = "webapp"
)

// Valid reports whether k is one of the known context kinds.
func (k ContextKind) Valid() bool {
	switch k {
	case ContextSource, ContextPanel, ContextWebApp:
		return true
	}
	return false
}

// ContextID is a stable identifier for one connected context.
type ContextID string
