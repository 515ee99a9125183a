package relay

// Message is a single unit of relay traffic. The set of implementations is
// closed: every kind below has exactly one concrete type, and Unknown stands
// in for anything the decoder did not recognise.
type Message interface {
	Kind() Kind
	// RequestID is the correlation id shared by a request and its reply.
	// It is empty for unsolicited messages such as a locally triggered capture.
	RequestID() string
	isMessage()
}

// CaptureTaken is emitted by the source context after a successful capture.
type CaptureTaken struct {
	ID        string
	Image     string
	Timestamp float64
	Source    string
}

// CaptureResult is the coordinator's fan-out of a CaptureTaken.
type CaptureResult struct {
	ID        string
	Image     string
	Timestamp float64
	Source    string
}

// RemoteCaptureRequest asks the coordinator for a frame from the current source.
type RemoteCaptureRequest struct {
	ID string
}

// RemoteCaptureCommand tells the source context to capture a frame.
type RemoteCaptureCommand struct {
	ID string
}

// RemoteSeekRequest asks the coordinator to seek the current source.
type RemoteSeekRequest struct {
	ID        string
	Timestamp float64
}

// SeekCommand tells the source context to seek.
type SeekCommand struct {
	ID        string
	Timestamp float64
}

// SeekAck reports the playback position the source actually applied.
type SeekAck struct {
	ID        string
	Timestamp float64
}

// SeekDone is the coordinator's forward of a SeekAck to the requester.
type SeekDone struct {
	ID        string
	Timestamp float64
}

// ErrorReport carries a failure back to the requester.
type ErrorReport struct {
	ID      string
	Code    ErrorCode
	Message string
}

// VideoRectQuery asks the source for its playback position and duration.
type VideoRectQuery struct {
	ID string
}

// VideoRect answers a VideoRectQuery.
type VideoRect struct {
	ID          string
	CurrentTime float64
	Duration    float64
}

// Unknown is a message whose kind the decoder did not recognise.
type Unknown struct {
	Type string
	ID   string
}

func (CaptureTaken) Kind() Kind         { return KindCaptureTaken }
func (CaptureResult) Kind() Kind        { return KindCaptureResult }
func (RemoteCaptureRequest) Kind() Kind { return KindRemoteCaptureRequest }
func (RemoteCaptureCommand) Kind() Kind { return KindRemoteCaptureCommand }
func (RemoteSeekRequest) Kind() Kind    { return KindRemoteSeekRequest }
func (SeekCommand) Kind() Kind          { return KindSeekCommand }
func (SeekAck) Kind() Kind              { return KindSeekAck }
func (SeekDone) Kind() Kind             { return KindSeekDone }
func (ErrorReport) Kind() Kind          { return KindError }
func (VideoRectQuery) Kind() Kind       { return KindVideoRectQuery }
func (VideoRect) Kind() Kind            { return KindVideoRect }
func (u Unknown) Kind() Kind            { return Kind(u.Type) }

func (m CaptureTaken) RequestID() string         { return m.ID }
func (m CaptureResult) RequestID() string        { return m.ID }
func (m RemoteCaptureRequest) RequestID() string { return m.ID }
func (m RemoteCaptureCommand) RequestID() string { return m.ID }
func (m RemoteSeekRequest) RequestID() string    { return m.ID }
func (m SeekCommand) RequestID() string          { return m.ID }
func (m SeekAck) RequestID() string              { return m.ID }
func (m SeekDone) RequestID() string             { return m.ID }
func (m ErrorReport) RequestID() string          { return m.ID }
func (m VideoRectQuery) RequestID() string       { return m.ID }
func (m VideoRect) RequestID() string            { return m.ID }
func (m Unknown) RequestID() string              { return m.ID }

func (CaptureTaken) isMessage()         {}
func (CaptureResult) isMessage()        {}
func (RemoteCaptureRequest) isMessage() {}
func (RemoteCaptureCommand) isMessage() {}
func (RemoteSeekRequest) isMessage()    {}
func (SeekCommand) isMessage()          {}
func (SeekAck) isMessage()              {}
func (SeekDone) isMessage()             {}
func (ErrorReport) isMessage()          {}
func (VideoRectQuery) isMessage()       {}
func (VideoRect) isMessage()            {}
func (Unknown) isMessage()              {}

// Err returns the sentinel error matching the report's code.
func (m ErrorReport) Err() error {
	return m.Code.Err()
}
