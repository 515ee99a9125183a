package relay

import (
	"encoding/json"
	"fmt"
)

// envelope is the flat JSON shape every relay message travels in.
type envelope struct {
	Kind        Kind      `json:"kind"`
	RequestID   string    `json:"request_id,omitempty"`
	Image       string    `json:"image,omitempty"`
	Timestamp   *float64  `json:"timestamp,omitempty"`
	Source      string    `json:"source,omitempty"`
	Code        ErrorCode `json:"code,omitempty"`
	Message     string    `json:"message,omitempty"`
	CurrentTime *float64  `json:"current_time,omitempty"`
	Duration    *float64  `json:"duration,omitempty"`
}

// Encode marshals m into its wire form.
func Encode(m Message) ([]byte, error) {
	env := envelope{Kind: m.Kind(), RequestID: m.RequestID()}
	switch v := m.(type) {
	case CaptureTaken:
		env.Image, env.Timestamp, env.Source = v.Image, &v.Timestamp, v.Source
	case CaptureResult:
		env.Image, env.Timestamp, env.Source = v.Image, &v.Timestamp, v.Source
	case RemoteCaptureRequest, RemoteCaptureCommand, VideoRectQuery:
	case RemoteSeekRequest:
		env.Timestamp = &v.Timestamp
	case SeekCommand:
		env.Timestamp = &v.Timestamp
	case SeekAck:
		env.Timestamp = &v.Timestamp
	case SeekDone:
		env.Timestamp = &v.Timestamp
	case ErrorReport:
		env.Code, env.Message = v.Code, v.Message
	case VideoRect:
		env.CurrentTime, env.Duration = &v.CurrentTime, &v.Duration
	case Unknown:
		return nil, fmt.Errorf("encode %q: %w", v.Type, ErrUnknownKind)
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnknownKind)
	}
	return json.Marshal(env)
}

// Decode parses a wire message. A well-formed message of an unrecognised kind
// decodes to Unknown without error; malformed JSON or a message missing a
// required field is an error.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode relay message: %w", err)
	}
	id := env.RequestID
	switch env.Kind {
	case KindCaptureTaken:
		ts, err := required(env.Kind, "timestamp", env.Timestamp)
		if err != nil {
			return nil, err
		}
		return CaptureTaken{ID: id, Image: env.Image, Timestamp: ts, Source: env.Source}, nil
	case KindCaptureResult:
		ts, err := required(env.Kind, "timestamp", env.Timestamp)
		if err != nil {
			return nil, err
		}
		return CaptureResult{ID: id, Image: env.Image, Timestamp: ts, Source: env.Source}, nil
	case KindRemoteCaptureRequest:
		return RemoteCaptureRequest{ID: id}, nil
	case KindRemoteCaptureCommand:
		return RemoteCaptureCommand{ID: id}, nil
	case KindRemoteSeekRequest:
		ts, err := required(env.Kind, "timestamp", env.Timestamp)
		if err != nil {
			return nil, err
		}
		return RemoteSeekRequest{ID: id, Timestamp: ts}, nil
	case KindSeekCommand:
		ts, err := required(env.Kind, "timestamp", env.Timestamp)
		if err != nil {
			return nil, err
		}
		return SeekCommand{ID: id, Timestamp: ts}, nil
	case KindSeekAck:
		ts, err := required(env.Kind, "timestamp", env.Timestamp)
		if err != nil {
			return nil, err
		}
		return SeekAck{ID: id, Timestamp: ts}, nil
	case KindSeekDone:
		ts, err := required(env.Kind, "timestamp", env.Timestamp)
		if err != nil {
			return nil, err
		}
		return SeekDone{ID: id, Timestamp: ts}, nil
	case KindError:
		return ErrorReport{ID: id, Code: env.Code, Message: env.Message}, nil
	case KindVideoRectQuery:
		return VideoRectQuery{ID: id}, nil
	case KindVideoRect:
		var cur, dur float64
		if env.CurrentTime != nil {
			cur = *env.CurrentTime
		}
		if env.Duration != nil {
			dur = *env.Duration
		}
		return VideoRect{ID: id, CurrentTime: cur, Duration: dur}, nil
	default:
		return Unknown{Type: string(env.Kind), ID: id}, nil
	}
}

func required(k Kind, field string, v *float64) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("decode %s: missing %s", k, field)
	}
	return *v, nil
}
