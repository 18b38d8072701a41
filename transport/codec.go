package transport

import (
	"github.com/monzo/terrors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// FrameKind discriminates the frames exchanged over an indicator connection.
type FrameKind string

const (
	// KindRegister is sent by the indicator as the first frame on a connection.
	KindRegister FrameKind = "register"
	// KindConfig carries the EndPoint's init config back to an accepted indicator.
	KindConfig FrameKind = "config"
	// KindInvoke asks the indicator for its metrics.
	KindInvoke FrameKind = "invoke"
	// KindResult answers a KindInvoke frame with the same ID.
	KindResult FrameKind = "result"
)

// A Frame is one message on an indicator connection. Only the fields relevant to its Kind are encoded.
type Frame struct {
	Kind         FrameKind
	ID           string
	Registration Registration
	Config       map[string]interface{}
	Invocation   Invocation
	Outcome      Outcome
}

// MarshalFrame encodes a frame as a protobuf Struct. Payloads must be representable as structpb values: nil, bools,
// numbers, strings, []interface{} and map[string]interface{}.
func MarshalFrame(f Frame) ([]byte, error) {
	m := map[string]interface{}{
		"kind": string(f.Kind),
		"id":   f.ID}
	switch f.Kind {
	case KindRegister:
		m["group"] = f.Registration.Group
		m["app"] = f.Registration.AppName
		m["indicator"] = f.Registration.IndicatorName
		m["type"] = string(f.Registration.Type)
	case KindConfig:
		cfg := f.Config
		if cfg == nil {
			cfg = map[string]interface{}{}
		}
		m["config"] = cfg
	case KindInvoke:
		m["args"] = f.Invocation.Args
	case KindResult:
		m["app"] = f.Outcome.AppName
		m["results"] = f.Outcome.Results
		m["error"] = f.Outcome.Error
	default:
		return nil, terrors.BadRequest("unknown_frame", "Unknown frame kind "+string(f.Kind), nil)
	}

	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, terrors.BadRequest("unencodable", err.Error(), map[string]string{
			"frame_kind": string(f.Kind)})
	}
	b, err := proto.Marshal(s)
	if err != nil {
		return nil, terrors.Wrap(err, nil)
	}
	return b, nil
}

// UnmarshalFrame decodes a frame produced by MarshalFrame. Numbers come back as float64.
func UnmarshalFrame(b []byte) (Frame, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(b, s); err != nil {
		return Frame{}, terrors.BadRequest("malformed_frame", err.Error(), nil)
	}
	m := s.AsMap()

	f := Frame{
		Kind: FrameKind(stringField(m, "kind")),
		ID:   stringField(m, "id")}
	switch f.Kind {
	case KindRegister:
		f.Registration = Registration{
			Group:         stringField(m, "group"),
			AppName:       stringField(m, "app"),
			IndicatorName: stringField(m, "indicator"),
			Type:          IndicatorType(stringField(m, "type"))}
	case KindConfig:
		f.Config, _ = m["config"].(map[string]interface{})
	case KindInvoke:
		f.Invocation.Args = m["args"]
	case KindResult:
		f.Outcome.AppName = stringField(m, "app")
		f.Outcome.Results, _ = m["results"].([]interface{})
		f.Outcome.Error = stringField(m, "error")
	default:
		return Frame{}, terrors.BadRequest("unknown_frame", "Unknown frame kind "+string(f.Kind), nil)
	}
	return f, nil
}

// CopyOverWire returns f as the other end of a connection would see it.
func CopyOverWire(f Frame) (Frame, error) {
	b, err := MarshalFrame(f)
	if err != nil {
		return Frame{}, err
	}
	return UnmarshalFrame(b)
}

func stringField(m map[string]interface{}, k string) string {
	s, _ := m[k].(string)
	return s
}
