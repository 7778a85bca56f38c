package log

import (
	"encoding/hex"
	"time"
)

// field is one key/value pair of the console rendering of an event.
type field struct {
	key   string
	value any
}

// eventFields flattens an event for the console adapters.
func eventFields(event Event) []field {
	fs := []field{
		{"conn_id", event.ConnectionID},
		{"direction", event.Direction.String()},
		{"layer", event.Layer.String()},
		{"category", event.Category.String()},
	}
	if event.RemoteAddr != "" {
		fs = append(fs, field{"remote", event.RemoteAddr})
	}
	if event.PeerKID != "" {
		fs = append(fs, field{"peer_kid", event.PeerKID})
	}
	if event.SenderID != "" {
		fs = append(fs, field{"sender_id", event.SenderID})
	}

	switch {
	case event.Frame != nil:
		fs = append(fs,
			field{"frame_size", event.Frame.Size},
			field{"truncated", event.Frame.Truncated},
		)
	case event.Message != nil:
		m := event.Message
		fs = append(fs,
			field{"msg_type", m.Type.String()},
			field{"code", m.Code},
			field{"payload_size", m.PayloadSize},
		)
		if m.Path != "" {
			fs = append(fs, field{"path", m.Path})
		}
		if len(m.Token) > 0 {
			fs = append(fs, field{"token", hex.EncodeToString(m.Token)})
		}
		if m.Sequence != nil {
			fs = append(fs, field{"seq", *m.Sequence})
		}
		if m.EDHOC {
			fs = append(fs, field{"edhoc", true})
		}
		if m.Block != nil {
			fs = append(fs, field{"block", *m.Block})
		}
		if m.ProcessingTime != nil {
			fs = append(fs, field{"processing_time", *m.ProcessingTime})
		}
	case event.Handshake != nil:
		h := event.Handshake
		fs = append(fs,
			field{"edhoc_msg", h.Number},
			field{"suite", h.Suite},
			field{"size", h.Size},
		)
		if h.ConnID != "" {
			fs = append(fs, field{"edhoc_conn_id", h.ConnID})
		}
		if h.ByValue {
			fs = append(fs, field{"by_value", true})
		}
	case event.StateChange != nil:
		fs = append(fs,
			field{"entity", event.StateChange.Entity.String()},
			field{"old_state", event.StateChange.OldState},
			field{"new_state", event.StateChange.NewState},
		)
		if event.StateChange.Reason != "" {
			fs = append(fs, field{"reason", event.StateChange.Reason})
		}
	case event.Error != nil:
		fs = append(fs,
			field{"error_layer", event.Error.Layer.String()},
			field{"error_msg", event.Error.Message},
			field{"error_context", event.Error.Context},
		)
		if event.Error.Code != nil {
			fs = append(fs, field{"error_code", *event.Error.Code})
		}
	}
	return fs
}

// durationValue keeps durations readable in text output.
func durationValue(v any) any {
	if d, ok := v.(time.Duration); ok {
		return d.String()
	}
	return v
}
