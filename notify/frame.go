package notify

import (
	"bytes"
	"encoding/json"

	"github.com/bytedance/sonic"
)

const (
	// SSEDataPrefix precedes the JSON body of every event frame.
	SSEDataPrefix = "data: "
	// ReadyFrame is written once when a stream opens so headers reach the client.
	ReadyFrame = ":ok\n\n"
	// HeartbeatFrame is a comment frame that keeps proxies from idling out the stream.
	HeartbeatFrame = ":keepalive\n\n"
)

// Envelope is a published event in transport form. It is what travels
// between instances and to the export queue.
type Envelope struct {
	Origin  string          `json:"origin,omitempty"`
	UserIDs []string        `json:"userIds"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// EncodeData serializes an event payload onto a single line.
func EncodeData(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return compactData(raw)
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// compactData strips the line breaks of pre-encoded JSON, which would
// otherwise end the SSE data field early.
func compactData(raw json.RawMessage) (json.RawMessage, error) {
	if !bytes.ContainsAny(raw, "\r\n") {
		return raw, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Frame renders a named SSE event.
func Frame(event string, data []byte) []byte {
	buf := make([]byte, 0, len(event)+len(data)+len(SSEDataPrefix)+10)
	buf = append(buf, "event: "...)
	buf = append(buf, event...)
	buf = append(buf, '\n')
	buf = append(buf, SSEDataPrefix...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	return buf
}
