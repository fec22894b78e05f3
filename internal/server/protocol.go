package server

import (
	"encoding/json"
)

// Event names carried in the envelope.
const (
	EventConnectionEstablish = "connection_establish"
	EventCommandEntered      = "command_entered"
	EventConsoleOutput       = "console_output"
)

// Envelope is the JSON text frame exchanged with clients:
//
//	{"event": "command_entered", "data": "add 12.50 food lunch"}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is a decoded client frame.
type Inbound struct {
	Event   string
	Command string
}

// DecodeFrame decodes a client text frame. A frame that is not a JSON
// envelope is taken as a command line. For command_entered the data is
// expected to be a JSON string; any other JSON value is passed on verbatim.
func DecodeFrame(frame []byte) Inbound {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		return Inbound{Event: EventCommandEntered, Command: string(frame)}
	}

	in := Inbound{Event: env.Event}
	if env.Event == EventCommandEntered && len(env.Data) > 0 {
		var text string
		if err := json.Unmarshal(env.Data, &text); err == nil {
			in.Command = text
		} else {
			in.Command = string(env.Data)
		}
	}
	return in
}

// EncodeOutput builds a console_output frame for text.
func EncodeOutput(text string) ([]byte, error) {
	data, err := json.Marshal(text)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: EventConsoleOutput, Data: data})
}
