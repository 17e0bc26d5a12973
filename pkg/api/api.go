// Package api defines the two wire protocols of the system:
//
//   - the relay (signaling) protocol: JSON envelopes of the form
//     {"type": ..., "payload": ..., "senderId": ...} exchanged between
//     clients and the matchmaking relay over a websocket;
//   - the data-channel protocol: JSON frames with a "type" discriminator
//     exchanged between two peers over the direct WebRTC data channel.
//
// Both protocols differentiate packets by a predefined string type with
// which the payload can be unwrapped into a distinct request/response
// structure. Unknown types are logged and ignored by the receivers,
// never fatal.
package api

import "github.com/goccy/go-json"

func Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Unwrap decodes a payload into the given type,
// returning nil on any malformed input.
func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
