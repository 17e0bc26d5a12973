package api

import "github.com/goccy/go-json"

// MT is a relay protocol message type.
type MT string

const (
	// server -> client
	HostAssigned MT = "host_assigned"
	Paired       MT = "paired"
	OpponentLeft MT = "opponentLeft"
	Error        MT = "error"

	// relayed between the two game members
	Offer         MT = "offer"
	Answer        MT = "answer"
	IceCandidate  MT = "ice-candidate"
	Candidate     MT = "candidate" // legacy alias of ice-candidate
	ReadyForOffer MT = "ready_for_offer"
	StartIntent   MT = "start_intent"
	BackToLobby   MT = "back_to_lobby"

	// broadcast to the other game members
	ChatMessage MT = "chatMessage"

	// liveness
	Ping MT = "ping"
	Pong MT = "pong"
)

// Relayable reports whether the type is forwarded verbatim
// to the sender's opponent.
func (t MT) Relayable() bool {
	switch t {
	case Offer, Answer, IceCandidate, Candidate, ReadyForOffer, StartIntent, BackToLobby:
		return true
	}
	return false
}

// In is a received relay envelope. The payload is decoded in
// two passes, the second one based on the type value.
type In struct {
	T        MT              `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SenderId string          `json:"senderId,omitempty"`
}

// Out is a relay envelope to be sent.
type Out struct {
	T        MT     `json:"type"`
	Payload  any    `json:"payload,omitempty"`
	SenderId string `json:"senderId,omitempty"`
}

type HostAssignedPayload struct {
	GameId string `json:"gameId"`
}

type PairedPayload struct {
	OpponentId string `json:"opponentId"`
	IsHost     bool   `json:"isHost"`
}

// SdpPayload carries an opaque session description. The "to" field is
// set by the sender, the relay swaps it for "senderId" on delivery.
type SdpPayload struct {
	Sdp json.RawMessage `json:"sdp"`
	To  string          `json:"to,omitempty"`
}

type CandidatePayload struct {
	Candidate json.RawMessage `json:"candidate"`
	To        string          `json:"to,omitempty"`
}

type AddressedPayload struct {
	To string `json:"to,omitempty"`
}

type ChatPayload struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

const (
	ErrNotPaired           = "You are not paired with anyone"
	ErrOpponentUnavailable = "Opponent unavailable"
	ErrInvalidMessage      = "Invalid message format"
)

func ErrorPacket(message string) Out { return Out{T: Error, Payload: message} }
