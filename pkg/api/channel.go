package api

import "github.com/goccy/go-json"

// DC is a data-channel frame type.
type DC string

const (
	// DcReady confirms the channel is usable end to end
	DcReady DC = "dc_ready"
	// ReadyStatus flows guest -> host
	ReadyStatus DC = "readyStatus"
	// PaddleMove flows guest -> host
	PaddleMove DC = "paddleMove"
	// GameState flows host -> guest only
	GameState DC = "gameState"
	// phase transition requests, guest -> host; the host decides
	PauseRequest  DC = "pauseRequest"
	ResumeRequest DC = "resumeRequest"
)

// DCIn is a received data-channel frame.
type DCIn struct {
	T         DC              `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// DCOut is a data-channel frame to be sent.
type DCOut struct {
	T         DC    `json:"type"`
	Payload   any   `json:"payload,omitempty"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

type ReadyStatusPayload struct {
	IsReady bool `json:"isReady"`
}

type PaddleMovePayload struct {
	Y float64 `json:"y"`
}
