package ackchan

import "encoding/json"

// FrameType discriminates the two wire frame kinds.
type FrameType string

const (
	// FrameData carries an application payload from sender to receiver.
	FrameData FrameType = "data"
	// FrameAck confirms processing of a data frame, correlated by ID.
	FrameAck FrameType = "ack"
)

// Frame is the wire representation exchanged over a Transport.
// A data frame carries Payload; an ack frame carries an optional Error
// when the receiver acknowledged receipt but failed to process the payload.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
