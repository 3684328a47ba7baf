// Package realtime pushes pipeline events to websocket sessions grouped in rooms
package realtime

import (
	"context"
	"encoding/json"
)

// Broadcaster delivers an event to live sessions. With no rooms every session
// receives it; with several rooms each session in their union receives it once.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, payload interface{}, rooms ...string) error
}

// Message is the frame exchanged with websocket clients in both directions
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Envelope is the relay form of a broadcast, shared between server instances
type Envelope struct {
	Event string          `json:"event"`
	Rooms []string        `json:"rooms,omitempty"`
	Data  json.RawMessage `json:"data"`
}

func encodeFrame(event string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Message{Type: event, Data: data})
}

// Place is the location shape used in event payloads
type Place struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}
