// Package realtimetest provides a Broadcaster that records events for tests
package realtimetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Event is one recorded broadcast. Payload is the JSON-decoded form of what was sent.
type Event struct {
	Name    string
	Rooms   []string
	Payload map[string]interface{}
}

// Recorder implements realtime.Broadcaster
type Recorder struct {
	mu     sync.Mutex
	events []Event

	// Err, when set, is returned from every Broadcast after recording
	Err error
}

func (r *Recorder) Broadcast(ctx context.Context, event string, payload interface{}, rooms ...string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return errors.New("payload is not a JSON object")
	}

	r.mu.Lock()
	r.events = append(r.events, Event{Name: event, Rooms: append([]string(nil), rooms...), Payload: decoded})
	err = r.Err
	r.mu.Unlock()
	return err
}

// Events returns a copy of everything recorded so far
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events with the given name
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
