package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// RelaySubject carries broadcasts between server instances
const RelaySubject = "realtime.broadcast"

// Publisher sends raw messages on a subject. *nats.Conn and the embedded server both qualify.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Relay is a Broadcaster that publishes to NATS so every attached hub delivers the event
type Relay struct {
	pub     Publisher
	subject string
}

// NewRelay creates a relay publishing on RelaySubject
func NewRelay(pub Publisher) *Relay {
	return &Relay{pub: pub, subject: RelaySubject}
}

func (r *Relay) Broadcast(ctx context.Context, event string, payload interface{}, rooms ...string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	msg, err := json.Marshal(Envelope{Event: event, Rooms: rooms, Data: data})
	if err != nil {
		return err
	}
	if err := r.pub.Publish(r.subject, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event, err)
	}
	return nil
}

// AttachRelay subscribes the hub to relayed broadcasts
func (h *Hub) AttachRelay(conn *nats.Conn) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(RelaySubject, func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			log.Printf("⚠️ Failed to decode relayed broadcast: %v", err)
			return
		}
		if err := h.deliver(env.Event, env.Data, env.Rooms); err != nil {
			log.Printf("⚠️ Failed to deliver relayed %s: %v", env.Event, err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", RelaySubject, err)
	}
	log.Printf("📡 Hub attached to relay subject %s", RelaySubject)
	return sub, nil
}
