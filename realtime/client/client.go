// Package client is the consuming side of the realtime channel: it keeps a websocket
// open with bounded exponential backoff and dispatches server events to callbacks.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/irisdrone/trafficguard/realtime"
	log "github.com/sirupsen/logrus"
)

// ErrChannel marks realtime transport problems. They never propagate to a request.
var ErrChannel = errors.New("realtime channel error")

// Local topics dispatched by the channel itself
const (
	TopicStatus          = "status"
	TopicReconnectFailed = "reconnect:failed"
)

const (
	defaultHeartbeat = 25 * time.Second
	eventBuffer      = 256
)

// Identity is announced with join:role on every successful connect
type Identity struct {
	Role   string
	UserID string
}

// IdentityProvider reports who the channel speaks for
type IdentityProvider interface {
	Identity() (Identity, bool)
}

// LocationProvider reports the last known position, if any
type LocationProvider interface {
	Location() (lat, lon float64, ok bool)
}

// IdentityFunc adapts a function to IdentityProvider
type IdentityFunc func() (Identity, bool)

func (f IdentityFunc) Identity() (Identity, bool) { return f() }

// LocationFunc adapts a function to LocationProvider
type LocationFunc func() (float64, float64, bool)

func (f LocationFunc) Location() (float64, float64, bool) { return f() }

// Config configures a Channel
type Config struct {
	URL               string
	Header            http.Header
	Backoff           Backoff
	HeartbeatInterval time.Duration
	Identity          IdentityProvider
	Location          LocationProvider
	Dialer            *websocket.Dialer
}

// Event is one message delivered to callbacks
type Event struct {
	Topic string
	Data  json.RawMessage
}

// Callback receives events for a topic. Callbacks run on the channel's dispatch goroutine.
type Callback func(Event)

type subscription struct {
	id uint64
	cb Callback

	// held by the dispatcher from the removed check until cb returns
	mu      sync.Mutex
	removed atomic.Bool
}

// Channel is a self-healing websocket connection to the realtime hub
type Channel struct {
	cfg Config
	id  string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	running  bool
	failures int

	writeMu sync.Mutex

	regMu    sync.Mutex
	registry map[string]map[uint64]*subscription
	nextID   uint64
	current  atomic.Pointer[subscription]

	events chan Event
}

// New creates a channel. Nothing is dialed until Connect.
func New(cfg Config) *Channel {
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:      cfg,
		id:       uuid.New().String(),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateDisconnected,
		registry: make(map[string]map[uint64]*subscription),
		events:   make(chan Event, eventBuffer),
	}
	go c.dispatchLoop()
	return c
}

// ID identifies this channel in logs
func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop. Calling it while a loop is active does nothing;
// calling it after the retry ceiling was hit starts over with a fresh attempt count.
func (c *Channel) Connect() error {
	if c.ctx.Err() != nil {
		return fmt.Errorf("%w: channel closed", ErrChannel)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	c.running = true
	c.failures = 0
	go c.connectLoop()
	return nil
}

// Register subscribes cb to topic and returns a function that removes it.
// The returned function waits for an in-flight invocation of cb to finish, so once it
// has returned cb is not called again. Called from inside cb itself it returns at once.
func (c *Channel) Register(topic string, cb Callback) (unregister func()) {
	c.regMu.Lock()
	c.nextID++
	sub := &subscription{id: c.nextID, cb: cb}
	subs, ok := c.registry[topic]
	if !ok {
		subs = make(map[uint64]*subscription)
		c.registry[topic] = subs
	}
	subs[sub.id] = sub
	c.regMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.removed.Store(true)
			// wait out an invocation that already passed its check
			if c.current.Load() != sub {
				sub.mu.Lock()
				sub.mu.Unlock()
			}

			c.regMu.Lock()
			if subs, ok := c.registry[topic]; ok {
				delete(subs, sub.id)
				if len(subs) == 0 {
					delete(c.registry, topic)
				}
			}
			c.regMu.Unlock()
		})
	}
}

// Emit sends an arbitrary message to the server
func (c *Channel) Emit(event string, data interface{}) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return fmt.Errorf("%w: not connected", ErrChannel)
	}
	return c.write(conn, event, data)
}

// Close stops reconnecting, closes the transport and drops every registration
func (c *Channel) Close() {
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.signal(SignalClose)

	c.regMu.Lock()
	for _, subs := range c.registry {
		for _, sub := range subs {
			sub.removed.Store(true)
		}
	}
	c.registry = make(map[string]map[uint64]*subscription)
	c.regMu.Unlock()
}

// connectLoop dials until connected, then reads until the connection drops, and repeats
func (c *Channel) connectLoop() {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	for {
		if c.ctx.Err() != nil {
			return
		}

		c.signal(SignalDial)
		conn, _, err := c.cfg.Dialer.DialContext(c.ctx, c.cfg.URL, c.cfg.Header)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.signal(SignalFailed)
			if !c.retry(err) {
				return
			}
			continue
		}

		c.mu.Lock()
		if c.ctx.Err() != nil {
			// Close ran while the handshake was in flight and saw no conn
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.failures = 0
		c.mu.Unlock()
		c.signal(SignalOpened)
		log.Printf("✅ Realtime channel %s connected to %s", c.id, c.cfg.URL)

		c.announce(conn)
		stopHeartbeat := c.startHeartbeat(conn)
		c.readLoop(conn)
		stopHeartbeat()

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		c.signal(SignalDropped)
		if !c.retry(fmt.Errorf("connection lost")) {
			return
		}
	}
}

// retry counts a failure and waits out the backoff. It returns false when the
// channel must stop: either closed or out of attempts.
func (c *Channel) retry(cause error) bool {
	c.mu.Lock()
	c.failures++
	failures := c.failures
	c.mu.Unlock()

	if c.cfg.Backoff.Exhausted(failures) {
		c.signal(SignalExhausted)
		log.Printf("❌ Realtime channel %s gave up after %d attempts: %v", c.id, failures, cause)
		data, _ := json.Marshal(map[string]int{"attempts": failures})
		c.enqueue(Event{Topic: TopicReconnectFailed, Data: data})
		return false
	}

	delay := c.cfg.Backoff.Delay(failures)
	log.Printf("⚠️ Realtime channel %s: %v (retry %d/%d in %s)", c.id, cause, failures, c.cfg.Backoff.MaxAttempts, delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// announce re-joins the identity and location rooms after every connect
func (c *Channel) announce(conn *websocket.Conn) {
	if c.cfg.Identity != nil {
		if id, ok := c.cfg.Identity.Identity(); ok {
			if err := c.write(conn, realtime.MsgJoinRole, map[string]string{"role": id.Role, "userId": id.UserID}); err != nil {
				log.Printf("⚠️ Failed to announce role: %v", err)
			}
		}
	}
	if c.cfg.Location != nil {
		if lat, lon, ok := c.cfg.Location.Location(); ok {
			if err := c.write(conn, realtime.MsgJoinLocation, map[string]float64{"latitude": lat, "longitude": lon}); err != nil {
				log.Printf("⚠️ Failed to announce location: %v", err)
			}
		}
	}
}

func (c *Channel) startHeartbeat(conn *websocket.Conn) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				// a missing pong is not treated as a failure
				if err := c.write(conn, realtime.MsgPing, nil); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var msg realtime.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if c.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("⚠️ Realtime channel %s read error: %v", c.id, err)
			}
			return
		}
		if msg.Type == "" {
			continue
		}
		c.enqueue(Event{Topic: msg.Type, Data: msg.Data})
	}
}

func (c *Channel) write(conn *websocket.Conn, event string, data interface{}) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = b
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(realtime.Message{Type: event, Data: raw}); err != nil {
		return fmt.Errorf("%w: %v", ErrChannel, err)
	}
	return nil
}

// signal applies sig to the state machine and publishes changes on the status topic
func (c *Channel) signal(sig Signal) {
	c.mu.Lock()
	prev := c.state
	c.state = Transition(prev, sig)
	next := c.state
	c.mu.Unlock()

	if next != prev {
		data, _ := json.Marshal(map[string]string{"status": string(next), "previous": string(prev)})
		c.enqueue(Event{Topic: TopicStatus, Data: data})
	}
}

func (c *Channel) enqueue(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Channel) dispatchLoop() {
	for {
		select {
		case ev := <-c.events:
			c.deliver(ev)
		case <-c.ctx.Done():
			return
		}
	}
}

// deliver invokes the callbacks of ev.Topic in registration order. Each registration
// is re-checked right before its callback runs, so an unregister issued by an earlier
// callback in the same pass is honoured.
func (c *Channel) deliver(ev Event) {
	c.regMu.Lock()
	subs := make([]*subscription, 0, len(c.registry[ev.Topic]))
	for _, sub := range c.registry[ev.Topic] {
		subs = append(subs, sub)
	}
	c.regMu.Unlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	for _, sub := range subs {
		if c.ctx.Err() != nil {
			return
		}
		c.invoke(sub, ev)
	}
}

func (c *Channel) invoke(sub *subscription, ev Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.removed.Load() {
		return
	}
	c.current.Store(sub)
	defer c.current.Store(nil)
	sub.cb(ev)
}
