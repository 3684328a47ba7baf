package client

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/irisdrone/trafficguard/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fastBackoff(attempts int) Backoff {
	return Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, MaxAttempts: attempts}
}

func waitFor(t *testing.T, ch <-chan Event, what string) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	return Event{}
}

func waitStatus(t *testing.T, ch <-chan Event, want State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			var body map[string]string
			require.NoError(t, json.Unmarshal(ev.Data, &body))
			if body["status"] == string(want) {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from State
		sig  Signal
		want State
	}{
		{StateDisconnected, SignalDial, StateConnecting},
		{StateConnecting, SignalOpened, StateConnected},
		{StateConnecting, SignalFailed, StateDisconnected},
		{StateConnected, SignalDropped, StateDisconnected},
		{StateConnecting, SignalExhausted, StateError},
		{StateError, SignalFailed, StateError},
		{StateError, SignalOpened, StateError},
		{StateError, SignalDial, StateConnecting},
		{StateConnected, SignalClose, StateDisconnected},
		{StateError, SignalClose, StateDisconnected},
		{StateConnected, SignalOpened, StateConnected},
		{StateDisconnected, SignalDropped, StateDisconnected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+tt.sig.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Transition(tt.from, tt.sig))
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	b := DefaultBackoff()
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.Delay(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 30*time.Second, b.Delay(200))

	assert.False(t, b.Exhausted(10))
	assert.True(t, b.Exhausted(11))
}

func TestRetryCeilingEndsInError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	ch := New(Config{URL: wsURL(srv), Backoff: fastBackoff(2)})
	defer ch.Close()

	failed := make(chan Event, 1)
	ch.Register(TopicReconnectFailed, func(ev Event) { failed <- ev })
	require.NoError(t, ch.Connect())

	ev := waitFor(t, failed, "reconnect:failed")
	var body map[string]int
	require.NoError(t, json.Unmarshal(ev.Data, &body))
	assert.Equal(t, 3, body["attempts"])
	assert.Equal(t, StateError, ch.State())

	// initial dial plus two retries, then nothing
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, StateError, ch.State())
}

func TestReannouncesOnEveryConnect(t *testing.T) {
	var conns int32
	received := make(chan realtime.Message, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := atomic.AddInt32(&conns, 1)
		for i := 0; ; i++ {
			var msg realtime.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
			if n == 1 && i == 1 {
				// drop the first connection once both announcements arrived
				return
			}
		}
	}))
	defer srv.Close()

	ch := New(Config{
		URL:               wsURL(srv),
		Backoff:           fastBackoff(3),
		HeartbeatInterval: time.Hour,
		Identity: IdentityFunc(func() (Identity, bool) {
			return Identity{Role: "police", UserID: "7"}, true
		}),
		Location: LocationFunc(func() (float64, float64, bool) {
			return -1.95, 30.06, true
		}),
	})
	defer ch.Close()
	require.NoError(t, ch.Connect())

	var types []string
	for len(types) < 4 {
		select {
		case msg := <-received:
			types = append(types, msg.Type)
			if msg.Type == realtime.MsgJoinRole {
				var body map[string]string
				require.NoError(t, json.Unmarshal(msg.Data, &body))
				assert.Equal(t, "police", body["role"])
				assert.Equal(t, "7", body["userId"])
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("only received %v", types)
		}
	}
	assert.Equal(t, []string{
		realtime.MsgJoinRole, realtime.MsgJoinLocation,
		realtime.MsgJoinRole, realtime.MsgJoinLocation,
	}, types)
	assert.Equal(t, int32(2), atomic.LoadInt32(&conns))
}

func TestUnregisterStopsCallbacks(t *testing.T) {
	trigger := make(chan int)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for id := range trigger {
			data, _ := json.Marshal(map[string]int{"id": id})
			if err := conn.WriteJSON(realtime.Message{Type: realtime.EventIncidentNew, Data: data}); err != nil {
				return
			}
		}
	}))
	defer srv.Close()
	defer close(trigger)

	ch := New(Config{URL: wsURL(srv), Backoff: fastBackoff(1), HeartbeatInterval: time.Hour})
	defer ch.Close()

	status := make(chan Event, 8)
	ch.Register(TopicStatus, func(ev Event) { status <- ev })

	var calls int32
	first := make(chan Event, 4)
	unregister := ch.Register(realtime.EventIncidentNew, func(ev Event) {
		atomic.AddInt32(&calls, 1)
		first <- ev
	})

	require.NoError(t, ch.Connect())
	waitStatus(t, status, StateConnected)

	trigger <- 1
	waitFor(t, first, "first event")
	unregister()
	unregister()

	witness := make(chan Event, 4)
	ch.Register(realtime.EventIncidentNew, func(ev Event) { witness <- ev })
	trigger <- 2
	ev := waitFor(t, witness, "second event")
	assert.JSONEq(t, `{"id":2}`, string(ev.Data))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUnregisterFromInsideCallback(t *testing.T) {
	ch := New(Config{URL: "ws://127.0.0.1:1"})
	defer ch.Close()

	var calls int32
	var unregister func()
	unregister = ch.Register("custom", func(Event) {
		atomic.AddInt32(&calls, 1)
		unregister()
	})
	done := make(chan Event, 2)
	ch.Register("custom", func(ev Event) { done <- ev })

	ch.enqueue(Event{Topic: "custom"})
	ch.enqueue(Event{Topic: "custom"})
	waitFor(t, done, "first dispatch")
	waitFor(t, done, "second dispatch")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEmitRequiresConnection(t *testing.T) {
	ch := New(Config{URL: "ws://127.0.0.1:1"})
	defer ch.Close()

	err := ch.Emit("ping", nil)
	assert.ErrorIs(t, err, ErrChannel)
}

func TestConnectAfterClose(t *testing.T) {
	ch := New(Config{URL: "ws://127.0.0.1:1"})
	ch.Close()

	assert.ErrorIs(t, ch.Connect(), ErrChannel)
	assert.Equal(t, StateDisconnected, ch.State())
}

func TestUnregisterWaitsForInFlightCallback(t *testing.T) {
	ch := New(Config{URL: "ws://127.0.0.1:1"})
	defer ch.Close()

	unregister := ch.Register("custom", func(Event) {})
	ch.regMu.Lock()
	var sub *subscription
	for _, s := range ch.registry["custom"] {
		sub = s
	}
	ch.regMu.Unlock()
	require.NotNil(t, sub)

	// the dispatcher holds the lock between its check and the callback returning
	sub.mu.Lock()
	returned := make(chan struct{})
	go func() {
		unregister()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("unregister returned while a callback was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	sub.mu.Unlock()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("unregister never returned")
	}
	assert.True(t, sub.removed.Load())
}

func TestUnregisterFromAnotherGoroutineDuringOwnCallback(t *testing.T) {
	ch := New(Config{URL: "ws://127.0.0.1:1"})
	defer ch.Close()

	var calls int32
	var unregister func()
	unregister = ch.Register("custom", func(Event) {
		atomic.AddInt32(&calls, 1)
		done := make(chan struct{})
		go func() {
			unregister()
			close(done)
		}()
		<-done
	})
	witness := make(chan Event, 2)
	ch.Register("custom", func(ev Event) { witness <- ev })

	ch.enqueue(Event{Topic: "custom"})
	ch.enqueue(Event{Topic: "custom"})
	waitFor(t, witness, "first dispatch")
	waitFor(t, witness, "second dispatch")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCloseDuringHandshakeClosesTransport(t *testing.T) {
	var received int32
	serverDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer close(serverDone)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			atomic.AddInt32(&received, 1)
		}
	}))
	defer srv.Close()

	var ch *Channel
	dialer := &websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := (&net.Dialer{}).DialContext(context.Background(), network, addr)
			// the handshake still completes after this
			ch.Close()
			return conn, err
		},
	}
	ch = New(Config{
		URL:               wsURL(srv),
		Backoff:           fastBackoff(1),
		HeartbeatInterval: time.Hour,
		Dialer:            dialer,
		Identity: IdentityFunc(func() (Identity, bool) {
			return Identity{Role: "police"}, true
		}),
	})
	require.NoError(t, ch.Connect())

	select {
	case <-serverDone:
	case <-time.After(3 * time.Second):
		t.Fatal("transport left open after Close")
	}
	assert.Zero(t, atomic.LoadInt32(&received))
	assert.Equal(t, StateDisconnected, ch.State())
}
