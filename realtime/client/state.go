package client

import "time"

// State of a channel's connection
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Signal drives the connection state machine
type Signal int

const (
	SignalDial      Signal = iota // a dial attempt starts
	SignalOpened                  // the handshake succeeded
	SignalFailed                  // the dial attempt failed
	SignalDropped                 // an open connection was lost
	SignalExhausted               // the retry ceiling was exceeded
	SignalClose                   // the owner closed the channel
)

func (s Signal) String() string {
	switch s {
	case SignalDial:
		return "dial"
	case SignalOpened:
		return "opened"
	case SignalFailed:
		return "failed"
	case SignalDropped:
		return "dropped"
	case SignalExhausted:
		return "exhausted"
	case SignalClose:
		return "close"
	}
	return "unknown"
}

// Transition returns the state reached from s on sig. Signals that make no sense
// in s leave it unchanged. Error is left only by an explicit dial or close.
func Transition(s State, sig Signal) State {
	switch sig {
	case SignalClose:
		return StateDisconnected
	case SignalExhausted:
		return StateError
	}

	switch s {
	case StateDisconnected, StateError:
		if sig == SignalDial {
			return StateConnecting
		}
	case StateConnecting:
		switch sig {
		case SignalOpened:
			return StateConnected
		case SignalFailed:
			return StateDisconnected
		}
	case StateConnected:
		if sig == SignalDropped {
			return StateDisconnected
		}
	}
	return s
}

// Backoff computes reconnect delays
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff waits 1s, 2s, 4s ... up to 30s, for at most 10 retries
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 30 * time.Second, MaxAttempts: 10}
}

// Delay returns the wait before retry number attempt (1-based): Initial * 2^(attempt-1), capped at Max
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether failures consecutive failures exceed the retry ceiling
func (b Backoff) Exhausted(failures int) bool {
	return failures > b.MaxAttempts
}
