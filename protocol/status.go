package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Status is the connection state of a protocol instance.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus parses the String form of a status.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(s) {
	case "disconnected":
		return StatusDisconnected, nil
	case "connecting":
		return StatusConnecting, nil
	case "connected":
		return StatusConnected, nil
	case "error":
		return StatusError, nil
	}
	return 0, fmt.Errorf("unknown protocol status %q", s)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	parsed, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StatusListener observes status transitions.
type StatusListener func(previous, current Status, reason string)

// StatusHolder owns the status of one protocol instance. Listeners run
// synchronously, outside the holder's lock, and only on actual changes.
type StatusHolder struct {
	mu        sync.Mutex
	status    Status
	reason    string
	listeners []StatusListener
}

// NewStatusHolder creates a holder in StatusDisconnected.
func NewStatusHolder() *StatusHolder {
	return &StatusHolder{status: StatusDisconnected}
}

// Get returns the current status.
func (h *StatusHolder) Get() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Reason returns the reason given for the last transition.
func (h *StatusHolder) Reason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}

// OnChange registers a listener.
func (h *StatusHolder) OnChange(l StatusListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

// Set transitions to s. It reports whether the status changed.
func (h *StatusHolder) Set(s Status, reason string) bool {
	h.mu.Lock()
	previous := h.status
	if previous == s {
		h.mu.Unlock()
		return false
	}
	h.status = s
	h.reason = reason
	listeners := append([]StatusListener(nil), h.listeners...)
	h.mu.Unlock()

	for _, l := range listeners {
		l(previous, s, reason)
	}
	return true
}

// CompareAndSet transitions to s only when the current status is from.
func (h *StatusHolder) CompareAndSet(from, s Status, reason string) bool {
	h.mu.Lock()
	if h.status != from || from == s {
		h.mu.Unlock()
		return false
	}
	h.status = s
	h.reason = reason
	listeners := append([]StatusListener(nil), h.listeners...)
	h.mu.Unlock()

	for _, l := range listeners {
		l(from, s, reason)
	}
	return true
}
