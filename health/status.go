// Package health tracks the health of protocols, the rule engine and the
// other long-running parts of the process, and aggregates it for the
// /health endpoint.
//
// A Status is healthy, degraded or unhealthy. Protocol connection statuses
// map onto it: Connected is healthy, Connecting and Disconnected are
// degraded and Error is unhealthy. The aggregate is unhealthy if any part is,
// degraded if any part is, and healthy otherwise.
package health

import (
	"regexp"
	"strings"
	"time"

	"github.com/c360/assetflow/protocol"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|tcp|ssl|wss?)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential|appid)[^a-zA-Z]*[:=][^,&\s}]+`)
)

// Status levels
const (
	LevelHealthy   = "healthy"
	LevelDegraded  = "degraded"
	LevelUnhealthy = "unhealthy"
)

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == LevelHealthy }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == LevelDegraded }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == LevelUnhealthy }

// WithSubStatus adds a sub-status and returns a copy
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

// sanitizeMessage strips URLs, paths, addresses and credentials from text
// that may end up on the unauthenticated /health endpoint.
func sanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}
	out := credentialRegex.ReplaceAllString(msg, "[REDACTED]")
	out = urlRegex.ReplaceAllString(out, "[URL]")
	out = unixPathRegex.ReplaceAllString(out, "[PATH]")
	out = ipAddrRegex.ReplaceAllString(out, "[IP]")
	out = portRegex.ReplaceAllString(out, "[PORT]")
	return strings.TrimSpace(out)
}

// FromProtocolStatus converts a protocol connection status.
func FromProtocolStatus(id string, st protocol.Status, reason string) Status {
	msg := st.String()
	if reason != "" {
		msg += ": " + sanitizeMessage(reason)
	}
	switch st {
	case protocol.StatusConnected:
		return NewHealthy(id, msg)
	case protocol.StatusError:
		return NewUnhealthy(id, msg)
	default:
		return NewDegraded(id, msg)
	}
}
