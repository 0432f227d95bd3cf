package health

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c360/assetflow/protocol"
)

func TestFromProtocolStatus(t *testing.T) {
	tests := []struct {
		status protocol.Status
		level  string
	}{
		{protocol.StatusConnected, LevelHealthy},
		{protocol.StatusConnecting, LevelDegraded},
		{protocol.StatusDisconnected, LevelDegraded},
		{protocol.StatusError, LevelUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			s := FromProtocolStatus("weather", tt.status, "")
			assert.Equal(t, tt.level, s.Status)
			assert.Equal(t, "weather", s.Component)
			assert.Equal(t, tt.status.String(), s.Message)
			assert.Equal(t, tt.level == LevelHealthy, s.Healthy)
		})
	}
}

func TestFromProtocolStatus_SanitizesReason(t *testing.T) {
	s := FromProtocolStatus("weather", protocol.StatusError,
		"probe https://api.example.com/data?appid=abc123 failed from 10.0.0.7")

	assert.True(t, s.IsUnhealthy())
	assert.NotContains(t, s.Message, "abc123")
	assert.NotContains(t, s.Message, "api.example.com")
	assert.NotContains(t, s.Message, "10.0.0.7")
	assert.Contains(t, s.Message, "error: ")
}

func TestSanitizeMessage(t *testing.T) {
	tests := []struct {
		in          string
		notContains []string
	}{
		{"dial tcp://broker.local:1883 refused", []string{"broker.local"}},
		{"open /etc/assetflow/config.json: denied", []string{"/etc/assetflow"}},
		{"auth failed password=hunter2", []string{"hunter2"}},
		{"token=s3cr3t rejected", []string{"s3cr3t"}},
	}
	for _, tt := range tests {
		out := sanitizeMessage(tt.in)
		for _, s := range tt.notContains {
			assert.NotContains(t, out, s, tt.in)
		}
	}
	assert.Equal(t, "", sanitizeMessage(""))
	assert.Equal(t, "plain message", sanitizeMessage("plain message"))
}

func TestWithSubStatus_DoesNotAlias(t *testing.T) {
	base := NewHealthy("system", "ok")
	a := base.WithSubStatus(NewHealthy("a", "ok"))
	b := a.WithSubStatus(NewDegraded("b", "slow"))

	assert.Empty(t, base.SubStatuses)
	assert.Len(t, a.SubStatuses, 1)
	assert.Len(t, b.SubStatuses, 2)
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name  string
		subs  []Status
		level string
	}{
		{"empty", nil, LevelHealthy},
		{"all healthy", []Status{NewHealthy("a", ""), NewHealthy("b", "")}, LevelHealthy},
		{"one degraded", []Status{NewHealthy("a", ""), NewDegraded("b", "")}, LevelDegraded},
		{"unhealthy wins", []Status{NewDegraded("a", ""), NewUnhealthy("b", ""), NewHealthy("c", "")}, LevelUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.level, Aggregate("system", tt.subs).Status)
		})
	}
}

func TestAggregate_SortsCopy(t *testing.T) {
	subs := []Status{NewHealthy("zeta", ""), NewHealthy("alpha", "")}
	agg := Aggregate("system", subs)

	assert.Equal(t, "alpha", agg.SubStatuses[0].Component)
	assert.Equal(t, "zeta", subs[0].Component)
}
