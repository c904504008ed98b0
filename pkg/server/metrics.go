package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections atomic.Int64 // current active connections
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Auth counters
	SuccessfulAuths atomic.Int64 // successful authentication attempts
	FailedAuths     atomic.Int64 // failed authentication attempts
	Registrations   atomic.Int64 // accounts created over the wire

	// Dispatch counters
	BroadcastsSent atomic.Int64 // chat lines fanned out to all members
	PrivatesSent   atomic.Int64 // private messages delivered

	// Moderation counters
	BansIssued    atomic.Int64 // users suppressed via /ban
	NickChanges   atomic.Int64 // /changenick commands applied
	IdleEvictions atomic.Int64 // sessions disabled by the idle sweep
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	SuccessfulAuths int64 `json:"successful_auths"`
	FailedAuths     int64 `json:"failed_auths"`
	Registrations   int64 `json:"registrations"`

	BroadcastsSent int64 `json:"broadcasts_sent"`
	PrivatesSent   int64 `json:"privates_sent"`

	BansIssued    int64 `json:"bans_issued"`
	NickChanges   int64 `json:"nick_changes"`
	IdleEvictions int64 `json:"idle_evictions"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		Registrations:     m.Registrations.Load(),
		BroadcastsSent:    m.BroadcastsSent.Load(),
		PrivatesSent:      m.PrivatesSent.Load(),
		BansIssued:        m.BansIssued.Load(),
		NickChanges:       m.NickChanges.Load(),
		IdleEvictions:     m.IdleEvictions.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"broadcasts", s.BroadcastsSent,
		"privates", s.PrivatesSent,
		"bans", s.BansIssued,
		"idle_evictions", s.IdleEvictions,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
