package feed

import "time"

// StatusSource provides connection status snapshots to the monitor.
type StatusSource interface {
	StatusSnapshots() []StatusSnapshot
}

// VenueHealth is the read model for one exchange connection.
type VenueHealth struct {
	Exchange    string    `json:"exchange"`
	Connected   bool      `json:"connected"`
	Healthy     bool      `json:"healthy"`
	LastMessage time.Time `json:"last_message"`
	Messages    int64     `json:"messages"`
	Errors      int64     `json:"errors"`
}

// Monitor computes per-exchange health from status snapshots. It performs
// no I/O and never blocks: healthy = connected AND a message arrived within
// the staleness threshold, which catches connections that report connected
// while silently hung.
type Monitor struct {
	source    StatusSource
	threshold time.Duration
	now       func() time.Time
}

// NewMonitor creates a health monitor.
func NewMonitor(source StatusSource, threshold time.Duration) *Monitor {
	return &Monitor{
		source:    source,
		threshold: threshold,
		now:       time.Now,
	}
}

// Health returns the current read model, keyed by exchange.
func (m *Monitor) Health() map[string]VenueHealth {
	now := m.now()
	out := make(map[string]VenueHealth)

	for _, s := range m.source.StatusSnapshots() {
		fresh := !s.LastMessage.IsZero() && now.Sub(s.LastMessage) < m.threshold
		out[s.Exchange] = VenueHealth{
			Exchange:    s.Exchange,
			Connected:   s.Connected,
			Healthy:     s.Connected && fresh,
			LastMessage: s.LastMessage,
			Messages:    s.Messages,
			Errors:      s.Errors,
		}
	}
	return out
}

// Healthy reports whether every monitored venue is healthy.
func (m *Monitor) Healthy() bool {
	health := m.Health()
	if len(health) == 0 {
		return false
	}
	for _, h := range health {
		if !h.Healthy {
			return false
		}
	}
	return true
}
