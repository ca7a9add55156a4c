package feed

import (
	"testing"
	"time"
)

type staticSource struct {
	snaps []StatusSnapshot
}

func (s staticSource) StatusSnapshots() []StatusSnapshot { return s.snaps }

func TestMonitor_Health(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name        string
		snap        StatusSnapshot
		wantHealthy bool
	}{
		{
			name:        "connected and fresh",
			snap:        StatusSnapshot{Exchange: "binance", Connected: true, LastMessage: now.Add(-5 * time.Second)},
			wantHealthy: true,
		},
		{
			name: "connected but silently hung",
			snap: StatusSnapshot{Exchange: "kraken", Connected: true, LastMessage: now.Add(-5 * time.Minute)},
		},
		{
			name: "disconnected with recent message",
			snap: StatusSnapshot{Exchange: "coinbase", Connected: false, LastMessage: now.Add(-time.Second)},
		},
		{
			name: "connected but never received",
			snap: StatusSnapshot{Exchange: "binance", Connected: true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMonitor(staticSource{snaps: []StatusSnapshot{tc.snap}}, time.Minute)
			m.now = func() time.Time { return now }

			h, ok := m.Health()[tc.snap.Exchange]
			if !ok {
				t.Fatalf("Health missing %s", tc.snap.Exchange)
			}
			if h.Healthy != tc.wantHealthy {
				t.Errorf("Healthy = %v, want %v", h.Healthy, tc.wantHealthy)
			}
			if h.Connected != tc.snap.Connected {
				t.Errorf("Connected = %v, want %v", h.Connected, tc.snap.Connected)
			}
		})
	}
}

func TestMonitor_Healthy(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := StatusSnapshot{Exchange: "binance", Connected: true, LastMessage: now.Add(-time.Second)}
	stale := StatusSnapshot{Exchange: "kraken", Connected: true, LastMessage: now.Add(-time.Hour)}

	cases := []struct {
		name  string
		snaps []StatusSnapshot
		want  bool
	}{
		{name: "all healthy", snaps: []StatusSnapshot{fresh}, want: true},
		{name: "one stale venue", snaps: []StatusSnapshot{fresh, stale}, want: false},
		{name: "no venues", snaps: nil, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMonitor(staticSource{snaps: tc.snaps}, time.Minute)
			m.now = func() time.Time { return now }

			if got := m.Healthy(); got != tc.want {
				t.Errorf("Healthy() = %v, want %v", got, tc.want)
			}
		})
	}
}
