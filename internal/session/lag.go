package session

import (
	"fmt"
)

// Lag alert thresholds.
const (
	LagWarningPing      = 250
	LagCriticalPing     = 500
	LagWarningLoss      = 10.0
	LagCriticalLoss     = 25.0
	lagAlertMinAckCount = UpdateBackup
)

// LagStats summarise a session's connection quality. Pings are in
// milliseconds, losses in percent.
type LagStats struct {
	MinPing int     `json:"min_ping_ms"`
	AvgPing int     `json:"avg_ping_ms"`
	MaxPing int     `json:"max_ping_ms"`
	LossS2C float64 `json:"loss_s2c"`
	LossC2S float64 `json:"loss_c2s"`
}

// LagStats computes the statistics from the latency ring and counters.
func (s *Session) LagStats() LagStats {
	var st LagStats
	total, count := 0, 0
	for _, ms := range s.latency {
		if ms < 0 {
			continue
		}
		if count == 0 || ms < st.MinPing {
			st.MinPing = ms
		}
		if ms > st.MaxPing {
			st.MaxPing = ms
		}
		total += ms
		count++
	}
	if count > 0 {
		st.AvgPing = total / count
	}

	// Server to client loss is approximated from unacknowledged frames.
	if s.framesSent > 0 {
		st.LossS2C = (1 - float64(s.framesAcked)/float64(s.framesSent)) * 100
		if st.LossS2C < 0 {
			st.LossS2C = 0
		}
	}
	if s.packetsReceived > 0 {
		st.LossC2S = float64(s.packetsDropped) / float64(s.packetsReceived) * 100
	}
	return st
}

// formatLag renders the report printed by the lag command.
func formatLag(name string, st LagStats) string {
	return fmt.Sprintf("Lag stats for:       %s\n"+
		"RTT (min/avg/max):   %d/%d/%d ms\n"+
		"Server to client PL: %.2f%% (approx)\n"+
		"Client to server PL: %.2f%%\n",
		name, st.MinPing, st.AvgPing, st.MaxPing, st.LossS2C, st.LossC2S)
}

// LagAlert represents a session over a lag threshold.
type LagAlert struct {
	Slot    int     `json:"slot"`
	Name    string  `json:"name"`
	Level   string  `json:"level"`
	AvgPing int     `json:"avg_ping_ms"`
	Loss    float64 `json:"loss"`
	Message string  `json:"message"`
}

// checkLag evaluates a spawned session against the thresholds.
func checkLag(s *Session) (LagAlert, bool) {
	if s.state != StateSpawned || s.framesSent < lagAlertMinAckCount {
		return LagAlert{}, false
	}

	st := s.LagStats()
	loss := st.LossS2C
	if st.LossC2S > loss {
		loss = st.LossC2S
	}

	level := ""
	switch {
	case st.AvgPing >= LagCriticalPing || loss >= LagCriticalLoss:
		level = "critical"
	case st.AvgPing >= LagWarningPing || loss >= LagWarningLoss:
		level = "warning"
	default:
		return LagAlert{}, false
	}

	return LagAlert{
		Slot:    s.slot,
		Name:    s.name,
		Level:   level,
		AvgPing: st.AvgPing,
		Loss:    loss,
		Message: fmt.Sprintf("%s: %d ms average ping, %.1f%% loss", s.name, st.AvgPing, loss),
	}, true
}
