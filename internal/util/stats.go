package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide call counter.
var Stats = &stats{}

type stats struct {
	CallsPlaced       atomic.Int64 // outgoing calls initiated since process start
	CallsReceived     atomic.Int64 // incoming call-requests seen since process start
	CallsConnected    atomic.Int64 // calls that reached the connected state
	CandidatesSent    atomic.Int64 // local ICE candidates delivered to the relay
	CandidatesApplied atomic.Int64 // remote ICE candidates applied to a peer connection
}

func (s *stats) AddPlaced()    { s.CallsPlaced.Add(1) }
func (s *stats) AddReceived()  { s.CallsReceived.Add(1) }
func (s *stats) AddConnected() { s.CallsConnected.Add(1) }
func (s *stats) AddSent()      { s.CandidatesSent.Add(1) }
func (s *stats) AddApplied()   { s.CandidatesApplied.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs call statistics
// every 30 seconds, but only when something changed since the previous
// report. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		var prev [5]int64
		for {
			select {
			case <-ticker.C:
				cur := [5]int64{
					Stats.CallsPlaced.Load(),
					Stats.CallsReceived.Load(),
					Stats.CallsConnected.Load(),
					Stats.CandidatesSent.Load(),
					Stats.CandidatesApplied.Load(),
				}
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur))
					prev = cur
				}

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(c [5]int64) string {
	return fmt.Sprintf("Calls: %d↑ %d↓ %d✓ | ICE: %d sent, %d applied",
		c[0], c[1], c[2], c[3], c[4])
}
