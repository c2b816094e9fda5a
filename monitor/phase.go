// Copyright 2026 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.


package monitor

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/tkmct/staledb/metrics"
)

// Phase is the monitor's operational phase.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseWaitingSync  Phase = "waiting-sync"
	PhaseMonitoring   Phase = "monitoring"
	PhaseFailed       Phase = "failed"
)

// PhaseTracker records phase transitions and mirrors them into the phase
// gauge. Failed is terminal.
type PhaseTracker struct {
	mu      sync.Mutex
	current Phase
	since   time.Time
	metrics *metrics.Metrics
}

// NewPhaseTracker creates a tracker in the initializing phase.
func NewPhaseTracker(m *metrics.Metrics) *PhaseTracker {
	m.SetPhase(string(PhaseInitializing))
	return &PhaseTracker{
		current: PhaseInitializing,
		since:   time.Now(),
		metrics: m,
	}
}

// Transition moves the tracker to phase to.
func (pt *PhaseTracker) Transition(to Phase) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.current == to || pt.current == PhaseFailed {
		return
	}
	prev := pt.current
	pt.current = to
	pt.since = time.Now()
	pt.metrics.SetPhase(string(to))

	if to == PhaseFailed {
		log.Warn("Monitor phase transition", "from", prev, "to", to)
	} else {
		log.Info("Monitor phase transition", "from", prev, "to", to)
	}
}

// Current returns the active phase.
func (pt *PhaseTracker) Current() Phase {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.current
}

// Since returns when the active phase was entered.
func (pt *PhaseTracker) Since() time.Time {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.since
}
