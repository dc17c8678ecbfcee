// Package store persists alerts and incident records. The memory store
// backs a single center process; the Postgres store adds durability for
// deployments that need history across restarts.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quadshield/quadshield/internal/model"
	"github.com/quadshield/quadshield/internal/ringbuf"
)

// MemoryStore provides thread-safe storage for alerts and incidents with a
// bounded alert window and LRU deduplication of redelivered alerts.
type MemoryStore struct {
	mu          sync.RWMutex
	alerts      *ringbuf.Ring[model.ThreatAlert]
	dedupe      *lru.Cache[string, bool]
	incidents   *lru.Cache[string, model.IncidentRecord]
	incidentCap int
	steps       *lru.Cache[string, []model.ProcessingStep]
	order       []string
}

// NewMemoryStore creates a memory store keeping at most maxAlerts alerts
// and incidentCap incident records.
func NewMemoryStore(maxAlerts, incidentCap int) *MemoryStore {
	dedupe, _ := lru.New[string, bool](maxAlerts)
	incidents, _ := lru.New[string, model.IncidentRecord](incidentCap)
	steps, _ := lru.New[string, []model.ProcessingStep](incidentCap)
	return &MemoryStore{
		alerts:      ringbuf.New[model.ThreatAlert](maxAlerts),
		dedupe:      dedupe,
		incidents:   incidents,
		incidentCap: incidentCap,
		steps:       steps,
	}
}

// AddAlert stores an alert unless it is a redelivery of one already seen.
// It reports whether the alert was added.
func (s *MemoryStore) AddAlert(alert model.ThreatAlert) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupeKey(alert)
	if _, exists := s.dedupe.Get(key); exists {
		return false
	}
	s.dedupe.Add(key, true)
	s.alerts.Append(alert)
	return true
}

// AlertsSince returns stored alerts with timestamps at or after since,
// oldest first.
func (s *MemoryStore) AlertsSince(_ context.Context, since time.Time) ([]model.ThreatAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ThreatAlert
	for _, a := range s.alerts.Snapshot() {
		if !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

// SaveIncident stores or replaces the record for an incident.
func (s *MemoryStore) SaveIncident(rec model.IncidentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.incidents.Peek(rec.IncidentID); !exists {
		s.order = append(s.order, rec.IncidentID)
		if len(s.order) > 2*s.incidentCap {
			s.compactOrder()
		}
	}
	s.incidents.Add(rec.IncidentID, rec)
}

// Incident returns the record for an incident ID.
func (s *MemoryStore) Incident(incidentID string) (model.IncidentRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.incidents.Get(incidentID)
}

// RecentIncidents returns up to n of the most recently created incidents,
// newest first.
func (s *MemoryStore) RecentIncidents(n int) []model.IncidentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.IncidentRecord
	for i := len(s.order) - 1; i >= 0 && len(out) < n; i-- {
		if rec, ok := s.incidents.Peek(s.order[i]); ok {
			out = append(out, rec)
		}
	}
	return out
}

// AppendStep records one processing step in an incident's audit trail.
func (s *MemoryStore) AppendStep(step model.ProcessingStep) {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps, _ := s.steps.Get(step.IncidentID)
	s.steps.Add(step.IncidentID, append(steps, step))
}

// Steps returns the audit trail recorded for an incident.
func (s *MemoryStore) Steps(incidentID string) []model.ProcessingStep {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps, _ := s.steps.Get(incidentID)
	return append([]model.ProcessingStep(nil), steps...)
}

// Stats returns store occupancy counters.
func (s *MemoryStore) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"alerts":     s.alerts.Len(),
		"max_alerts": s.alerts.Cap(),
		"incidents":  s.incidents.Len(),
		"dedupe":     s.dedupe.Len(),
	}
}

// compactOrder drops order entries whose incidents were evicted.
func (s *MemoryStore) compactOrder() {
	kept := s.order[:0]
	for _, id := range s.order {
		if s.incidents.Contains(id) {
			kept = append(kept, id)
		}
	}
	s.order = kept
}

func dedupeKey(alert model.ThreatAlert) string {
	return fmt.Sprintf("%s:%s:%d", alert.AgentID, alert.MalwareProcess, alert.Timestamp.UnixNano())
}
