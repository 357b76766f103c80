package orchestrator

import (
	"sync"
	"time"

	"github.com/listforge/listforge/internal/pipeline"
)

// StoreConfig holds the per-store publication policy.
type StoreConfig struct {
	// ActiveHoursStart/End bound the local publishing window [start, end).
	// Start greater than end wraps past midnight.
	ActiveHoursStart int
	ActiveHoursEnd   int
	// Cooldown is the minimum gap after a successful publish to the store.
	Cooldown time.Duration
	// MaxPublicationsPerHour caps publishes within the trailing hour.
	MaxPublicationsPerHour int
	// MinConfidenceScore overrides the guardrail threshold for this store.
	MinConfidenceScore float64
}

// StoreSummary reports a store's eligibility for dashboards and tests.
type StoreSummary struct {
	StoreID           string    `json:"store_id"`
	CanPublishNow     bool      `json:"can_publish_now"`
	NextEligibleAt    time.Time `json:"next_eligible_at"`
	PublishedLastHour int       `json:"published_last_hour"`
	LastSuccessAt     time.Time `json:"last_success_at,omitzero"`
}

type storeState struct {
	lastSuccess time.Time
	history     []time.Time
	// reserved counts slots held by in-flight publishes, so concurrent
	// workers cannot collectively exceed the trailing-hour cap.
	reserved int
}

// Scheduler decides whether "now" is an eligible moment to publish to a
// store. Given a fixed clock and configuration the answer is a pure function,
// so tests drive it with a fake clock.
type Scheduler struct {
	mu       sync.Mutex
	clock    pipeline.Clock
	defaults StoreConfig
	configs  map[string]StoreConfig
	state    map[string]*storeState
}

// NewScheduler builds a Scheduler with per-store overrides over defaults.
func NewScheduler(clock pipeline.Clock, defaults StoreConfig, configs map[string]StoreConfig) *Scheduler {
	if defaults.ActiveHoursEnd == 0 && defaults.ActiveHoursStart == 0 {
		defaults.ActiveHoursEnd = 24
	}
	if defaults.MaxPublicationsPerHour <= 0 {
		defaults.MaxPublicationsPerHour = 10
	}
	return &Scheduler{
		clock:    clock,
		defaults: defaults,
		configs:  configs,
		state:    make(map[string]*storeState),
	}
}

// ConfigFor returns the effective policy for a store.
func (s *Scheduler) ConfigFor(storeID string) StoreConfig {
	cfg, ok := s.configs[storeID]
	if !ok {
		return s.defaults
	}
	if cfg.ActiveHoursStart == 0 && cfg.ActiveHoursEnd == 0 {
		cfg.ActiveHoursStart = s.defaults.ActiveHoursStart
		cfg.ActiveHoursEnd = s.defaults.ActiveHoursEnd
	}
	if cfg.MaxPublicationsPerHour <= 0 {
		cfg.MaxPublicationsPerHour = s.defaults.MaxPublicationsPerHour
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = s.defaults.Cooldown
	}
	if cfg.MinConfidenceScore <= 0 {
		cfg.MinConfidenceScore = s.defaults.MinConfidenceScore
	}
	return cfg
}

// CanPublishNow checks the active-hours window, the cooldown since the last
// successful publish, and the trailing-hour publication cap. Stores never
// influence each other: all state is keyed per store.
func (s *Scheduler) CanPublishNow(storeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	cfg := s.ConfigFor(storeID)
	state := s.stateFor(storeID)
	s.pruneLocked(state, now)
	return eligible(state, cfg, now)
}

// TryReserve atomically checks eligibility and holds a slot against the
// trailing-hour cap. Every successful reservation must be settled with
// RecordPublication or ReleaseReservation.
func (s *Scheduler) TryReserve(storeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	cfg := s.ConfigFor(storeID)
	state := s.stateFor(storeID)
	s.pruneLocked(state, now)
	if !eligible(state, cfg, now) {
		return false
	}
	state.reserved++
	return true
}

// ReleaseReservation frees a slot held by TryReserve when the attempt ended
// without a publication.
func (s *Scheduler) ReleaseReservation(storeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.stateFor(storeID)
	if state.reserved > 0 {
		state.reserved--
	}
}

// RecordPublication registers a successful publish for cooldown and
// rate-window accounting, settling the reservation that covered it.
func (s *Scheduler) RecordPublication(storeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	state := s.stateFor(storeID)
	if state.reserved > 0 {
		state.reserved--
	}
	state.lastSuccess = now
	state.history = append(state.history, now)
	s.pruneLocked(state, now)
}

// StoreSummary reports eligibility, the next eligible timestamp, and rolling
// counters for one store.
func (s *Scheduler) StoreSummary(storeID string) StoreSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	cfg := s.ConfigFor(storeID)
	state := s.stateFor(storeID)
	s.pruneLocked(state, now)

	inWindow := hourInWindow(now.Hour(), cfg.ActiveHoursStart, cfg.ActiveHoursEnd)
	cooldownOK := state.lastSuccess.IsZero() || now.Sub(state.lastSuccess) >= cfg.Cooldown
	underCap := len(state.history)+state.reserved < cfg.MaxPublicationsPerHour

	next := now
	if !cooldownOK {
		next = state.lastSuccess.Add(cfg.Cooldown)
	}
	if !underCap && len(state.history) > 0 {
		// The oldest publication in the trailing window frees a slot an hour
		// after it happened.
		if freed := state.history[0].Add(time.Hour); freed.After(next) {
			next = freed
		}
	}
	next = rollForwardToWindow(next, cfg.ActiveHoursStart, cfg.ActiveHoursEnd)

	return StoreSummary{
		StoreID:           storeID,
		CanPublishNow:     inWindow && cooldownOK && underCap,
		NextEligibleAt:    next,
		PublishedLastHour: len(state.history),
		LastSuccessAt:     state.lastSuccess,
	}
}

func (s *Scheduler) stateFor(storeID string) *storeState {
	state, ok := s.state[storeID]
	if !ok {
		state = &storeState{}
		s.state[storeID] = state
	}
	return state
}

func (s *Scheduler) pruneLocked(state *storeState, now time.Time) {
	cutoff := now.Add(-time.Hour)
	kept := state.history[:0]
	for _, t := range state.history {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	state.history = kept
}

func eligible(state *storeState, cfg StoreConfig, now time.Time) bool {
	if !hourInWindow(now.Hour(), cfg.ActiveHoursStart, cfg.ActiveHoursEnd) {
		return false
	}
	if !state.lastSuccess.IsZero() && now.Sub(state.lastSuccess) < cfg.Cooldown {
		return false
	}
	return len(state.history)+state.reserved < cfg.MaxPublicationsPerHour
}

func hourInWindow(hour, start, end int) bool {
	if start == end {
		// Empty window. Config validation rejects it; a store configured
		// this way never publishes.
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// rollForwardToWindow advances t to the next moment inside [start, end).
func rollForwardToWindow(t time.Time, start, end int) time.Time {
	if hourInWindow(t.Hour(), start, end) {
		return t
	}
	opening := time.Date(t.Year(), t.Month(), t.Day(), start, 0, 0, 0, t.Location())
	if !opening.After(t) {
		opening = opening.Add(24 * time.Hour)
	}
	return opening
}
