package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func schedulerAtHour(hour int, defaults StoreConfig, configs map[string]StoreConfig) (*Scheduler, *fakeClock) {
	clock := newFakeClock(time.Date(2026, time.March, 10, hour, 0, 0, 0, time.UTC))
	return NewScheduler(clock, defaults, configs), clock
}

func TestSchedulerActiveHoursWindow(t *testing.T) {
	t.Parallel()

	cfg := StoreConfig{ActiveHoursStart: 8, ActiveHoursEnd: 20}
	s, _ := schedulerAtHour(14, cfg, nil)
	require.True(t, s.CanPublishNow("shopify"))

	s, _ = schedulerAtHour(6, cfg, nil)
	require.False(t, s.CanPublishNow("shopify"), "hour 6 is outside [8, 20)")

	s, _ = schedulerAtHour(20, cfg, nil)
	require.False(t, s.CanPublishNow("shopify"), "end hour is exclusive")

	s, _ = schedulerAtHour(8, cfg, nil)
	require.True(t, s.CanPublishNow("shopify"), "start hour is inclusive")
}

func TestSchedulerOvernightWindowWrapsMidnight(t *testing.T) {
	t.Parallel()

	cfg := StoreConfig{ActiveHoursStart: 22, ActiveHoursEnd: 6}
	s, _ := schedulerAtHour(23, cfg, nil)
	require.True(t, s.CanPublishNow("shopify"))

	s, _ = schedulerAtHour(3, cfg, nil)
	require.True(t, s.CanPublishNow("shopify"))

	s, _ = schedulerAtHour(12, cfg, nil)
	require.False(t, s.CanPublishNow("shopify"))
}

func TestSchedulerEmptyWindowNeverOpens(t *testing.T) {
	t.Parallel()

	cfg := StoreConfig{ActiveHoursStart: 5, ActiveHoursEnd: 5, MaxPublicationsPerHour: 10}
	for _, hour := range []int{3, 5, 12, 23} {
		s, _ := schedulerAtHour(hour, cfg, nil)
		require.False(t, s.CanPublishNow("shopify"), "hour %d: an empty window is closed, not 24/7", hour)
		require.False(t, s.TryReserve("shopify"), "hour %d", hour)
	}
}

func TestSchedulerCooldown(t *testing.T) {
	t.Parallel()

	cfg := StoreConfig{Cooldown: 10 * time.Minute}
	s, clock := schedulerAtHour(14, cfg, nil)

	require.True(t, s.CanPublishNow("shopify"))
	s.RecordPublication("shopify")
	require.False(t, s.CanPublishNow("shopify"), "cooldown blocks immediately after a publish")

	clock.Advance(9 * time.Minute)
	require.False(t, s.CanPublishNow("shopify"))

	clock.Advance(time.Minute)
	require.True(t, s.CanPublishNow("shopify"), "cooldown boundary is inclusive")
}

func TestSchedulerTrailingHourCap(t *testing.T) {
	t.Parallel()

	cfg := StoreConfig{MaxPublicationsPerHour: 2}
	s, clock := schedulerAtHour(14, cfg, nil)

	s.RecordPublication("shopify")
	clock.Advance(time.Minute)
	s.RecordPublication("shopify")
	require.False(t, s.CanPublishNow("shopify"), "cap reached within the trailing hour")

	// The first publication ages out of the window and frees a slot.
	clock.Advance(time.Hour)
	require.True(t, s.CanPublishNow("shopify"))
}

func TestSchedulerReservationsHoldCapSlots(t *testing.T) {
	t.Parallel()

	cfg := StoreConfig{MaxPublicationsPerHour: 2}
	s, _ := schedulerAtHour(14, cfg, nil)

	require.True(t, s.TryReserve("shopify"))
	require.True(t, s.TryReserve("shopify"))
	require.False(t, s.TryReserve("shopify"), "in-flight reservations count against the cap")
	require.False(t, s.CanPublishNow("shopify"))

	// An attempt that ends without publishing frees its slot.
	s.ReleaseReservation("shopify")
	require.True(t, s.CanPublishNow("shopify"))
	require.True(t, s.TryReserve("shopify"))

	// Publications settle their reservation instead of double-counting.
	s.RecordPublication("shopify")
	s.RecordPublication("shopify")
	summary := s.StoreSummary("shopify")
	require.Equal(t, 2, summary.PublishedLastHour)
	require.False(t, summary.CanPublishNow)
	require.False(t, s.TryReserve("shopify"))
}

func TestSchedulerStoresAreIndependent(t *testing.T) {
	t.Parallel()

	cfg := StoreConfig{Cooldown: time.Hour, MaxPublicationsPerHour: 1}
	s, _ := schedulerAtHour(14, cfg, nil)

	s.RecordPublication("shopify")
	require.False(t, s.CanPublishNow("shopify"))
	require.True(t, s.CanPublishNow("woocommerce"), "one store's state never affects another")
}

func TestSchedulerIsDeterministicForFixedClock(t *testing.T) {
	t.Parallel()

	cfg := StoreConfig{ActiveHoursStart: 8, ActiveHoursEnd: 20, Cooldown: 5 * time.Minute}
	s, _ := schedulerAtHour(14, cfg, nil)

	first := s.CanPublishNow("shopify")
	for i := 0; i < 10; i++ {
		require.Equal(t, first, s.CanPublishNow("shopify"))
	}
}

func TestSchedulerPerStoreOverrides(t *testing.T) {
	t.Parallel()

	defaults := StoreConfig{ActiveHoursStart: 8, ActiveHoursEnd: 20, MaxPublicationsPerHour: 10}
	configs := map[string]StoreConfig{
		"amazon": {ActiveHoursStart: 0, ActiveHoursEnd: 0, MaxPublicationsPerHour: 1},
	}
	s, _ := schedulerAtHour(14, defaults, configs)

	cfg := s.ConfigFor("amazon")
	require.Equal(t, 8, cfg.ActiveHoursStart, "unset window inherits the default")
	require.Equal(t, 20, cfg.ActiveHoursEnd)
	require.Equal(t, 1, cfg.MaxPublicationsPerHour, "explicit override wins")

	require.Equal(t, defaults.MaxPublicationsPerHour, s.ConfigFor("unknown").MaxPublicationsPerHour)
}

func TestSchedulerStoreSummaryNextEligible(t *testing.T) {
	t.Parallel()

	cfg := StoreConfig{ActiveHoursStart: 8, ActiveHoursEnd: 20, Cooldown: 30 * time.Minute}
	s, clock := schedulerAtHour(19, cfg, nil)

	s.RecordPublication("shopify")
	clock.Advance(45 * time.Minute) // 19:45, cooldown already elapsed

	summary := s.StoreSummary("shopify")
	require.True(t, summary.CanPublishNow)
	require.Equal(t, 1, summary.PublishedLastHour)

	// 20:15 is past the window close; eligibility rolls to tomorrow's opening.
	clock.Advance(30 * time.Minute)
	summary = s.StoreSummary("shopify")
	require.False(t, summary.CanPublishNow)
	require.Equal(t, 8, summary.NextEligibleAt.Hour())
	require.True(t, summary.NextEligibleAt.After(clock.Now()))
}
