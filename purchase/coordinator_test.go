package purchase

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/atmosphericc/stockwatch/config"
	"github.com/atmosphericc/stockwatch/models"
	"github.com/atmosphericc/stockwatch/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCoordinator builds a coordinator over a memory store with a seeded rng
// so outcomes are reproducible across the test run.
func newCoordinator(t *testing.T, cfg *config.Config, st store.Store) *Coordinator {
	t.Helper()
	var policy CooldownPolicy
	if cfg.Window > 0 {
		policy = NewWindowAligned(cfg.Window)
	} else {
		policy = NewFixedCooldown(cfg.Cooldown)
	}
	return &Coordinator{
		store:     st,
		scheduler: newScheduler(cfg, rand.New(rand.NewSource(1))),
		admission: NewAdmission(cfg.MaxConcurrentAttempts, cfg.PriorityOrder),
		cooldown:  policy,
		metrics:   NewMetrics(),
	}
}

func coordinatorConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.TCINs = []string{"A", "B", "C"}
	cfg.AttemptDurationMin = 2 * time.Second
	cfg.AttemptDurationMax = 2 * time.Second
	cfg.Cooldown = time.Minute
	return cfg
}

func inStock(tcins ...string) map[string]Availability {
	av := make(map[string]Availability, len(tcins))
	for _, tcin := range tcins {
		av[tcin] = Availability{Available: true, Title: "Item " + tcin}
	}
	return av
}

func statusOf(t *testing.T, st store.Store, tcin string) models.Status {
	t.Helper()
	rec, ok := st.Load()[tcin]
	require.True(t, ok, "no record for %s", tcin)
	return rec.Status
}

func TestTickMaterializesAndAdmits(t *testing.T) {
	cfg := coordinatorConfig()
	cfg.MaxConcurrentAttempts = 3
	st := store.NewMemoryStore()
	c := newCoordinator(t, cfg, st)
	now := time.Now()

	transitions, err := c.Tick(inStock("A", "B"), now)
	require.NoError(t, err)

	// Each item materializes as ready, then starts attempting in the same
	// tick.
	require.Len(t, transitions, 4)
	assert.Equal(t, models.StatusAttempting, statusOf(t, st, "A"))
	assert.Equal(t, models.StatusAttempting, statusOf(t, st, "B"))

	for _, rec := range st.Load() {
		assert.Equal(t, 1, rec.AttemptCount)
		assert.False(t, rec.CompletesAt.IsZero())
		assert.NotEmpty(t, rec.FinalOutcome)
	}
}

func TestTickHonorsConcurrencyCap(t *testing.T) {
	cfg := coordinatorConfig()
	cfg.MaxConcurrentAttempts = 2
	st := store.NewMemoryStore()
	c := newCoordinator(t, cfg, st)
	now := time.Now()

	_, err := c.Tick(inStock("A", "B", "C"), now)
	require.NoError(t, err)

	var attempting int
	for _, rec := range st.Load() {
		if rec.Status == models.StatusAttempting {
			attempting++
		}
	}
	assert.Equal(t, 2, attempting)
	assert.Equal(t, models.StatusReady, statusOf(t, st, "C"))
}

func TestTickIsIdempotentMidAttempt(t *testing.T) {
	cfg := coordinatorConfig()
	st := store.NewMemoryStore()
	c := newCoordinator(t, cfg, st)
	now := time.Now()

	_, err := c.Tick(inStock("A"), now)
	require.NoError(t, err)
	before := st.Load()["A"]

	// Re-ticking before the attempt completes must not change the record.
	transitions, err := c.Tick(inStock("A"), now.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, transitions)
	assert.Equal(t, before, st.Load()["A"])
}

func TestTickRevealsOutcomeAtCompletion(t *testing.T) {
	cfg := coordinatorConfig()
	cfg.SuccessProbability = 1
	st := store.NewMemoryStore()
	c := newCoordinator(t, cfg, st)
	now := time.Now()

	_, err := c.Tick(inStock("A"), now)
	require.NoError(t, err)
	started := st.Load()["A"]

	// One instant before completion nothing is revealed.
	transitions, err := c.Tick(inStock("A"), started.CompletesAt.Add(-time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, transitions)

	// At completion the pre-drawn outcome surfaces.
	transitions, err = c.Tick(inStock("A"), started.CompletesAt)
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.StatusAttempting, transitions[0].From)
	assert.Equal(t, models.StatusPurchased, transitions[0].To)

	got := st.Load()["A"]
	assert.Equal(t, models.StatusPurchased, got.Status)
	assert.Equal(t, started.OrderNumber, got.OrderNumber)
	assert.Equal(t, started.Price, got.Price)
}

func TestTickFailureCarriesReason(t *testing.T) {
	cfg := coordinatorConfig()
	cfg.SuccessProbability = 0
	st := store.NewMemoryStore()
	c := newCoordinator(t, cfg, st)
	now := time.Now()

	_, err := c.Tick(inStock("A"), now)
	require.NoError(t, err)
	started := st.Load()["A"]

	_, err = c.Tick(inStock("A"), started.CompletesAt)
	require.NoError(t, err)

	got := st.Load()["A"]
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, cfg.FailureReasons, got.FailureReason)
	assert.Empty(t, got.OrderNumber)
}

func TestTickPriorityUnderContention(t *testing.T) {
	cfg := coordinatorConfig()
	cfg.MaxConcurrentAttempts = 1
	cfg.PriorityOrder = []string{"B"}
	st := store.NewMemoryStore()
	c := newCoordinator(t, cfg, st)
	now := time.Now()

	_, err := c.Tick(inStock("A", "B"), now)
	require.NoError(t, err)

	assert.Equal(t, models.StatusAttempting, statusOf(t, st, "B"))
	assert.Equal(t, models.StatusReady, statusOf(t, st, "A"))
}

func TestTickNoStarvationAcrossCycles(t *testing.T) {
	cfg := coordinatorConfig()
	cfg.MaxConcurrentAttempts = 1
	cfg.SuccessProbability = 0
	cfg.Cooldown = 10 * time.Second
	st := store.NewMemoryStore()
	c := newCoordinator(t, cfg, st)

	seen := map[string]bool{}
	now := time.Now()
	availability := inStock("A", "B")

	// Walk the clock through several attempt/cooldown cycles; with one
	// slot, both items must eventually get a turn.
	for i := 0; i < 40 && (!seen["A"] || !seen["B"]); i++ {
		_, err := c.Tick(availability, now)
		require.NoError(t, err)
		for tcin, rec := range st.Load() {
			if rec.Status == models.StatusAttempting {
				seen[tcin] = true
			}
		}
		now = now.Add(5 * time.Second)
	}

	assert.True(t, seen["A"], "A never attempted")
	assert.True(t, seen["B"], "B never attempted")
}

func TestTickFullLifecycleBackToReady(t *testing.T) {
	cfg := coordinatorConfig()
	cfg.SuccessProbability = 0
	st := store.NewMemoryStore()
	c := newCoordinator(t, cfg, st)
	now := time.Now()

	_, err := c.Tick(inStock("A"), now)
	require.NoError(t, err)
	started := st.Load()["A"]

	_, err = c.Tick(inStock("A"), started.CompletesAt)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, statusOf(t, st, "A"))

	// Strictly past completion plus cooldown the item is ready again, and
	// the next tick re-admits it with a bumped attempt count.
	after := started.CompletesAt.Add(cfg.Cooldown + time.Millisecond)
	transitions, err := c.Tick(inStock("A"), after)
	require.NoError(t, err)

	got := st.Load()["A"]
	assert.Equal(t, models.StatusAttempting, got.Status)
	assert.Equal(t, 2, got.AttemptCount)

	// failed -> ready -> attempting in one pass.
	require.Len(t, transitions, 2)
	assert.Equal(t, models.StatusReady, transitions[0].To)
	assert.Equal(t, models.StatusAttempting, transitions[1].To)
}

func TestTickWindowAlignedReset(t *testing.T) {
	cfg := coordinatorConfig()
	cfg.Cooldown = 0
	cfg.Window = time.Minute
	cfg.SuccessProbability = 0
	st := store.NewMemoryStore()
	c := newCoordinator(t, cfg, st)

	start := time.Date(2026, 8, 1, 12, 0, 5, 0, time.UTC)
	_, err := c.Tick(inStock("A"), start)
	require.NoError(t, err)
	started := st.Load()["A"]

	_, err = c.Tick(inStock("A"), started.CompletesAt)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, statusOf(t, st, "A"))

	// Still terminal for the rest of the completion window.
	_, err = c.Tick(inStock("A"), time.Date(2026, 8, 1, 12, 0, 59, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, statusOf(t, st, "A"))

	// The next window re-admits it.
	_, err = c.Tick(inStock("A"), time.Date(2026, 8, 1, 12, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, models.StatusAttempting, statusOf(t, st, "A"))
}

func TestTickUnavailableItemStaysReady(t *testing.T) {
	cfg := coordinatorConfig()
	st := store.NewMemoryStore()
	c := newCoordinator(t, cfg, st)
	now := time.Now()

	availability := map[string]Availability{
		"A": {Available: false, Title: "Item A"},
	}
	transitions, err := c.Tick(availability, now)
	require.NoError(t, err)

	// Materialized but never admitted.
	require.Len(t, transitions, 1)
	assert.Equal(t, models.StatusReady, statusOf(t, st, "A"))
}

func TestTickStoreErrorAborts(t *testing.T) {
	cfg := coordinatorConfig()
	st := store.NewMemoryStore()
	c := newCoordinator(t, cfg, st)

	st.SaveErr = errors.New("disk full")
	transitions, err := c.Tick(inStock("A"), time.Now())
	assert.Error(t, err)
	assert.Nil(t, transitions)
	assert.Empty(t, st.Load())

	// Once persistence recovers the same observations apply cleanly.
	st.SaveErr = nil
	_, err = c.Tick(inStock("A"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.StatusAttempting, statusOf(t, st, "A"))
}

func TestSnapshotRevealsPastDueAttempts(t *testing.T) {
	cfg := coordinatorConfig()
	cfg.SuccessProbability = 1
	st := store.NewMemoryStore()
	c := newCoordinator(t, cfg, st)
	now := time.Now()

	_, err := c.Tick(inStock("A"), now)
	require.NoError(t, err)
	started := st.Load()["A"]

	// No tick has run since completion, but the view must not show a
	// stale attempting record with a past-due completion time.
	snap := c.Snapshot(started.CompletesAt.Add(time.Hour))
	assert.Equal(t, models.StatusPurchased, snap.Records["A"].Status)
	assert.Equal(t, 0, snap.Attempting)
	assert.Equal(t, 1, snap.Purchased)

	// The reveal is view-only; durable state changes only in Tick.
	assert.Equal(t, models.StatusAttempting, statusOf(t, st, "A"))

	// Before completion the attempt shows as attempting.
	early := c.Snapshot(started.CompletesAt.Add(-time.Millisecond))
	assert.Equal(t, models.StatusAttempting, early.Records["A"].Status)
}

func TestSnapshotCounts(t *testing.T) {
	cfg := coordinatorConfig()
	cfg.MaxConcurrentAttempts = 1
	st := store.NewMemoryStore()
	c := newCoordinator(t, cfg, st)
	now := time.Now()

	_, err := c.Tick(inStock("A", "B"), now)
	require.NoError(t, err)

	snap := c.Snapshot(now)
	assert.Len(t, snap.Records, 2)
	assert.Equal(t, 1, snap.Attempting)
	assert.Equal(t, 1, snap.Ready)
}
