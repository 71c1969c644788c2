// Package purchase implements the purchase-attempt coordination state
// machine: deciding when an attempt may start for an item, tracking
// attempts to completion, and governing when a completed item becomes
// eligible again. The persisted record map is the single source of truth;
// every mutation happens inside one store.WithLock critical section.
package purchase

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/atmosphericc/stockwatch/config"
	"github.com/atmosphericc/stockwatch/models"
)

// Scheduler materializes new attempt records. Duration, outcome, and the
// outcome payload are all drawn once, at start time: whether an attempt is
// finished, and with what result, is then a pure function of wall-clock
// time. Two observers can never disagree about the outcome of the same
// attempt.
type Scheduler struct {
	durationMin time.Duration
	durationMax time.Duration
	successProb float64
	reasons     []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewScheduler builds a scheduler from cfg, seeded from the current time.
func NewScheduler(cfg *config.Config) *Scheduler {
	return newScheduler(cfg, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func newScheduler(cfg *config.Config, rng *rand.Rand) *Scheduler {
	reasons := make([]string, len(cfg.FailureReasons))
	copy(reasons, cfg.FailureReasons)
	return &Scheduler{
		durationMin: cfg.AttemptDurationMin,
		durationMax: cfg.AttemptDurationMax,
		successProb: cfg.SuccessProbability,
		reasons:     reasons,
		rng:         rng,
	}
}

// Schedule returns a fully-populated attempting record for the item. The
// previous record supplies the running attempt count; all randomness is
// resolved here and never recomputed.
func (s *Scheduler) Schedule(prev models.PurchaseRecord, tcin, title string, now time.Time) models.PurchaseRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	duration := s.durationMin
	if spread := s.durationMax - s.durationMin; spread > 0 {
		duration += time.Duration(s.rng.Int63n(int64(spread) + 1))
	}

	if title == "" {
		title = prev.Title
	}

	rec := models.PurchaseRecord{
		TCIN:         tcin,
		Status:       models.StatusAttempting,
		Title:        title,
		StartedAt:    now,
		CompletesAt:  now.Add(duration),
		AttemptCount: prev.AttemptCount + 1,
	}

	if s.rng.Float64() < s.successProb {
		rec.FinalOutcome = models.StatusPurchased
		rec.OrderNumber = s.orderNumberLocked()
		rec.Price = s.priceLocked()
	} else {
		rec.FinalOutcome = models.StatusFailed
		rec.FailureReason = s.reasons[s.rng.Intn(len(s.reasons))]
	}

	return rec
}

func (s *Scheduler) orderNumberLocked() string {
	return orderNumber(100000+s.rng.Intn(900000), 10+s.rng.Intn(90))
}

func (s *Scheduler) priceLocked() float64 {
	price := 15.99 + s.rng.Float64()*(89.99-15.99)
	return math.Round(price*100) / 100
}

func orderNumber(serial, suffix int) string {
	return fmt.Sprintf("ORD-%06d-%02d", serial, suffix)
}
