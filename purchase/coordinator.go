package purchase

import (
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/atmosphericc/stockwatch/config"
	"github.com/atmosphericc/stockwatch/models"
	"github.com/atmosphericc/stockwatch/store"
)

// Availability is one item's observed state for a tick, as delivered by a
// stock source. Items absent from the availability map are simply not
// considered for admission.
type Availability struct {
	Available bool
	Title     string
}

// Transition describes one record state change produced by a tick. A
// Transition with an empty From marks a newly materialized record.
type Transition struct {
	TCIN   string                `json:"tcin"`
	From   models.Status         `json:"from,omitempty"`
	To     models.Status         `json:"to"`
	Record models.PurchaseRecord `json:"record"`
	At     time.Time             `json:"at"`
}

// Coordinator is the orchestrating state machine. Each tick it reveals due
// completions, applies the cooldown policy, materializes newly observed
// items, and admits new attempts, all inside one lock-guarded
// load/mutate/save cycle against the state store.
type Coordinator struct {
	store     store.Store
	scheduler *Scheduler
	admission *Admission
	cooldown  CooldownPolicy
	metrics   *Metrics
}

// New wires a coordinator from configuration. The active cooldown policy is
// window-aligned when cfg.Window is set, fixed otherwise.
func New(cfg *config.Config, st store.Store, metrics *Metrics) *Coordinator {
	var policy CooldownPolicy
	if cfg.Window > 0 {
		policy = NewWindowAligned(cfg.Window)
	} else {
		policy = NewFixedCooldown(cfg.Cooldown)
	}
	return &Coordinator{
		store:     st,
		scheduler: NewScheduler(cfg),
		admission: NewAdmission(cfg.MaxConcurrentAttempts, cfg.PriorityOrder),
		cooldown:  policy,
		metrics:   metrics,
	}
}

// Tick advances the state machine one cycle against the given availability
// observations. It returns the transitions that occurred, for logging and
// observability; correctness does not depend on the caller consuming them.
// A store error aborts the tick without mutating durable state; the next
// tick retries from the previous durable state.
func (c *Coordinator) Tick(availability map[string]Availability, now time.Time) ([]Transition, error) {
	start := time.Now()
	var transitions []Transition
	var attempting int

	err := c.store.WithLock(func(records map[string]models.PurchaseRecord) map[string]models.PurchaseRecord {
		transitions = c.advance(records, availability, now)
		for _, rec := range records {
			if rec.Status == models.StatusAttempting {
				attempting++
			}
		}
		return records
	})
	if err != nil {
		if errors.Is(err, store.ErrLockTimeout) {
			c.metrics.IncLockTimeout()
			c.metrics.IncTick("skipped")
		} else {
			c.metrics.IncTick("error")
		}
		return nil, err
	}

	for _, tr := range transitions {
		c.metrics.IncTransition(string(tr.From), string(tr.To))
	}
	c.metrics.SetActiveAttempts(attempting)
	c.metrics.IncTick("ok")
	c.metrics.ObserveTick(time.Since(start))

	return transitions, nil
}

// advance applies the tick sequence to the locked snapshot: reveal, cool
// down, materialize, admit.
func (c *Coordinator) advance(records map[string]models.PurchaseRecord, availability map[string]Availability, now time.Time) []Transition {
	var transitions []Transition

	// Reveal completions. This is the only place a status becomes
	// terminal: the outcome was fixed at admission and is only surfaced
	// here once the pre-computed completion time has passed.
	for _, tcin := range sortedKeys(records) {
		rec := records[tcin]
		if !rec.Due(now) {
			continue
		}
		from := rec.Status
		rec.Status = rec.FinalOutcome
		c.cooldown.Stamp(&rec, now)
		records[tcin] = rec
		transitions = append(transitions, Transition{TCIN: tcin, From: from, To: rec.Status, Record: rec, At: now})
		if rec.Status == models.StatusPurchased {
			slog.Info("purchase succeeded",
				slog.String("tcin", tcin),
				slog.String("order", rec.OrderNumber),
				slog.Float64("price", rec.Price),
			)
		} else {
			slog.Info("purchase failed",
				slog.String("tcin", tcin),
				slog.String("reason", rec.FailureReason),
			)
		}
	}

	// Apply the cooldown policy to terminal records.
	before := make(map[string]models.Status, len(records))
	for tcin, rec := range records {
		before[tcin] = rec.Status
	}
	reset := c.cooldown.Advance(records, now)
	sort.Strings(reset)
	for _, tcin := range reset {
		rec := records[tcin]
		transitions = append(transitions, Transition{TCIN: tcin, From: before[tcin], To: rec.Status, Record: rec, At: now})
		slog.Debug("cooldown elapsed", slog.String("tcin", tcin), slog.String("was", string(before[tcin])))
	}

	// Materialize first-seen items as ready records so they compete for
	// admission in this same pass.
	for _, tcin := range sortedAvailabilityKeys(availability) {
		if _, known := records[tcin]; known {
			continue
		}
		rec := models.NewRecord(tcin, availability[tcin].Title)
		records[tcin] = rec
		transitions = append(transitions, Transition{TCIN: tcin, To: models.StatusReady, Record: rec, At: now})
	}

	// Admit new attempts up to capacity.
	available := make(map[string]bool, len(availability))
	for tcin, av := range availability {
		available[tcin] = av.Available
	}
	for _, tcin := range c.admission.Select(records, available) {
		prev := records[tcin]
		rec := c.scheduler.Schedule(prev, tcin, availability[tcin].Title, now)
		records[tcin] = rec
		transitions = append(transitions, Transition{TCIN: tcin, From: prev.Status, To: rec.Status, Record: rec, At: now})
		slog.Info("purchase attempt started",
			slog.String("tcin", tcin),
			slog.String("title", rec.Title),
			slog.Time("completes_at", rec.CompletesAt),
			slog.Int("attempt", rec.AttemptCount),
		)
	}

	return transitions
}

// Snapshot returns a consistent view of all records plus derived counts for
// the dashboard layer. Atomic replace-on-write guarantees the read is never
// torn. Attempts whose completion time has passed are shown with their final
// outcome even if no tick has persisted the reveal yet; the outcome was
// fixed at admission, so the view and the eventual durable state agree.
func (c *Coordinator) Snapshot(now time.Time) models.Snapshot {
	records := c.store.Load()
	for tcin, rec := range records {
		if rec.Due(now) {
			rec.Status = rec.FinalOutcome
			records[tcin] = rec
		}
	}
	return models.BuildSnapshot(records, now)
}

func sortedKeys(records map[string]models.PurchaseRecord) []string {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedAvailabilityKeys(availability map[string]Availability) []string {
	keys := make([]string, 0, len(availability))
	for k := range availability {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
