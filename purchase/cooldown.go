package purchase

import (
	"time"

	"github.com/atmosphericc/stockwatch/models"
)

// CooldownPolicy governs when a terminal record becomes eligible to attempt
// again. Exactly one policy is active per deployment; fixed and
// window-aligned resets yield different cadences for items completing near
// a window boundary, so mixing them is not supported.
type CooldownPolicy interface {
	// Stamp annotates a record at the moment it reaches a terminal state.
	Stamp(rec *models.PurchaseRecord, now time.Time)
	// Advance resets every expired terminal record back to ready and
	// returns the TCINs it reset.
	Advance(records map[string]models.PurchaseRecord, now time.Time) []string
}

// FixedCooldown resets a terminal record a fixed duration after its
// pre-computed completion time.
type FixedCooldown struct {
	cooldown time.Duration
}

// NewFixedCooldown builds the fixed-duration policy.
func NewFixedCooldown(cooldown time.Duration) *FixedCooldown {
	return &FixedCooldown{cooldown: cooldown}
}

// Stamp records the completion moment.
func (p *FixedCooldown) Stamp(rec *models.PurchaseRecord, now time.Time) {
	rec.CompletedAt = now
}

// Advance resets records whose cooldown has elapsed. A record completing at
// T with cooldown C stays terminal through T+C and is ready strictly after.
func (p *FixedCooldown) Advance(records map[string]models.PurchaseRecord, now time.Time) []string {
	var reset []string
	for tcin, rec := range records {
		if !rec.Terminal() {
			continue
		}
		if now.After(rec.CompletesAt.Add(p.cooldown)) {
			records[tcin] = resetToReady(rec)
			reset = append(reset, tcin)
		}
	}
	return reset
}

// WindowAligned resets all terminal records together whenever the discrete
// time window advances past the one in which they completed. Used when all
// items should resynchronize on a shared cadence instead of individual
// timers.
type WindowAligned struct {
	window time.Duration
}

// NewWindowAligned builds the window-aligned policy.
func NewWindowAligned(window time.Duration) *WindowAligned {
	return &WindowAligned{window: window}
}

// WindowID returns the discrete window index containing t.
func (p *WindowAligned) WindowID(t time.Time) int64 {
	return t.UnixNano() / int64(p.window)
}

// Stamp records the window in which the record reached a terminal state.
func (p *WindowAligned) Stamp(rec *models.PurchaseRecord, now time.Time) {
	rec.CompletedAt = now
	rec.WindowID = p.WindowID(now)
}

// Advance resets terminal records once the current window id has moved past
// the stamped one.
func (p *WindowAligned) Advance(records map[string]models.PurchaseRecord, now time.Time) []string {
	current := p.WindowID(now)
	var reset []string
	for tcin, rec := range records {
		if !rec.Terminal() {
			continue
		}
		if current > rec.WindowID {
			fresh := resetToReady(rec)
			fresh.WindowID = current
			records[tcin] = fresh
			reset = append(reset, tcin)
		}
	}
	return reset
}

// resetToReady clears attempt fields while preserving identity and the
// monotonic attempt count.
func resetToReady(rec models.PurchaseRecord) models.PurchaseRecord {
	return models.PurchaseRecord{
		TCIN:         rec.TCIN,
		Status:       models.StatusReady,
		Title:        rec.Title,
		AttemptCount: rec.AttemptCount,
	}
}
