package purchase

import (
	"sort"

	"github.com/atmosphericc/stockwatch/models"
)

// Admission enforces the concurrency policy: how many items may be
// attempting at once, and which eligible items start first. It only
// decides; the coordinator performs the transitions.
type Admission struct {
	maxConcurrent int
	priority      map[string]int
}

// NewAdmission builds an admission controller. priorityOrder is an optional
// ordered list of TCINs admitted first; items not on the list are ordered
// lexicographically after it.
func NewAdmission(maxConcurrent int, priorityOrder []string) *Admission {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	priority := make(map[string]int, len(priorityOrder))
	for i, tcin := range priorityOrder {
		if _, seen := priority[tcin]; !seen {
			priority[tcin] = i
		}
	}
	return &Admission{maxConcurrent: maxConcurrent, priority: priority}
}

// Select returns the ordered TCINs that may transition to attempting this
// tick. An item is eligible when its record is ready and the availability
// map marks it available; absence from the map means "not observed", not
// "unavailable". Selection stops once running plus selected attempts would
// reach the concurrency cap; items beyond capacity stay ready and are
// reconsidered next tick.
func (a *Admission) Select(records map[string]models.PurchaseRecord, available map[string]bool) []string {
	capacity := a.maxConcurrent
	for _, rec := range records {
		if rec.Status == models.StatusAttempting {
			capacity--
		}
	}
	if capacity <= 0 {
		return nil
	}

	var eligible []string
	for tcin, rec := range records {
		if rec.Status == models.StatusReady && available[tcin] {
			eligible = append(eligible, tcin)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		return a.less(eligible[i], eligible[j])
	})

	if len(eligible) > capacity {
		eligible = eligible[:capacity]
	}
	return eligible
}

func (a *Admission) less(x, y string) bool {
	px, okx := a.priority[x]
	py, oky := a.priority[y]
	switch {
	case okx && oky:
		return px < py
	case okx:
		return true
	case oky:
		return false
	default:
		return x < y
	}
}
