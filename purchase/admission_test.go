package purchase

import (
	"testing"

	"github.com/atmosphericc/stockwatch/models"
	"github.com/stretchr/testify/assert"
)

func ready(tcin string) models.PurchaseRecord {
	return models.PurchaseRecord{TCIN: tcin, Status: models.StatusReady}
}

func attempting(tcin string) models.PurchaseRecord {
	return models.PurchaseRecord{TCIN: tcin, Status: models.StatusAttempting}
}

func TestSelectRespectsCapacity(t *testing.T) {
	a := NewAdmission(3, nil)
	records := map[string]models.PurchaseRecord{
		"1": ready("1"),
		"2": ready("2"),
		"3": ready("3"),
		"4": ready("4"),
	}
	available := map[string]bool{"1": true, "2": true, "3": true, "4": true}

	assert.Equal(t, []string{"1", "2", "3"}, a.Select(records, available))
}

func TestSelectCountsRunningAttempts(t *testing.T) {
	a := NewAdmission(2, nil)
	records := map[string]models.PurchaseRecord{
		"1": attempting("1"),
		"2": ready("2"),
		"3": ready("3"),
	}
	available := map[string]bool{"2": true, "3": true}

	assert.Equal(t, []string{"2"}, a.Select(records, available))
}

func TestSelectNoCapacityReturnsNothing(t *testing.T) {
	a := NewAdmission(1, nil)
	records := map[string]models.PurchaseRecord{
		"1": attempting("1"),
		"2": ready("2"),
	}

	assert.Nil(t, a.Select(records, map[string]bool{"2": true}))
}

func TestSelectSkipsUnavailableAndTerminal(t *testing.T) {
	a := NewAdmission(5, nil)
	records := map[string]models.PurchaseRecord{
		"1": ready("1"),
		"2": ready("2"),
		"3": {TCIN: "3", Status: models.StatusPurchased},
		"4": {TCIN: "4", Status: models.StatusFailed},
	}
	// item 2 has a record but was not observed this tick
	available := map[string]bool{"1": true, "3": true, "4": true}

	assert.Equal(t, []string{"1"}, a.Select(records, available))
}

func TestSelectPriorityOrder(t *testing.T) {
	a := NewAdmission(4, []string{"9", "5"})
	records := map[string]models.PurchaseRecord{
		"1": ready("1"),
		"5": ready("5"),
		"8": ready("8"),
		"9": ready("9"),
	}
	available := map[string]bool{"1": true, "5": true, "8": true, "9": true}

	assert.Equal(t, []string{"9", "5", "1", "8"}, a.Select(records, available))
}

func TestSelectPriorityWinsUnderContention(t *testing.T) {
	a := NewAdmission(1, []string{"B"})
	records := map[string]models.PurchaseRecord{
		"A": ready("A"),
		"B": ready("B"),
	}
	available := map[string]bool{"A": true, "B": true}

	assert.Equal(t, []string{"B"}, a.Select(records, available))
}

func TestNewAdmissionFloorsCapacity(t *testing.T) {
	a := NewAdmission(0, nil)
	records := map[string]models.PurchaseRecord{"1": ready("1")}

	assert.Equal(t, []string{"1"}, a.Select(records, map[string]bool{"1": true}))
}
