package allocator

import (
	"github.com/shopspring/decimal"

	"github.com/herdline/breeding-cli/internal/model"
)

type ledgerEntry struct {
	bull      model.Bull
	original  int
	remaining int
}

// Ledger tracks the remaining inventory of every bull during one run. It is
// owned exclusively by a single AllocationRun; remaining counts only go down.
type Ledger struct {
	order   []string
	entries map[string]*ledgerEntry
}

// NewLedger builds a ledger from the loaded bulls. Bulls with a non-positive
// count are kept with zero remaining so they still show up in usage reports.
// A repeated bull ID keeps the first occurrence.
func NewLedger(bulls []model.Bull) *Ledger {
	l := &Ledger{entries: make(map[string]*ledgerEntry, len(bulls))}
	for _, b := range bulls {
		if _, dup := l.entries[b.ID]; dup {
			continue
		}
		n := b.Count
		if n < 0 {
			n = 0
		}
		l.order = append(l.order, b.ID)
		l.entries[b.ID] = &ledgerEntry{bull: b, original: n, remaining: n}
	}
	return l
}

// Bull returns the bull registered under id.
func (l *Ledger) Bull(id string) (model.Bull, bool) {
	e, ok := l.entries[id]
	if !ok {
		return model.Bull{}, false
	}
	return e.bull, true
}

// Remaining returns the live inventory of a bull; unknown bulls have none.
func (l *Ledger) Remaining(id string) int {
	if e, ok := l.entries[id]; ok {
		return e.remaining
	}
	return 0
}

// Take consumes one unit and returns the inventory left afterwards.
// It reports false, consuming nothing, when the bull has no inventory.
func (l *Ledger) Take(id string) (int, bool) {
	e, ok := l.entries[id]
	if !ok || e.remaining <= 0 {
		return 0, false
	}
	e.remaining--
	return e.remaining, true
}

// Available returns the positive remaining inventory of a class keyed by bull.
func (l *Ledger) Available(class model.SemenClass) map[string]int {
	out := make(map[string]int)
	for _, id := range l.order {
		e := l.entries[id]
		if e.bull.Class == class && e.remaining > 0 {
			out[id] = e.remaining
		}
	}
	return out
}

// Total returns the remaining inventory across all bulls of a class.
func (l *Ledger) Total(class model.SemenClass) int {
	var n int
	for _, id := range l.order {
		if e := l.entries[id]; e.bull.Class == class {
			n += e.remaining
		}
	}
	return n
}

// Snapshot returns the remaining inventory of every bull.
func (l *Ledger) Snapshot() map[string]int {
	out := make(map[string]int, len(l.entries))
	for id, e := range l.entries {
		out[id] = e.remaining
	}
	return out
}

// Usage reports per-bull consumption in ledger order. Utilization is a
// percentage rounded to two decimals.
func (l *Ledger) Usage() []model.UsageRow {
	rows := make([]model.UsageRow, 0, len(l.order))
	hundred := decimal.NewFromInt(100)
	for _, id := range l.order {
		e := l.entries[id]
		used := e.original - e.remaining
		util := decimal.Zero
		if e.original > 0 {
			util = decimal.NewFromInt(int64(used)).
				Mul(hundred).
				Div(decimal.NewFromInt(int64(e.original))).
				Round(2)
		}
		rows = append(rows, model.UsageRow{
			BullID:      id,
			Class:       e.bull.Class,
			Original:    e.original,
			Used:        used,
			Remaining:   e.remaining,
			Utilization: util.InexactFloat64(),
		})
	}
	return rows
}
