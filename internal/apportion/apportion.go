// Package apportion converts bull inventories and a cohort size into integer
// first-choice quotas using largest-remainder (Hare quota) apportionment with
// an optional minimum-one guarantee.
package apportion

import (
	"sort"
)

// Apportion distributes demandCount first-choice slots across bulls in
// proportion to their inventory.
//
// Inventory values are expected to be strictly positive; non-positive entries
// are ignored and receive no key in the result. The result never assigns a bull
// more than its inventory. Outside the scarcity branch the quotas sum to
// min(demandCount, total inventory).
func Apportion(inventory map[string]int, demandCount int, ensureMinimum bool) map[string]int {
	ids := positiveIDs(inventory)
	quota := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return quota
	}
	for _, id := range ids {
		quota[id] = 0
	}
	if demandCount <= 0 {
		return quota
	}

	if ensureMinimum && len(ids) > demandCount {
		for _, id := range byInventoryDesc(ids, inventory)[:demandCount] {
			quota[id] = 1
		}
		return quota
	}

	largestRemainder(ids, inventory, demandCount, quota)

	if ensureMinimum {
		guaranteeMinimum(ids, quota)
	}
	return quota
}

// largestRemainder fills quota using exact integer arithmetic so that equal
// fractional remainders compare equal.
func largestRemainder(ids []string, inventory map[string]int, demandCount int, quota map[string]int) {
	total := 0
	for _, id := range ids {
		total += inventory[id]
	}
	seats := demandCount
	if seats > total {
		seats = total
	}

	type share struct {
		id        string
		remainder int // numerator over total
	}
	shares := make([]share, 0, len(ids))
	allocated := 0
	for _, id := range ids {
		num := seats * inventory[id]
		quota[id] = num / total
		allocated += quota[id]
		shares = append(shares, share{id: id, remainder: num % total})
	}

	sort.SliceStable(shares, func(i, j int) bool {
		return shares[i].remainder > shares[j].remainder
	})
	for i := 0; allocated < seats && i < len(shares); i++ {
		if shares[i].remainder == 0 {
			break
		}
		quota[shares[i].id]++
		allocated++
	}
}

// guaranteeMinimum moves single units from the largest quota to bulls left at
// zero while the donor still holds more than one.
func guaranteeMinimum(ids []string, quota map[string]int) {
	for {
		zero := ""
		for _, id := range ids {
			if quota[id] == 0 {
				zero = id
				break
			}
		}
		if zero == "" {
			return
		}

		donor := ids[0]
		for _, id := range ids[1:] {
			if quota[id] > quota[donor] {
				donor = id
			}
		}
		if quota[donor] <= 1 {
			return
		}
		quota[donor]--
		quota[zero]++
	}
}

// positiveIDs returns the bulls with positive inventory in ID order, which is
// the tie-break order for every ranking in this package.
func positiveIDs(inventory map[string]int) []string {
	ids := make([]string, 0, len(inventory))
	for id, n := range inventory {
		if n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func byInventoryDesc(ids []string, inventory map[string]int) []string {
	ranked := append([]string(nil), ids...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return inventory[ranked[i]] > inventory[ranked[j]]
	})
	return ranked
}

// Sum returns the total of all quotas.
func Sum(quota map[string]int) int {
	var n int
	for _, q := range quota {
		n += q
	}
	return n
}
