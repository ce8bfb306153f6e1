package apportion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApportion(t *testing.T) {
	tests := []struct {
		name          string
		inventory     map[string]int
		demand        int
		ensureMinimum bool
		want          map[string]int
	}{
		{
			name:      "empty inventory",
			inventory: map[string]int{},
			demand:    5,
			want:      map[string]int{},
		},
		{
			name:      "zero demand",
			inventory: map[string]int{"B1": 3, "B2": 4},
			demand:    0,
			want:      map[string]int{"B1": 0, "B2": 0},
		},
		{
			name:          "scarcity gives top bulls one each",
			inventory:     map[string]int{"B1": 5, "B2": 5, "B3": 5},
			demand:        2,
			ensureMinimum: true,
			want:          map[string]int{"B1": 1, "B2": 1, "B3": 0},
		},
		{
			name:          "scarcity ranks by inventory",
			inventory:     map[string]int{"B1": 1, "B2": 9, "B3": 4},
			demand:        2,
			ensureMinimum: true,
			want:          map[string]int{"B1": 0, "B2": 1, "B3": 1},
		},
		{
			name:      "largest remainder",
			inventory: map[string]int{"B1": 3, "B2": 2, "B3": 1},
			demand:    4,
			want:      map[string]int{"B1": 2, "B2": 1, "B3": 1},
		},
		{
			name:      "exact proportional split",
			inventory: map[string]int{"B1": 10, "B2": 30},
			demand:    8,
			want:      map[string]int{"B1": 2, "B2": 6},
		},
		{
			name:          "minimum guarantee transfers from largest",
			inventory:     map[string]int{"A": 1, "B": 1, "C": 10},
			demand:        3,
			ensureMinimum: true,
			want:          map[string]int{"A": 1, "B": 1, "C": 1},
		},
		{
			name:      "without minimum guarantee small bulls get nothing",
			inventory: map[string]int{"A": 1, "B": 1, "C": 10},
			demand:    3,
			want:      map[string]int{"A": 0, "B": 0, "C": 3},
		},
		{
			name:          "demand above total inventory is capped",
			inventory:     map[string]int{"B1": 2, "B2": 1},
			demand:        10,
			ensureMinimum: true,
			want:          map[string]int{"B1": 2, "B2": 1},
		},
		{
			name:      "non-positive entries are ignored",
			inventory: map[string]int{"B1": 4, "B2": 0, "B3": -1},
			demand:    2,
			want:      map[string]int{"B1": 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apportion(tt.inventory, tt.demand, tt.ensureMinimum)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApportion_Conservation(t *testing.T) {
	inventories := []map[string]int{
		{"B1": 7, "B2": 3, "B3": 3, "B4": 1},
		{"B1": 1, "B2": 1, "B3": 1, "B4": 1, "B5": 20},
		{"B1": 13, "B2": 17, "B3": 19},
		{"B1": 2, "B2": 2, "B3": 2},
	}
	for i, inv := range inventories {
		total := 0
		for _, n := range inv {
			total += n
		}
		for demand := len(inv); demand <= total; demand++ {
			for _, ensure := range []bool{false, true} {
				t.Run(fmt.Sprintf("inv%d/d%d/min=%v", i, demand, ensure), func(t *testing.T) {
					quota := Apportion(inv, demand, ensure)
					assert.Equal(t, demand, Sum(quota))
					for id, q := range quota {
						assert.LessOrEqual(t, q, inv[id], "bull %s over its inventory", id)
						assert.GreaterOrEqual(t, q, 0)
					}
				})
			}
		}
	}
}

func TestApportion_MinimumGuarantee(t *testing.T) {
	inv := map[string]int{"B1": 1, "B2": 1, "B3": 1, "B4": 30}
	for demand := len(inv); demand <= 12; demand++ {
		quota := Apportion(inv, demand, true)
		for id := range inv {
			assert.GreaterOrEqual(t, quota[id], 1, "demand %d: bull %s left without quota", demand, id)
		}
	}
}

func TestApportion_StopsWhenNoDonor(t *testing.T) {
	// Ten bulls, ten slots: every bull already holds exactly one.
	inv := make(map[string]int)
	for i := 0; i < 10; i++ {
		inv[fmt.Sprintf("B%02d", i)] = 1
	}
	quota := Apportion(inv, 10, true)
	for id, q := range quota {
		assert.Equal(t, 1, q, id)
	}
}

func TestApportion_Deterministic(t *testing.T) {
	inv := map[string]int{"B1": 3, "B2": 3, "B3": 3, "B4": 3}
	first := Apportion(inv, 6, true)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Apportion(inv, 6, true))
	}
	// Equal remainders resolve in ID order.
	assert.Equal(t, map[string]int{"B1": 2, "B2": 2, "B3": 1, "B4": 1}, first)
}
