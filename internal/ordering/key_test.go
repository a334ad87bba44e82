package ordering

import (
	"sort"
	"testing"
)

func TestBetween_OrdersCorrectly(t *testing.T) {
	tests := []struct {
		name        string
		left, right string
	}{
		{"no bounds", "", ""},
		{"append only", "M", ""},
		{"prepend only", "", "M"},
		{"adjacent single chars", "A", "B"},
		{"far apart", "A", "z"},
		{"shared prefix", "AB", "AC"},
		{"left is prefix of right", "A", "AB"},
		{"very tight gap", "A0", "A1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mid := Between(tt.left, tt.right)
			if mid == "" {
				t.Fatalf("Between(%q, %q) returned empty key", tt.left, tt.right)
			}
			if tt.left != "" && !(tt.left < mid) {
				t.Errorf("Between(%q, %q) = %q, want > left", tt.left, tt.right, mid)
			}
			if tt.right != "" && !(mid < tt.right) {
				t.Errorf("Between(%q, %q) = %q, want < right", tt.left, tt.right, mid)
			}
		})
	}
}

func TestAppend_ProducesIncreasingSequence(t *testing.T) {
	keys := make([]string, 0, 20)
	last := ""
	for i := 0; i < 20; i++ {
		k := Append(last)
		keys = append(keys, k)
		if last != "" && !(last < k) {
			t.Fatalf("Append iteration %d: %q is not > previous %q", i, k, last)
		}
		last = k
	}
	if !sort.StringsAreSorted(keys) {
		t.Errorf("appended keys are not monotonically increasing: %v", keys)
	}
}

func TestPrepend_ProducesDecreasingSequence(t *testing.T) {
	first := ""
	for i := 0; i < 20; i++ {
		k := Prepend(first)
		if first != "" && !(k < first) {
			t.Fatalf("Prepend iteration %d: %q is not < previous first %q", i, k, first)
		}
		first = k
	}
}

func TestBetween_RepeatedInsertionNeverRewritesNeighbors(t *testing.T) {
	left, right := "A", "B"
	for i := 0; i < 30; i++ {
		mid := Between(left, right)
		if !(left < mid && mid < right) {
			t.Fatalf("iteration %d: Between(%q,%q) = %q violates ordering", i, left, right, mid)
		}
		// Narrow the gap from the left side; `right` (the neighbor we
		// didn't touch) must never change, by construction — Between
		// never mutates its arguments, only returns a new key.
		left = mid
	}
}

func TestBetween_NeverEqualToBounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		left := Append("")
		right := Append(left)
		mid := Between(left, right)
		if mid == left || mid == right {
			t.Fatalf("Between(%q, %q) = %q, collided with a bound", left, right, mid)
		}
	}
}
