package notify

import "testing"

func TestNextBalanceThreshold_FiresInDescendingOrder(t *testing.T) {
	thresholds := []int{50, 20, 10, 5}

	var last *int
	seq := []float64{49, 19, 9, 4}
	var fired []int
	for _, balance := range seq {
		next := NextBalanceThreshold(balance, thresholds, last)
		if next == nil {
			t.Fatalf("expected a threshold to fire at balance %v", balance)
		}
		fired = append(fired, *next)
		last = next
	}

	want := []int{50, 20, 10, 5}
	for i, w := range want {
		if fired[i] != w {
			t.Fatalf("expected threshold sequence %v, got %v", want, fired)
		}
	}
}

func TestNextBalanceThreshold_NoDuplicateAtSameLevel(t *testing.T) {
	thresholds := []int{50, 20, 10, 5}
	last := 50
	if got := NextBalanceThreshold(48, thresholds, &last); got != nil {
		t.Fatalf("expected no re-fire at the same threshold, got %v", *got)
	}
}

func TestNextBalanceThreshold_CreditResetAllowsFullSequenceAgain(t *testing.T) {
	thresholds := []int{50, 20, 10, 5}
	last := 5 // episode fully fired

	// A credit moves the balance back up; caller resets last to nil.
	var reset *int
	next := NextBalanceThreshold(49, thresholds, reset)
	if next == nil || *next != 50 {
		t.Fatalf("expected threshold 50 to fire again after reset, got %v", next)
	}
	_ = last
}
