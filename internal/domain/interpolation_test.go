package domain

import "testing"

func TestInterpolationConverges(t *testing.T) {
	st := NewInterpolation(100, 101, 0.5, 1.2, 8)

	var price, change float64
	var done bool
	steps := 0
	for !done {
		price, change, done = st.Advance()
		steps++
		if steps > 8 {
			t.Fatalf("interpolation did not finish within MaxSteps")
		}
	}

	if price != 101 {
		t.Errorf("expected final price exactly 101, got %v", price)
	}
	if change != 1.2 {
		t.Errorf("expected final change exactly 1.2, got %v", change)
	}
	if st.Active {
		t.Errorf("state should be inactive after final step")
	}
}

func TestInterpolationEaseOutFrontLoaded(t *testing.T) {
	st := NewInterpolation(100, 200, 0, 0, 10)

	first, _, _ := st.Advance()
	firstDelta := first - 100

	// linear motion would move 10 per step; ease-out must move more up front
	if firstDelta <= 10 {
		t.Errorf("expected front-loaded first step, moved only %v", firstDelta)
	}

	prev := first
	for {
		p, _, done := st.Advance()
		if p < prev {
			t.Fatalf("price regressed from %v to %v", prev, p)
		}
		prev = p
		if done {
			break
		}
	}
}

func TestInterpolationAdvanceAfterDone(t *testing.T) {
	st := NewInterpolation(1, 2, 0, 0, 1)

	p, _, done := st.Advance()
	if !done || p != 2 {
		t.Fatalf("single-step animation should finish immediately at end value, got %v done=%v", p, done)
	}

	// further advances stay pinned at the end value
	p, _, done = st.Advance()
	if !done || p != 2 {
		t.Errorf("advance after done should return end value, got %v done=%v", p, done)
	}
}
