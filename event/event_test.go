package event

import "testing"

func TestAddFiresAfterDelay(t *testing.T) {
	s := New()
	fired := false
	s.Add("owner", func(arg int) { fired = true }, 10, 0)

	s.Advance(9)
	if fired {
		t.Fatal("fired too early")
	}
	s.Advance(1)
	if !fired {
		t.Fatal("did not fire at delay boundary")
	}
}

func TestAddZeroDelayFiresSynchronously(t *testing.T) {
	s := New()
	fired := false
	s.Add("owner", func(arg int) { fired = true }, 0, 0)
	if !fired {
		t.Fatal("zero-delay event did not fire immediately")
	}
}

func TestEventsFireInDelayOrder(t *testing.T) {
	s := New()
	var order []int
	s.Add("a", func(arg int) { order = append(order, arg) }, 30, 1)
	s.Add("b", func(arg int) { order = append(order, arg) }, 10, 2)
	s.Add("c", func(arg int) { order = append(order, arg) }, 20, 3)

	s.Advance(30)
	if len(order) != 3 || order[0] != 2 || order[1] != 3 || order[2] != 1 {
		t.Fatalf("fire order = %v, want [2 3 1]", order)
	}
}

func TestCancelRemovesMatchingEvent(t *testing.T) {
	s := New()
	fired := false
	s.Add("owner", func(arg int) { fired = true }, 10, 5)
	s.Cancel("owner", 5)

	s.Advance(100)
	if fired {
		t.Fatal("cancelled event still fired")
	}
}

func TestCancelLeavesLaterEventIntact(t *testing.T) {
	s := New()
	var fired []int
	s.Add("a", func(arg int) { fired = append(fired, arg) }, 10, 1)
	s.Add("b", func(arg int) { fired = append(fired, arg) }, 20, 2)

	s.Cancel("a", 1)
	s.Advance(20)

	if len(fired) != 1 || fired[0] != 2 {
		t.Fatalf("fired = %v, want [2]", fired)
	}
}
