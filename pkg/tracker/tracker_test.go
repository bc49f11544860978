package tracker

import (
	"reflect"
	"testing"
)

func TestMarkDoneShrinksSet(t *testing.T) {
	tr := New()
	tr.Init([]string{"a", "b"})

	tr.MarkDone([]string{"a"})
	if tr.Empty() {
		t.Fatal("set should not be empty after removing one of two ids")
	}
	if got := tr.Remaining(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("Remaining() = %v, want [b]", got)
	}

	tr.MarkDone([]string{"b"})
	if !tr.Empty() {
		t.Fatalf("set should be empty, still has %v", tr.Remaining())
	}
}

func TestMarkDoneUnknownIDIsNoop(t *testing.T) {
	tr := New()
	tr.Init([]string{"a"})

	tr.MarkDone([]string{"zzz"})
	if tr.Empty() {
		t.Fatal("removing an unknown id must not affect the set")
	}

	// Repeated removal of an already-removed id is also a no-op.
	tr.MarkDone([]string{"a"})
	tr.MarkDone([]string{"a"})
	if !tr.Empty() {
		t.Fatal("set should be empty after removing its only member")
	}
}

func TestMarkAllDoneClearsEverything(t *testing.T) {
	tr := New()
	tr.Init([]string{"x", "y", "z"})

	tr.MarkAllDone()
	if !tr.Empty() {
		t.Fatalf("MarkAllDone left %v in the set", tr.Remaining())
	}
}

func TestInitReplacesWholesale(t *testing.T) {
	tr := New()
	tr.Init([]string{"a", "b"})
	tr.MarkDone([]string{"a"})

	tr.Init([]string{"c"})
	if got := tr.Remaining(); !reflect.DeepEqual(got, []string{"c"}) {
		t.Fatalf("Remaining() = %v, want [c]", got)
	}
}

func TestEmptyOnFreshTracker(t *testing.T) {
	tr := New()
	if !tr.Empty() {
		t.Fatal("fresh tracker should be empty")
	}
	tr.Init(nil)
	if !tr.Empty() {
		t.Fatal("tracker initialized with no ids should be empty")
	}
}
