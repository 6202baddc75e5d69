package ovnet

import (
	"testing"
	"time"
)

func TestMulticasterLikersMostRecentFirst(t *testing.T) {
	m := newMulticaster(256, 5*time.Minute)
	nwid := uint64(1)
	group := MulticastGroup{MAC: MAC{0x01, 0, 0, 0, 0, 1}}
	a, b, c := AddressFromUint64(1), AddressFromUint64(2), AddressFromUint64(3)
	m.like(nwid, group, a, 100)
	m.like(nwid, group, b, 300)
	m.like(nwid, group, c, 200)

	got := m.Likers(nwid, group, 0)
	want := []Address{b, c, a}
	if len(got) != len(want) {
		t.Fatalf("got %d likers, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("liker order mismatch at %d: got %v want %v (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestMulticasterLikersRespectsLimit(t *testing.T) {
	m := newMulticaster(256, 5*time.Minute)
	nwid := uint64(1)
	group := MulticastGroup{MAC: MAC{0x01, 0, 0, 0, 0, 1}}
	for i := 0; i < 10; i++ {
		m.like(nwid, group, AddressFromUint64(uint64(i+1)), Timestamp(i))
	}
	got := m.Likers(nwid, group, 3)
	if len(got) != 3 {
		t.Fatalf("expected limit to cap returned likers at 3, got %d", len(got))
	}
}

func TestNeedsGatherBelowLimit(t *testing.T) {
	m := newMulticaster(256, 5*time.Minute)
	nwid := uint64(1)
	group := MulticastGroup{MAC: MAC{0x01, 0, 0, 0, 0, 1}}
	gatherTimeout := 1000 * time.Millisecond
	if !m.needsGather(nwid, group, 10, 0, gatherTimeout) {
		t.Fatal("expected needsGather to report true when no likers are known yet")
	}
	m.markGatherSent(nwid, group, 0)
	if m.needsGather(nwid, group, 10, 500, gatherTimeout) {
		t.Fatal("expected needsGather to be suppressed while a gather is still within its dedup window")
	}
	if !m.needsGather(nwid, group, 10, 2000, gatherTimeout) {
		t.Fatal("expected needsGather to fire again once the dedup window has elapsed")
	}
}

func TestNeedsGatherFalseOnceSatisfied(t *testing.T) {
	m := newMulticaster(256, 5*time.Minute)
	nwid := uint64(1)
	group := MulticastGroup{MAC: MAC{0x01, 0, 0, 0, 0, 1}}
	for i := 0; i < 5; i++ {
		m.like(nwid, group, AddressFromUint64(uint64(i+1)), Timestamp(i))
	}
	if m.needsGather(nwid, group, 5, 0, time.Second) {
		t.Fatal("expected needsGather to report false once liker count meets the limit")
	}
}
