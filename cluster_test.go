package ovnet

import (
	"testing"
	"time"
)

func TestClusterSweepDeadMarksSilentMembersOnce(t *testing.T) {
	c := NewCluster(1, 100*time.Millisecond, nil, nil)
	c.members[2] = &clusterMember{id: 2, alive: true, lastHeartbeat: 0}
	c.members[3] = &clusterMember{id: 3, alive: true, lastHeartbeat: 1000}

	dead := c.sweepDead(2000) // member 3 has been silent for 1000ms > 100ms timeout
	if len(dead) != 1 || dead[0] != 3 {
		t.Fatalf("expected member 3 to be swept dead, got %v", dead)
	}
	if c.members[3].alive {
		t.Fatal("expected member 3 to be marked not alive")
	}

	// A second sweep should not report the same member again (spec.md's
	// "exactly once per transition").
	dead = c.sweepDead(3000)
	if len(dead) != 0 {
		t.Fatalf("expected no members reported on a repeated sweep, got %v", dead)
	}
}

func TestClusterRedirectTargetPicksLowestCost(t *testing.T) {
	geo := func(memberID uint, ep InetAddr) (float64, float64) {
		costs := map[uint]float64{0: 100, 2: 50, 3: 10}
		return costs[0], costs[memberID]
	}
	c := NewCluster(1, 100*time.Millisecond, geo, nil)
	c.members[2] = &clusterMember{id: 2, alive: true}
	c.members[3] = &clusterMember{id: 3, alive: true}

	id, ok := c.RedirectTarget(InetAddr{})
	if !ok || id != 3 {
		t.Fatalf("expected redirect to the lowest-cost member (3), got id=%d ok=%v", id, ok)
	}
}

func TestClusterRedirectTargetNoneCloser(t *testing.T) {
	geo := func(memberID uint, ep InetAddr) (float64, float64) {
		return 1, 100 // every sibling is more expensive than the local instance
	}
	c := NewCluster(1, 100*time.Millisecond, geo, nil)
	c.members[2] = &clusterMember{id: 2, alive: true}

	if _, ok := c.RedirectTarget(InetAddr{}); ok {
		t.Fatal("expected no redirect when every sibling is more expensive than the local instance")
	}
}

func TestClusterStatusSnapshot(t *testing.T) {
	c := NewCluster(9, 100*time.Millisecond, nil, nil)
	c.members[1] = &clusterMember{id: 1, alive: true, lastHeartbeat: 50}
	st := c.Status()
	if st.MyID != 9 {
		t.Fatalf("expected MyID 9, got %d", st.MyID)
	}
	if len(st.Members) != 1 || st.Members[0].ID != 1 {
		t.Fatalf("expected one member status entry for id 1, got %+v", st.Members)
	}
}
